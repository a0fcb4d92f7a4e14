package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ StateBackend = (*MemoryBackend)(nil)
	_ LeaderOracle = StaticLeaderOracle(true)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
