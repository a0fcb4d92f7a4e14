// Package core contains the canonical identity state contracts: the pluggable
// StateBackend, the LeaderOracle, configuration, and the error envelope shared
// by every credential manager. Backend implementations and credential managers
// must depend on this package; core must not depend on any of them.
package core
