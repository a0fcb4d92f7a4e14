// Package scheduler runs the periodic maintenance the identity stores
// need: purging expired magic links, expired device grants, and old
// events. Every node carries a Runner, but a tick only does work on the
// node that currently holds cluster leadership.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-identity/core"
)

// Task is one unit of maintenance work. Run reports how many rows it
// removed so the runner can log useful tick summaries.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Runner ticks on a fixed interval and executes every registered task,
// in registration order, on the leader node only.
type Runner struct {
	leader   core.LeaderOracle
	interval time.Duration
	logger   core.Logger

	mu    sync.Mutex
	tasks []Task

	startOnce sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

func NewRunner(cfg core.SchedulerConfig, leader core.LeaderOracle, logger core.Logger) (*Runner, error) {
	if leader == nil {
		return nil, fmt.Errorf("scheduler: leader oracle is required")
	}
	seconds := cfg.IntervalSeconds
	if seconds <= 0 {
		seconds = core.DefaultConfig().Scheduler.IntervalSeconds
	}
	return &Runner{
		leader:   leader,
		interval: time.Duration(seconds) * time.Second,
		logger:   glog.Ensure(logger),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Register adds a task. Tasks registered after Start still run on the
// next tick.
func (r *Runner) Register(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("scheduler: task name and run function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

// Start launches the tick loop. The first tick fires after one full
// interval so a fresh deployment does not race its own migrations.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.started = true
		r.mu.Unlock()
		go r.run(ctx)
	})
}

func (r *Runner) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single maintenance tick. Followers skip the whole
// tick; task errors are logged and never stop the remaining tasks.
func (r *Runner) RunOnce(ctx context.Context) {
	if !r.leader.IsLeader(ctx) {
		r.logger.Debug("skipping maintenance tick, not the leader")
		return
	}

	r.mu.Lock()
	tasks := make([]Task, len(r.tasks))
	copy(tasks, r.tasks)
	r.mu.Unlock()

	for _, task := range tasks {
		removed, err := task.Run(ctx)
		if err != nil {
			r.logger.Error("maintenance task failed", "task", task.Name, "error", err)
			continue
		}
		if removed > 0 {
			r.logger.Info("maintenance task removed rows", "task", task.Name, "removed", removed)
		} else {
			r.logger.Debug("maintenance task clean", "task", task.Name)
		}
	}
}
