// Package gojob exposes the identity maintenance tasks to a go-job
// queue. Hosts that already run a job worker pool can enqueue
// maintenance ticks there instead of relying on the in-process
// scheduler loop; leadership gating still happens inside the executor,
// so a fleet of workers stays safe.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-identity/core"
	"github.com/goliatone/go-identity/scheduler"
)

const (
	// JobIDMaintenance is the single job id every maintenance tick is
	// enqueued under; the task parameter selects the work.
	JobIDMaintenance = "identity.maintenance"

	paramTask = "task"
)

// MaintenanceMessage builds the go-job message for one maintenance
// task. The idempotency key folds in the current hour so a requeue
// storm collapses into at most one run per task per hour.
func MaintenanceMessage(taskName string, now time.Time) *job.ExecutionMessage {
	taskName = strings.TrimSpace(taskName)
	return &job.ExecutionMessage{
		JobID:          JobIDMaintenance,
		Parameters:     map[string]any{paramTask: taskName},
		IdempotencyKey: fmt.Sprintf("%s::%s::%s", JobIDMaintenance, taskName, now.UTC().Format("2006-01-02T15")),
	}
}

// TaskExecutor resolves a maintenance message to a registered task and
// runs it, honoring cluster leadership the same way the in-process
// scheduler does.
type TaskExecutor struct {
	leader core.LeaderOracle
	logger core.Logger

	mu    sync.RWMutex
	tasks map[string]scheduler.Task
}

func NewTaskExecutor(leader core.LeaderOracle, logger core.Logger) (*TaskExecutor, error) {
	if leader == nil {
		return nil, fmt.Errorf("gojob: leader oracle is required")
	}
	return &TaskExecutor{
		leader: leader,
		logger: glog.Ensure(logger),
		tasks:  map[string]scheduler.Task{},
	}, nil
}

func (e *TaskExecutor) Register(task scheduler.Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("gojob: task name and run function are required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tasks[task.Name]; exists {
		return fmt.Errorf("gojob: task %q is already registered", task.Name)
	}
	e.tasks[task.Name] = task
	return nil
}

// Execute runs the task a maintenance message names. Unknown tasks are
// an error so the queue can dead-letter them; follower nodes ack the
// message without doing work.
func (e *TaskExecutor) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	if msg.JobID != JobIDMaintenance {
		return fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	name, _ := msg.Parameters[paramTask].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("gojob: maintenance message names no task")
	}

	e.mu.RLock()
	task, ok := e.tasks[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("gojob: unknown maintenance task %q", name)
	}

	if !e.leader.IsLeader(ctx) {
		e.logger.Debug("skipping maintenance job, not the leader", "task", name)
		return nil
	}

	removed, err := task.Run(ctx)
	if err != nil {
		return fmt.Errorf("gojob: maintenance task %s: %w", name, err)
	}
	if removed > 0 {
		e.logger.Info("maintenance job removed rows", "task", name, "removed", removed)
	}
	return nil
}

// Enqueuer pushes maintenance ticks onto a go-job queue.
type Enqueuer struct {
	enqueuer queue.Enqueuer
	now      func() time.Time
}

func NewEnqueuer(enqueuer queue.Enqueuer) (*Enqueuer, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: queue enqueuer is required")
	}
	return &Enqueuer{enqueuer: enqueuer, now: time.Now}, nil
}

// EnqueueTick queues one message per named task.
func (e *Enqueuer) EnqueueTick(ctx context.Context, taskNames ...string) error {
	for _, name := range taskNames {
		if _, err := e.enqueuer.Enqueue(ctx, MaintenanceMessage(name, e.now())); err != nil {
			return fmt.Errorf("gojob: enqueue maintenance tick %s: %w", name, err)
		}
	}
	return nil
}

// LoggingHook reports worker lifecycle transitions through the identity
// logger so maintenance runs show up next to the rest of the module's
// output.
type LoggingHook struct {
	logger core.Logger
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	return &LoggingHook{logger: glog.Ensure(logger)}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("maintenance job started", "task", eventTask(event), "attempt", event.Attempt)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger.Info("maintenance job succeeded", "task", eventTask(event), "duration", event.Duration)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger.Error("maintenance job failed", "task", eventTask(event), "attempt", event.Attempt, "error", event.Err)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger.Warn("maintenance job retrying", "task", eventTask(event), "attempt", event.Attempt, "delay", event.Delay)
}

func eventTask(event worker.Event) string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return ""
	}
	name, _ := message.Parameters[paramTask].(string)
	return name
}

var _ worker.Hook = (*LoggingHook)(nil)
