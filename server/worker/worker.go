// Package worker runs background tasks claimed from the shared
// background_tasks queue. A worker instance recovers orphaned tasks at
// startup, then polls for pending work and dispatches each claimed task to
// the runner registered for its type.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WatchBeam/clock"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/tasklog"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// ErrCancelled is returned by runners that observed the cooperative
// cancellation flag; the worker records the task as cancelled, not failed.
var ErrCancelled = errors.New("task cancelled")

// TaskRunner executes one type of background task.
type TaskRunner interface {
	// Type is the task type this runner handles.
	Type() vrisk.TaskType

	// Run performs the work. Returning ErrCancelled marks the task
	// cancelled; any other error marks it failed.
	Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error
}

// Worker claims and runs background tasks. NOT SAFE FOR CONCURRENT USE;
// run one Worker per process.
type Worker struct {
	ds           vrisk.Datastore
	logger       kitlog.Logger
	clock        clock.Clock
	owner        string
	pollInterval time.Duration
	logsDir      string

	registry map[vrisk.TaskType]TaskRunner
}

func NewWorker(ds vrisk.Datastore, logger kitlog.Logger, c clock.Clock, pollInterval time.Duration, logsDir string) *Worker {
	return &Worker{
		ds:           ds,
		logger:       kitlog.With(logger, "component", "worker"),
		clock:        c,
		owner:        uuid.NewString(),
		pollInterval: pollInterval,
		logsDir:      logsDir,
		registry:     make(map[vrisk.TaskType]TaskRunner),
	}
}

// Owner is the uuid identifying this worker instance in claimed tasks.
func (w *Worker) Owner() string {
	return w.owner
}

func (w *Worker) Register(runners ...TaskRunner) {
	for _, r := range runners {
		t := r.Type()
		if _, ok := w.registry[t]; ok {
			panic(fmt.Sprintf("runner for task type %s already registered", t))
		}
		w.registry[t] = r
	}
}

// Start recovers tasks abandoned by a previous instance, then claims and
// runs pending tasks until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	recovered, err := w.ds.RecoverAbandonedTasks(ctx)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "recover abandoned tasks")
	}
	if recovered > 0 {
		level.Info(w.logger).Log("msg", "recovered abandoned tasks", "count", recovered)
	}
	level.Info(w.logger).Log("msg", "worker started", "owner", w.owner, "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		if err := w.ProcessTasks(ctx); err != nil {
			level.Error(w.logger).Log("msg", "process tasks", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessTasks claims and runs pending tasks until the queue is empty or
// ctx is done.
func (w *Worker) ProcessTasks(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, err := w.ds.ClaimPendingTask(ctx, w.owner)
		if err != nil {
			return ctxerr.Wrap(ctx, err, "claim pending task")
		}
		if task == nil {
			return nil
		}
		w.runTask(ctx, task)
	}
}

func (w *Worker) runTask(ctx context.Context, task *vrisk.Task) {
	log := kitlog.With(w.logger, "task_id", task.ID, "task_type", task.Type)
	level.Info(log).Log("msg", "running task")

	tlog, err := tasklog.New(w.logsDir, task, w.clock)
	if err != nil {
		level.Warn(log).Log("msg", "open task log file", "err", err)
		tlog = nil
	}

	tc := &TaskContext{
		ds:     w.ds,
		taskID: task.ID,
		clock:  w.clock,
		log:    tlog,
	}

	now := w.clock.Now()
	running := vrisk.TaskStatusRunning
	if err := w.ds.UpdateTask(ctx, task.ID, vrisk.TaskUpdate{
		Status:    &running,
		StartedAt: &now,
	}); err != nil {
		level.Error(log).Log("msg", "mark task running", "err", err)
	}

	status := vrisk.TaskStatusCompleted
	runner, ok := w.registry[task.Type]
	runErr := func() error {
		if !ok {
			return ctxerr.Errorf(ctx, "no runner registered for task type %s", task.Type)
		}
		return runner.Run(ctx, task, tc)
	}()

	end := w.clock.Now()
	update := vrisk.TaskUpdate{EndTime: &end}
	switch {
	case runErr == nil:
		hundred := 100.0
		update.ProgressPercent = &hundred
	case errors.Is(runErr, ErrCancelled):
		status = vrisk.TaskStatusCancelled
		level.Info(log).Log("msg", "task cancelled")
	default:
		status = vrisk.TaskStatusFailed
		msg := ctxerr.Cause(runErr).Error()
		update.ErrorMessage = &msg
		level.Error(log).Log("msg", "task failed", "err", runErr)
		tc.Errorf("task failed: %s", msg)
	}
	update.Status = &status

	if err := w.ds.UpdateTask(ctx, task.ID, update); err != nil {
		level.Error(log).Log("msg", "finalize task", "err", err)
	}
	if tlog != nil {
		if err := tlog.Close(status); err != nil {
			level.Warn(log).Log("msg", "close task log file", "err", err)
		}
	}
	if runErr == nil {
		level.Info(log).Log("msg", "task completed")
	}
}

// cancelCheckInterval bounds how often Cancelled hits the database.
const cancelCheckInterval = 5 * time.Second

// TaskContext is handed to runners for progress reporting, cooperative
// cancellation and per-task file logging.
type TaskContext struct {
	ds     vrisk.Datastore
	taskID uint
	clock  clock.Clock
	log    *tasklog.Logger

	lastCancelCheck time.Time
	checkedCancel   bool
	cancelRequested bool
}

// Progress records processed/total counts and the current step on the task
// row. Update failures are logged to the task file and otherwise ignored;
// progress is advisory.
func (tc *TaskContext) Progress(ctx context.Context, processed, total int, step string) {
	update := vrisk.TaskUpdate{
		ProcessedRecords: &processed,
		CurrentStep:      &step,
	}
	if total > 0 {
		update.TotalRecords = &total
		pct := float64(processed) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		update.ProgressPercent = &pct
	}
	if err := tc.ds.UpdateTask(ctx, tc.taskID, update); err != nil {
		tc.Warnf("progress update failed: %s", err)
	}
	tc.Infof("%s: %d/%d", step, processed, total)
}

// SetTotal records the expected record count before processing begins.
func (tc *TaskContext) SetTotal(ctx context.Context, total int) {
	if err := tc.ds.UpdateTask(ctx, tc.taskID, vrisk.TaskUpdate{TotalRecords: &total}); err != nil {
		tc.Warnf("total update failed: %s", err)
	}
}

// Step records the current step without touching the counters.
func (tc *TaskContext) Step(ctx context.Context, step string) {
	if err := tc.ds.UpdateTask(ctx, tc.taskID, vrisk.TaskUpdate{CurrentStep: &step}); err != nil {
		tc.Warnf("step update failed: %s", err)
	}
	tc.Infof("%s", step)
}

// Cancelled reports whether cancellation has been requested for the task.
// The flag is read from the database at most once per cancelCheckInterval;
// once observed true it stays true.
func (tc *TaskContext) Cancelled(ctx context.Context) bool {
	if tc.cancelRequested {
		return true
	}
	now := tc.clock.Now()
	if tc.checkedCancel && now.Sub(tc.lastCancelCheck) < cancelCheckInterval {
		return false
	}
	tc.checkedCancel = true
	tc.lastCancelCheck = now

	requested, err := tc.ds.TaskCancelRequested(ctx, tc.taskID)
	if err != nil {
		tc.Warnf("cancel check failed: %s", err)
		return false
	}
	tc.cancelRequested = requested
	return requested
}

func (tc *TaskContext) Infof(format string, args ...interface{}) {
	if tc.log != nil {
		tc.log.Infof(format, args...)
	}
}

func (tc *TaskContext) Warnf(format string, args ...interface{}) {
	if tc.log != nil {
		tc.log.Warnf(format, args...)
	}
}

func (tc *TaskContext) Errorf(format string, args ...interface{}) {
	if tc.log != nil {
		tc.log.Errorf(format, args...)
	}
}

func (tc *TaskContext) Debugf(format string, args ...interface{}) {
	if tc.log != nil {
		tc.log.Debugf(format, args...)
	}
}

func (tc *TaskContext) Details(title string, kv map[string]interface{}) {
	if tc.log != nil {
		tc.log.Details(title, kv)
	}
}

// EnqueueTask inserts a pending task with JSON-marshaled parameters. The
// datastore enforces single-flight per type and returns a ConflictError
// when a task of the same type is already active.
func EnqueueTask(ctx context.Context, ds vrisk.Datastore, taskType vrisk.TaskType, description string, args interface{}) (*vrisk.Task, error) {
	if !vrisk.ValidTaskType(taskType) {
		return nil, &vrisk.InvalidArgumentError{Name: "type", Reason: fmt.Sprintf("unknown task type %q", taskType)}
	}
	task := &vrisk.Task{
		Type:        taskType,
		Status:      vrisk.TaskStatusPending,
		Description: description,
	}
	if args != nil {
		argsJSON, err := json.Marshal(args)
		if err != nil {
			return nil, ctxerr.Wrap(ctx, err, "marshal task parameters")
		}
		task.Parameters = (*json.RawMessage)(&argsJSON)
	}
	return ds.NewTask(ctx, task)
}
