package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/mock"
	"github.com/vriskhq/vrisk/server/pipeline"
	"github.com/vriskhq/vrisk/server/vrisk"
)

type fakeRunner struct {
	taskType vrisk.TaskType
	runFunc  func(ctx context.Context, task *vrisk.Task, tc *TaskContext) error
	ran      bool
}

func (f *fakeRunner) Type() vrisk.TaskType { return f.taskType }

func (f *fakeRunner) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	f.ran = true
	if f.runFunc != nil {
		return f.runFunc(ctx, task, tc)
	}
	return nil
}

func testWorker(t *testing.T, ds vrisk.Datastore) *Worker {
	t.Helper()
	return NewWorker(ds, kitlog.NewNopLogger(), clock.NewMockClock(), time.Millisecond, t.TempDir())
}

// queueOf returns a ClaimPendingTask implementation that hands out the
// given tasks one by one, then drains.
func queueOf(tasks ...*vrisk.Task) func(ctx context.Context, owner string) (*vrisk.Task, error) {
	i := 0
	return func(ctx context.Context, owner string) (*vrisk.Task, error) {
		if i >= len(tasks) {
			return nil, nil
		}
		t := tasks[i]
		i++
		t.Owner = &owner
		return t, nil
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	w := testWorker(t, new(mock.Store))
	w.Register(&fakeRunner{taskType: vrisk.TaskTypeEPSSImport})
	require.Panics(t, func() {
		w.Register(&fakeRunner{taskType: vrisk.TaskTypeEPSSImport})
	})
}

func TestProcessTasksCompletes(t *testing.T) {
	ds := new(mock.Store)
	ds.ClaimPendingTaskFunc = queueOf(&vrisk.Task{ID: 1, Type: vrisk.TaskTypeEPSSImport, Status: vrisk.TaskStatusInitializing})

	var statuses []vrisk.TaskStatus
	var finalUpdate vrisk.TaskUpdate
	ds.UpdateTaskFunc = func(ctx context.Context, id uint, update vrisk.TaskUpdate) error {
		require.Equal(t, uint(1), id)
		if update.Status != nil {
			statuses = append(statuses, *update.Status)
			finalUpdate = update
		}
		return nil
	}

	w := testWorker(t, ds)
	runner := &fakeRunner{taskType: vrisk.TaskTypeEPSSImport}
	w.Register(runner)

	require.NoError(t, w.ProcessTasks(context.Background()))

	assert.True(t, runner.ran)
	require.Equal(t, []vrisk.TaskStatus{vrisk.TaskStatusRunning, vrisk.TaskStatusCompleted}, statuses)
	require.NotNil(t, finalUpdate.EndTime)
	require.NotNil(t, finalUpdate.ProgressPercent)
	assert.Equal(t, 100.0, *finalUpdate.ProgressPercent)
}

func TestProcessTasksFailure(t *testing.T) {
	ds := new(mock.Store)
	ds.ClaimPendingTaskFunc = queueOf(&vrisk.Task{ID: 2, Type: vrisk.TaskTypeCVEImport, Status: vrisk.TaskStatusInitializing})

	var finalStatus vrisk.TaskStatus
	var errMsg string
	ds.UpdateTaskFunc = func(ctx context.Context, id uint, update vrisk.TaskUpdate) error {
		if update.Status != nil {
			finalStatus = *update.Status
		}
		if update.ErrorMessage != nil {
			errMsg = *update.ErrorMessage
		}
		return nil
	}

	w := testWorker(t, ds)
	w.Register(&fakeRunner{
		taskType: vrisk.TaskTypeCVEImport,
		runFunc: func(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
			return errors.New("feed unreachable")
		},
	})

	require.NoError(t, w.ProcessTasks(context.Background()))
	assert.Equal(t, vrisk.TaskStatusFailed, finalStatus)
	assert.Equal(t, "feed unreachable", errMsg)
}

func TestProcessTasksCancelled(t *testing.T) {
	ds := new(mock.Store)
	ds.ClaimPendingTaskFunc = queueOf(&vrisk.Task{ID: 3, Type: vrisk.TaskTypeRiskRecompute, Status: vrisk.TaskStatusInitializing})

	var finalStatus vrisk.TaskStatus
	var errMsg *string
	ds.UpdateTaskFunc = func(ctx context.Context, id uint, update vrisk.TaskUpdate) error {
		if update.Status != nil {
			finalStatus = *update.Status
			errMsg = update.ErrorMessage
		}
		return nil
	}

	w := testWorker(t, ds)
	w.Register(&fakeRunner{
		taskType: vrisk.TaskTypeRiskRecompute,
		runFunc: func(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
			return ErrCancelled
		},
	})

	require.NoError(t, w.ProcessTasks(context.Background()))
	assert.Equal(t, vrisk.TaskStatusCancelled, finalStatus)
	assert.Nil(t, errMsg)
}

func TestProcessTasksUnknownType(t *testing.T) {
	ds := new(mock.Store)
	ds.ClaimPendingTaskFunc = queueOf(&vrisk.Task{ID: 4, Type: vrisk.TaskType("bogus"), Status: vrisk.TaskStatusInitializing})

	var finalStatus vrisk.TaskStatus
	ds.UpdateTaskFunc = func(ctx context.Context, id uint, update vrisk.TaskUpdate) error {
		if update.Status != nil {
			finalStatus = *update.Status
		}
		return nil
	}

	w := testWorker(t, ds)
	require.NoError(t, w.ProcessTasks(context.Background()))
	assert.Equal(t, vrisk.TaskStatusFailed, finalStatus)
}

func TestStartRecoversAbandonedTasks(t *testing.T) {
	ds := new(mock.Store)
	ds.RecoverAbandonedTasksFunc = func(ctx context.Context) (int, error) {
		return 2, nil
	}
	ds.ClaimPendingTaskFunc = queueOf()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := testWorker(t, ds)
	require.NoError(t, w.Start(ctx))
	assert.True(t, ds.RecoverAbandonedTasksFuncInvoked)
}

func TestTaskContextCancelCheckCached(t *testing.T) {
	ds := new(mock.Store)
	checks := 0
	ds.TaskCancelRequestedFunc = func(ctx context.Context, id uint) (bool, error) {
		checks++
		return checks >= 2, nil
	}

	mockClock := clock.NewMockClock()
	tc := &TaskContext{ds: ds, taskID: 9, clock: mockClock}
	ctx := context.Background()

	// First call hits the database, the next ones inside the window do
	// not.
	assert.False(t, tc.Cancelled(ctx))
	assert.False(t, tc.Cancelled(ctx))
	assert.False(t, tc.Cancelled(ctx))
	assert.Equal(t, 1, checks)

	mockClock.AddTime(6 * time.Second)
	assert.True(t, tc.Cancelled(ctx))
	assert.Equal(t, 2, checks)

	// Once observed, the flag is sticky without further queries.
	assert.True(t, tc.Cancelled(ctx))
	assert.Equal(t, 2, checks)
}

func TestEnqueueTask(t *testing.T) {
	ds := new(mock.Store)
	var got *vrisk.Task
	ds.NewTaskFunc = func(ctx context.Context, task *vrisk.Task) (*vrisk.Task, error) {
		got = task
		return task, nil
	}

	args := HostsImportArgs{Path: "/tmp/upload.csv", Name: "hosts.csv"}
	_, err := EnqueueTask(context.Background(), ds, vrisk.TaskTypeHostsImport, "import uploaded host csv", args)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, vrisk.TaskTypeHostsImport, got.Type)
	assert.Equal(t, vrisk.TaskStatusPending, got.Status)
	require.NotNil(t, got.Parameters)

	var back HostsImportArgs
	require.NoError(t, json.Unmarshal(*got.Parameters, &back))
	assert.Equal(t, args, back)
}

func TestEnqueueTaskRejectsUnknownType(t *testing.T) {
	ds := new(mock.Store)
	_, err := EnqueueTask(context.Background(), ds, vrisk.TaskType("defrag"), "", nil)
	require.Error(t, err)
	assert.True(t, vrisk.IsInvalidArgument(err))
	assert.False(t, ds.NewTaskFuncInvoked)
}

func TestRiskRecomputeSinceFromParameters(t *testing.T) {
	ds := new(mock.Store)
	var gotSince *time.Time
	ds.HostCVEsForRecomputeFunc = func(ctx context.Context, since *time.Time) ([]string, error) {
		gotSince = since
		return nil, nil
	}

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(RiskRecomputeArgs{Since: &since})
	require.NoError(t, err)
	params := json.RawMessage(raw)
	task := &vrisk.Task{ID: 9, Type: vrisk.TaskTypeRiskRecompute, Parameters: &params}

	r := &RiskRecompute{Pipeline: pipeline.New(ds, kitlog.NewNopLogger())}
	tc := &TaskContext{ds: ds, taskID: task.ID, clock: clock.NewMockClock()}
	require.NoError(t, r.Run(context.Background(), task, tc))

	require.NotNil(t, gotSince)
	assert.True(t, gotSince.Equal(since))
}

func TestRiskRecomputeNoParametersIsFullRun(t *testing.T) {
	ds := new(mock.Store)
	called := false
	ds.HostCVEsForRecomputeFunc = func(ctx context.Context, since *time.Time) ([]string, error) {
		called = true
		assert.Nil(t, since)
		return nil, nil
	}

	task := &vrisk.Task{ID: 10, Type: vrisk.TaskTypeRiskRecompute}
	r := &RiskRecompute{Pipeline: pipeline.New(ds, kitlog.NewNopLogger())}
	tc := &TaskContext{ds: ds, taskID: task.ID, clock: clock.NewMockClock()}
	require.NoError(t, r.Run(context.Background(), task, tc))
	assert.True(t, called)
}
