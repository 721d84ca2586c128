package mysql

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/ptr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

func taskRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "task_type", "status", "parameters", "description",
		"created_at", "updated_at", "started_at", "end_time",
		"total_records", "processed_records", "progress_percent",
		"current_step", "error_message", "current_task_owner", "cancel_requested",
	})
}

func TestNewTask(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO background_tasks")).
		WithArgs(vrisk.TaskTypeEPSSImport, vrisk.TaskStatusPending, nil, "EPSS feed import", vrisk.TaskTypeEPSSImport).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM background_tasks WHERE id = ?")).
		WithArgs(uint(7)).
		WillReturnRows(taskRows().AddRow(
			7, "epss_import", "pending", nil, "EPSS feed import",
			time.Now(), time.Now(), nil, nil,
			nil, nil, 0.0, nil, nil, nil, false,
		))

	task, err := ds.NewTask(context.Background(), &vrisk.Task{
		Type:        vrisk.TaskTypeEPSSImport,
		Description: "EPSS feed import",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(7), task.ID)
	assert.Equal(t, vrisk.TaskStatusPending, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A second enqueue of a type with a non-terminal task inserts nothing and
// reports a conflict.
func TestNewTaskConflict(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO background_tasks")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := ds.NewTask(context.Background(), &vrisk.Task{Type: vrisk.TaskTypeEPSSImport})
	require.Error(t, err)
	assert.True(t, vrisk.IsConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskRejectsTerminal(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM background_tasks WHERE id = ? FOR UPDATE")).
		WithArgs(uint(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	status := vrisk.TaskStatusRunning
	err := ds.UpdateTask(context.Background(), 3, vrisk.TaskUpdate{Status: &status})
	require.ErrorIs(t, err, vrisk.ErrTaskStateTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTask(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM background_tasks WHERE id = ? FOR UPDATE")).
		WithArgs(uint(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE background_tasks SET progress_percent = ?, current_step = ? WHERE id = ?")).
		WithArgs(42.5, "loading batch 9", uint(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ds.UpdateTask(context.Background(), 3, vrisk.TaskUpdate{
		ProgressPercent: ptr.Float64(42.5),
		CurrentStep:     ptr.String("loading batch 9"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelTaskMissing(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec(regexp.QuoteMeta("SET cancel_requested = 1")).
		WithArgs(uint(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM background_tasks WHERE id = ?")).
		WithArgs(uint(99)).
		WillReturnRows(taskRows())

	err := ds.CancelTask(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, vrisk.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

// Cancelling an already terminal task leaves the flag alone and succeeds.
func TestCancelTaskTerminalNoop(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec(regexp.QuoteMeta("SET cancel_requested = 1")).
		WithArgs(uint(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM background_tasks WHERE id = ?")).
		WithArgs(uint(5)).
		WillReturnRows(taskRows().AddRow(
			5, "cve_import", "completed", nil, "",
			time.Now(), time.Now(), nil, nil,
			nil, nil, 100.0, nil, nil, nil, false,
		))

	err := ds.CancelTask(context.Background(), 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingTaskEmptyQueue(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending'")).
		WillReturnRows(taskRows())
	mock.ExpectCommit()

	task, err := ds.ClaimPendingTask(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, task)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingTask(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending'")).
		WillReturnRows(taskRows().AddRow(
			11, "risk_recompute", "pending", nil, "",
			time.Now(), time.Now(), nil, nil,
			nil, nil, 0.0, nil, nil, nil, false,
		))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'initializing', current_task_owner = ?, started_at = NOW()")).
		WithArgs("worker-1", uint(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := ds.ClaimPendingTask(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, uint(11), task.ID)
	assert.Equal(t, vrisk.TaskStatusInitializing, task.Status)
	require.NotNil(t, task.Owner)
	assert.Equal(t, "worker-1", *task.Owner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverAbandonedTasks(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed', error_message = 'worker restart'")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := ds.RecoverAbandonedTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverAbandonedTasksSkipsOwnerless(t *testing.T) {
	ds, mock := mockDatastore(t)

	// The archive import runs in the server process and never claims its
	// row, so recovery must only touch rows with an owner.
	mock.ExpectExec(regexp.QuoteMeta("AND current_task_owner IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := ds.RecoverAbandonedTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
