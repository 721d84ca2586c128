package mysql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

const taskColumns = `
    id, task_type, status, parameters, description,
    created_at, updated_at, started_at, end_time,
    total_records, processed_records, progress_percent,
    current_step, error_message, current_task_owner, cancel_requested`

// NewTask inserts a pending task. Single-flight per type is enforced inside
// the insert itself: the row is only written when no task of the same type
// is in a non-terminal state, so two concurrent enqueues cannot both
// succeed.
func (ds *Datastore) NewTask(ctx context.Context, task *vrisk.Task) (*vrisk.Task, error) {
	query := `
INSERT INTO background_tasks (task_type, status, parameters, description)
SELECT ?, ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM background_tasks
    WHERE task_type = ? AND status NOT IN ('completed', 'failed', 'cancelled')
)`

	status := task.Status
	if status == "" {
		status = vrisk.TaskStatusPending
	}

	result, err := ds.writer.ExecContext(ctx, query,
		task.Type, status, task.Parameters, task.Description, task.Type)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "insert task")
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, &vrisk.ConflictError{TaskType: task.Type}
	}

	id, _ := result.LastInsertId()
	task.ID = uint(id) //nolint:gosec // dismiss G115
	task.Status = status

	return ds.Task(ctx, task.ID)
}

func (ds *Datastore) Task(ctx context.Context, id uint) (*vrisk.Task, error) {
	var task vrisk.Task
	err := sqlx.GetContext(ctx, ds.reader, &task,
		`SELECT `+taskColumns+` FROM background_tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, &vrisk.NotFoundError{Entity: "task", ID: id}
	}
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select task")
	}
	return &task, nil
}

func (ds *Datastore) ListActiveTasks(ctx context.Context) ([]*vrisk.Task, error) {
	var tasks []*vrisk.Task
	err := sqlx.SelectContext(ctx, ds.reader, &tasks,
		`SELECT `+taskColumns+` FROM background_tasks
		 WHERE status NOT IN ('completed', 'failed', 'cancelled')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select active tasks")
	}
	return tasks, nil
}

func (ds *Datastore) ListTasksByType(ctx context.Context, taskType vrisk.TaskType, limit int) ([]*vrisk.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	var tasks []*vrisk.Task
	err := sqlx.SelectContext(ctx, ds.reader, &tasks,
		`SELECT `+taskColumns+` FROM background_tasks
		 WHERE task_type = ? ORDER BY created_at DESC LIMIT ?`, taskType, limit)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select tasks by type")
	}
	return tasks, nil
}

// UpdateTask applies a partial update inside a transaction, enforcing the
// state machine: transitions out of terminal states are rejected.
func (ds *Datastore) UpdateTask(ctx context.Context, id uint, update vrisk.TaskUpdate) error {
	return ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
		var current struct {
			Status vrisk.TaskStatus `db:"status"`
		}
		err := sqlx.GetContext(ctx, tx, &current,
			`SELECT status FROM background_tasks WHERE id = ? FOR UPDATE`, id)
		if err == sql.ErrNoRows {
			return &vrisk.NotFoundError{Entity: "task", ID: id}
		}
		if err != nil {
			return ctxerr.Wrap(ctx, err, "lock task row")
		}

		if update.Status != nil {
			if current.Status.Terminal() && *update.Status != current.Status {
				return vrisk.ErrTaskStateTerminal
			}
			if !vrisk.ValidTaskTransition(current.Status, *update.Status) {
				return ctxerr.Errorf(ctx, "invalid task transition %s -> %s", current.Status, *update.Status)
			}
		}

		sets := []string{}
		args := []interface{}{}
		appendSet := func(col string, v interface{}) {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}

		if update.Status != nil {
			appendSet("status", *update.Status)
		}
		if update.CurrentStep != nil {
			appendSet("current_step", *update.CurrentStep)
		}
		if update.ProcessedRecords != nil {
			appendSet("processed_records", *update.ProcessedRecords)
		}
		if update.TotalRecords != nil {
			appendSet("total_records", *update.TotalRecords)
		}
		if update.ProgressPercent != nil {
			appendSet("progress_percent", *update.ProgressPercent)
		}
		if update.ErrorMessage != nil {
			appendSet("error_message", *update.ErrorMessage)
		}
		if update.StartedAt != nil {
			appendSet("started_at", *update.StartedAt)
		}
		if update.EndTime != nil {
			appendSet("end_time", *update.EndTime)
		}
		if update.Owner != nil {
			appendSet("current_task_owner", *update.Owner)
		}

		if len(sets) == 0 {
			return nil
		}

		args = append(args, id)
		query := `UPDATE background_tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return ctxerr.Wrap(ctx, err, "update task")
		}
		return nil
	})
}

// CancelTask sets the cooperative cancellation flag; the running handler
// observes it at the next batch boundary. Cancelling an already terminal
// task is a no-op.
func (ds *Datastore) CancelTask(ctx context.Context, id uint) error {
	result, err := ds.writer.ExecContext(ctx,
		`UPDATE background_tasks SET cancel_requested = 1
		 WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`, id)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "set cancel flag")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		// distinguish missing from already-terminal
		if _, err := ds.Task(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (ds *Datastore) TaskCancelRequested(ctx context.Context, id uint) (bool, error) {
	var requested bool
	err := sqlx.GetContext(ctx, ds.reader, &requested,
		`SELECT cancel_requested FROM background_tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return false, &vrisk.NotFoundError{Entity: "task", ID: id}
	}
	if err != nil {
		return false, ctxerr.Wrap(ctx, err, "select cancel flag")
	}
	return requested, nil
}

// ClaimPendingTask atomically claims the oldest pending task for the given
// worker instance. Returns nil with no error when the queue is empty.
func (ds *Datastore) ClaimPendingTask(ctx context.Context, owner string) (*vrisk.Task, error) {
	var claimed *vrisk.Task
	err := ds.withRetryTxx(ctx, func(tx sqlx.ExtContext) error {
		var task vrisk.Task
		err := sqlx.GetContext(ctx, tx, &task,
			`SELECT `+taskColumns+` FROM background_tasks
			 WHERE status = 'pending' ORDER BY created_at ASC LIMIT 1 FOR UPDATE`)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return ctxerr.Wrap(ctx, err, "select pending task")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE background_tasks
			 SET status = 'initializing', current_task_owner = ?, started_at = NOW()
			 WHERE id = ?`, owner, task.ID)
		if err != nil {
			return ctxerr.Wrap(ctx, err, "claim pending task")
		}

		task.Status = vrisk.TaskStatusInitializing
		task.Owner = &owner
		claimed = &task
		return nil
	})
	return claimed, err
}

// RecoverAbandonedTasks marks worker-claimed non-terminal tasks as failed.
// Called at worker startup before anything is claimed, so surviving claimed
// rows can only be leftovers of a previous worker process. Rows without an
// owner are left alone: pending rows are still claimable, and the archive
// import runs inside the server process without ever claiming its row.
func (ds *Datastore) RecoverAbandonedTasks(ctx context.Context) (int, error) {
	result, err := ds.writer.ExecContext(ctx,
		`UPDATE background_tasks
		 SET status = 'failed', error_message = 'worker restart', end_time = NOW()
		 WHERE status NOT IN ('completed', 'failed', 'cancelled')
		 AND current_task_owner IS NOT NULL`)
	if err != nil {
		return 0, ctxerr.Wrap(ctx, err, "recover abandoned tasks")
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
