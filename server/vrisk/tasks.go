package vrisk

import (
	"encoding/json"
	"time"
)

// TaskType identifies the kind of work a background task performs. The set
// is closed: the worker refuses to dispatch types it has no runner for, and
// single-flight is enforced per type.
type TaskType string

const (
	TaskTypeHostsImport        TaskType = "hosts_import"
	TaskTypeVMImport           TaskType = "vm_import"
	TaskTypeVMManualImport     TaskType = "vm_manual_import"
	TaskTypeEPSSImport         TaskType = "epss_import"
	TaskTypeExploitDBImport    TaskType = "exploitdb_import"
	TaskTypeCVEImport          TaskType = "cve_import"
	TaskTypeMetasploitDownload TaskType = "metasploit_download"
	TaskTypeArchiveImport      TaskType = "archive_import"
	TaskTypeRiskRecompute      TaskType = "risk_recompute"
	TaskTypeLogCleanup         TaskType = "log_cleanup"
)

// KnownTaskTypes lists every task type the worker can be asked to run.
var KnownTaskTypes = []TaskType{
	TaskTypeHostsImport,
	TaskTypeVMImport,
	TaskTypeVMManualImport,
	TaskTypeEPSSImport,
	TaskTypeExploitDBImport,
	TaskTypeCVEImport,
	TaskTypeMetasploitDownload,
	TaskTypeArchiveImport,
	TaskTypeRiskRecompute,
	TaskTypeLogCleanup,
}

// ValidTaskType reports whether t is one of the known task types.
func ValidTaskType(t TaskType) bool {
	for _, known := range KnownTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusInitializing TaskStatus = "initializing"
	TaskStatusRunning      TaskStatus = "running"
	TaskStatusProcessing   TaskStatus = "processing"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusCancelled    TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// validTaskTransitions encodes the task state machine. Terminal states have
// no entry: transitions out of them are rejected.
var validTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:      {TaskStatusInitializing, TaskStatusRunning, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusInitializing: {TaskStatusRunning, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusRunning:      {TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusProcessing:   {TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
}

// ValidTaskTransition reports whether a task may move from one status to
// another.
func ValidTaskTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, next := range validTaskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task is a row in the background_tasks table. The table doubles as the
// work queue shared by the API and worker processes.
type Task struct {
	ID          uint             `json:"id" db:"id"`
	Type        TaskType         `json:"task_type" db:"task_type"`
	Status      TaskStatus       `json:"status" db:"status"`
	Parameters  *json.RawMessage `json:"parameters,omitempty" db:"parameters"`
	Description string           `json:"description" db:"description"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	TotalRecords     *int    `json:"total_records,omitempty" db:"total_records"`
	ProcessedRecords *int    `json:"processed_records,omitempty" db:"processed_records"`
	ProgressPercent  float64 `json:"progress_percent" db:"progress_percent"`
	CurrentStep      *string `json:"current_step,omitempty" db:"current_step"`
	ErrorMessage     *string `json:"error_message,omitempty" db:"error_message"`

	// Owner is the worker instance that claimed the task, used by restart
	// recovery to spot orphans.
	Owner *string `json:"current_task_owner,omitempty" db:"current_task_owner"`

	// CancelRequested is the cooperative cancellation flag; runners observe
	// it between batches.
	CancelRequested bool `json:"cancel_requested" db:"cancel_requested"`
}

// TaskUpdate carries a partial update to a task row; nil fields are left
// untouched.
type TaskUpdate struct {
	Status           *TaskStatus
	CurrentStep      *string
	ProcessedRecords *int
	TotalRecords     *int
	ProgressPercent  *float64
	ErrorMessage     *string
	StartedAt        *time.Time
	EndTime          *time.Time
	Owner            *string
}
