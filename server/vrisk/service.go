package vrisk

import (
	"context"
	"io"
)

// ArchiveImportDetail reports one feed's outcome within an archive ingest.
type ArchiveImportDetail struct {
	Database string `json:"database"`
	Records  int    `json:"records"`
	Error    string `json:"error,omitempty"`
}

// ArchiveImportResult is the response of the multi-feed archive upload.
type ArchiveImportResult struct {
	Success           bool                  `json:"success"`
	Cancelled         bool                  `json:"cancelled,omitempty"`
	TotalRecords      int                   `json:"total_records"`
	DatabasesImported []string              `json:"databases_imported"`
	Details           []ArchiveImportDetail `json:"details"`
}

// MetasploitStatus is the feed count plus download state.
type MetasploitStatus struct {
	Count         int   `json:"count"`
	IsDownloading bool  `json:"is_downloading"`
	TaskDetails   *Task `json:"task_details,omitempty"`
}

// ManualImportFilters narrows a re-import of the last saved appliance
// export.
type ManualImportFilters struct {
	CriticalityFilter []string `json:"criticality_filter"`
	OSFilter          []string `json:"os_filter"`
	ZoneFilter        []string `json:"zone_filter"`
}

// Service is the API-facing application surface.
type Service interface {
	// ImportArchive ingests a ZIP of feed files (EPSS/ExploitDB/CVE/MSF),
	// synchronously, recording the run as an archive_import task row.
	ImportArchive(ctx context.Context, name string, r io.ReaderAt, size int64) (*ArchiveImportResult, error)
	ArchiveStatus(ctx context.Context) (FeedCounts, error)

	EnqueueMetasploitDownload(ctx context.Context) (*Task, error)
	MetasploitStatus(ctx context.Context) (*MetasploitStatus, error)

	EnqueueVMImport(ctx context.Context) (*Task, error)
	EnqueueVMManualImport(ctx context.Context, filters ManualImportFilters) (*Task, error)

	// EnqueueHostsImport saves an uploaded host inventory CSV and enqueues
	// a hosts_import task consuming it.
	EnqueueHostsImport(ctx context.Context, name string, r io.Reader) (*Task, error)

	EnqueueRiskRecompute(ctx context.Context) (*Task, error)

	Task(ctx context.Context, id uint) (*Task, error)
	ListActiveTasks(ctx context.Context) ([]*Task, error)
	CancelTask(ctx context.Context, id uint) error

	ListHosts(ctx context.Context, filter HostListFilter, opts ListOptions) ([]Host, error)
	CountHosts(ctx context.Context, filter HostListFilter) (int, error)
	// ExportHostsCSV streams every matching host row to w as CSV.
	ExportHostsCSV(ctx context.Context, w io.Writer, filter HostListFilter) error

	Settings(ctx context.Context) (map[string]string, error)
	// UpdateSettings validates and writes the provided keys, then enqueues
	// a risk_recompute task.
	UpdateSettings(ctx context.Context, values map[string]string) (*Task, error)
}
