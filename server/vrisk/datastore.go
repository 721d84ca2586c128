package vrisk

import (
	"context"
	"time"
)

// FeedCounts holds per-table row counts for the status endpoints.
type FeedCounts struct {
	EPSS       int `json:"epss"`
	ExploitDB  int `json:"exploitdb"`
	CVE        int `json:"cve"`
	Metasploit int `json:"metasploit"`
	Hosts      int `json:"hosts"`
}

// Total sums the feed tables (hosts excluded, it is not a feed).
func (c FeedCounts) Total() int {
	return c.EPSS + c.ExploitDB + c.CVE + c.Metasploit
}

// Datastore is the abstract interface to persistent storage.
type Datastore interface {
	///////////////////////////////////////////////////////////////////////////////
	// TaskStore

	// NewTask inserts a pending task, enforcing single-flight per task
	// type atomically: if any task of the same type is non-terminal it
	// returns a *ConflictError and inserts nothing.
	NewTask(ctx context.Context, task *Task) (*Task, error)

	Task(ctx context.Context, id uint) (*Task, error)
	ListActiveTasks(ctx context.Context) ([]*Task, error)
	ListTasksByType(ctx context.Context, taskType TaskType, limit int) ([]*Task, error)

	// UpdateTask applies a partial update; transitions out of terminal
	// states are rejected with ErrTaskStateTerminal.
	UpdateTask(ctx context.Context, id uint, update TaskUpdate) error

	// CancelTask sets the cooperative cancellation flag.
	CancelTask(ctx context.Context, id uint) error
	TaskCancelRequested(ctx context.Context, id uint) (bool, error)

	// ClaimPendingTask atomically claims the oldest pending task for the
	// given worker instance, or returns nil when the queue is empty.
	ClaimPendingTask(ctx context.Context, owner string) (*Task, error)

	// RecoverAbandonedTasks marks every non-terminal task as failed with
	// error message "worker restart". Called once at worker startup,
	// before the dispatch loop claims anything.
	RecoverAbandonedTasks(ctx context.Context) (int, error)

	///////////////////////////////////////////////////////////////////////////////
	// HostStore

	UpsertHosts(ctx context.Context, hosts []Host) error
	CountHosts(ctx context.Context, filter HostListFilter) (int, error)
	ListHosts(ctx context.Context, filter HostListFilter, opts ListOptions) ([]Host, error)

	// ListHostsAfter is the cursored scan: hosts with id > afterID in id
	// order, at most limit rows.
	ListHostsAfter(ctx context.Context, afterID uint, limit int, filter HostListFilter) ([]Host, error)

	// HostCVEsForRecompute returns the distinct CVEs of hosts needing a
	// risk refresh: rows missing epss_score or risk_score, or with
	// risk_updated_at older than since. A nil since selects every
	// distinct CVE (settings changed, everything is stale).
	HostCVEsForRecompute(ctx context.Context, since *time.Time) ([]string, error)

	// UpdateHostRisk applies recompute results as batched UPDATEs.
	UpdateHostRisk(ctx context.Context, updates []HostRiskUpdate) error

	// RefreshHostExploitStats recomputes exploits_count, has_exploits and
	// last_exploit_date for hosts whose CVE is in the set, with set-valued
	// statements.
	RefreshHostExploitStats(ctx context.Context, cves []string) error

	///////////////////////////////////////////////////////////////////////////////
	// FeedStore

	InsertCVEMeta(ctx context.Context, meta []CVEMeta) error
	InsertEPSSScores(ctx context.Context, scores []EPSSScore) error
	InsertExploits(ctx context.Context, exploits []Exploit, links []ExploitCVE) error
	InsertMetasploitModules(ctx context.Context, modules []MetasploitModule, links []MetasploitModuleCVE) error

	EPSSByCVEs(ctx context.Context, cves []string) (map[string]EPSSScore, error)
	CVEMetaByCVEs(ctx context.Context, cves []string) (map[string]CVEMeta, error)
	ExploitInfoByCVEs(ctx context.Context, cves []string) (map[string]ExploitInfo, error)
	MetasploitRankByCVEs(ctx context.Context, cves []string) (map[string]int, error)

	FeedCounts(ctx context.Context) (FeedCounts, error)

	///////////////////////////////////////////////////////////////////////////////
	// SettingsStore

	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}
