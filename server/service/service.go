// Package service implements the vrisk API surface: go-kit endpoints over
// the datastore, the import pipelines and the background task queue.
package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/WatchBeam/clock"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/pipeline"
	"github.com/vriskhq/vrisk/server/vrisk"
	"github.com/vriskhq/vrisk/server/worker"
)

// Service is the concrete implementation of vrisk.Service.
type Service struct {
	ds       vrisk.Datastore
	pipeline *pipeline.Pipeline
	logger   kitlog.Logger
	clock    clock.Clock
	dataDir  string
}

var _ vrisk.Service = (*Service)(nil)

func NewService(ds vrisk.Datastore, p *pipeline.Pipeline, logger kitlog.Logger, c clock.Clock, dataDir string) *Service {
	return &Service{
		ds:       ds,
		pipeline: p,
		logger:   kitlog.With(logger, "component", "service"),
		clock:    c,
		dataDir:  dataDir,
	}
}

///////////////////////////////////////////////////////////////////////////////
// Archive

// ImportArchive runs the multi-feed archive ingest synchronously, recording
// the run as an archive_import task row so it shows up in the task API and
// respects the single-flight rule.
func (svc *Service) ImportArchive(ctx context.Context, name string, r io.ReaderAt, size int64) (*vrisk.ArchiveImportResult, error) {
	// The task row is inserted already running: the import executes in
	// this process, the row exists for visibility and the single-flight
	// rule. Inserting it pending would let the worker claim it.
	task, err := svc.ds.NewTask(ctx, &vrisk.Task{
		Type:        vrisk.TaskTypeArchiveImport,
		Status:      vrisk.TaskStatusRunning,
		Description: fmt.Sprintf("import archive %s", name),
	})
	if err != nil {
		return nil, err
	}

	now := svc.clock.Now()
	if err := svc.ds.UpdateTask(ctx, task.ID, vrisk.TaskUpdate{StartedAt: &now}); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "mark archive import started")
	}

	res, impErr := svc.pipeline.ImportArchive(ctx, r, size, pipeline.RunOptions{
		Progress: func(processed, total int, step string) {
			svc.taskProgress(ctx, task.ID, processed, total, step)
		},
		Cancelled: svc.cancelPoller(ctx, task.ID),
	})

	end := svc.clock.Now()
	status := vrisk.TaskStatusCompleted
	update := vrisk.TaskUpdate{EndTime: &end}
	switch {
	case impErr != nil:
		status = vrisk.TaskStatusFailed
		msg := impErr.Error()
		update.ErrorMessage = &msg
	case res != nil && res.Cancelled:
		status = vrisk.TaskStatusCancelled
	}
	if res != nil {
		update.ProcessedRecords = &res.TotalRecords
	}
	update.Status = &status
	if err := svc.ds.UpdateTask(ctx, task.ID, update); err != nil {
		level.Error(svc.logger).Log("msg", "finalize archive import task", "err", err)
	}

	if impErr != nil && res == nil {
		return nil, impErr
	}
	// partial failures are reported in the result body, not as an HTTP
	// error
	return res, nil
}

func (svc *Service) ArchiveStatus(ctx context.Context) (vrisk.FeedCounts, error) {
	return svc.ds.FeedCounts(ctx)
}

// cancelCheckInterval bounds how often a synchronous import polls the
// store for a cancel request.
const cancelCheckInterval = 5 * time.Second

// cancelPoller returns a callback reporting whether cancellation of the
// task was requested, hitting the store at most once per interval. A
// cancel, once seen, sticks.
func (svc *Service) cancelPoller(ctx context.Context, id uint) func() bool {
	var lastCheck time.Time
	var requested bool
	return func() bool {
		if requested {
			return true
		}
		now := svc.clock.Now()
		if !lastCheck.IsZero() && now.Sub(lastCheck) < cancelCheckInterval {
			return false
		}
		lastCheck = now
		got, err := svc.ds.TaskCancelRequested(ctx, id)
		if err != nil {
			level.Warn(svc.logger).Log("msg", "cancel check", "task_id", id, "err", err)
			return false
		}
		requested = got
		return requested
	}
}

func (svc *Service) taskProgress(ctx context.Context, id uint, processed, total int, step string) {
	update := vrisk.TaskUpdate{ProcessedRecords: &processed, CurrentStep: &step}
	if total > 0 {
		pct := float64(processed) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		update.TotalRecords = &total
		update.ProgressPercent = &pct
	}
	if err := svc.ds.UpdateTask(ctx, id, update); err != nil {
		level.Warn(svc.logger).Log("msg", "task progress update", "task_id", id, "err", err)
	}
}

///////////////////////////////////////////////////////////////////////////////
// Feed and inventory tasks

func (svc *Service) EnqueueMetasploitDownload(ctx context.Context) (*vrisk.Task, error) {
	return worker.EnqueueTask(ctx, svc.ds, vrisk.TaskTypeMetasploitDownload, "download Metasploit modules metadata", nil)
}

func (svc *Service) MetasploitStatus(ctx context.Context) (*vrisk.MetasploitStatus, error) {
	counts, err := svc.ds.FeedCounts(ctx)
	if err != nil {
		return nil, err
	}
	status := &vrisk.MetasploitStatus{Count: counts.Metasploit}

	tasks, err := svc.ds.ListTasksByType(ctx, vrisk.TaskTypeMetasploitDownload, 1)
	if err != nil {
		return nil, err
	}
	if len(tasks) > 0 {
		status.TaskDetails = tasks[0]
		status.IsDownloading = !tasks[0].Status.Terminal()
	}
	return status, nil
}

func (svc *Service) EnqueueVMImport(ctx context.Context) (*vrisk.Task, error) {
	return worker.EnqueueTask(ctx, svc.ds, vrisk.TaskTypeVMImport, "import host inventory from appliance", nil)
}

func (svc *Service) EnqueueVMManualImport(ctx context.Context, filters vrisk.ManualImportFilters) (*vrisk.Task, error) {
	return worker.EnqueueTask(ctx, svc.ds, vrisk.TaskTypeVMManualImport, "re-import last appliance export", filters)
}

func (svc *Service) EnqueueHostsImport(ctx context.Context, name string, r io.Reader) (*vrisk.Task, error) {
	uploadDir := filepath.Join(svc.dataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "create upload dir")
	}
	f, err := os.CreateTemp(uploadDir, "hosts_*.csv")
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "create host csv upload")
	}
	path := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return nil, ctxerr.Wrap(ctx, err, "save host csv upload")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, ctxerr.Wrap(ctx, err, "close host csv upload")
	}

	task, err := worker.EnqueueTask(ctx, svc.ds, vrisk.TaskTypeHostsImport,
		fmt.Sprintf("import host inventory %s", name),
		worker.HostsImportArgs{Path: path, Name: name})
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return task, nil
}

func (svc *Service) EnqueueRiskRecompute(ctx context.Context) (*vrisk.Task, error) {
	return worker.EnqueueTask(ctx, svc.ds, vrisk.TaskTypeRiskRecompute, "recompute host risk scores", nil)
}

///////////////////////////////////////////////////////////////////////////////
// Tasks

func (svc *Service) Task(ctx context.Context, id uint) (*vrisk.Task, error) {
	return svc.ds.Task(ctx, id)
}

func (svc *Service) ListActiveTasks(ctx context.Context) ([]*vrisk.Task, error) {
	return svc.ds.ListActiveTasks(ctx)
}

func (svc *Service) CancelTask(ctx context.Context, id uint) error {
	return svc.ds.CancelTask(ctx, id)
}

///////////////////////////////////////////////////////////////////////////////
// Hosts

func (svc *Service) ListHosts(ctx context.Context, filter vrisk.HostListFilter, opts vrisk.ListOptions) ([]vrisk.Host, error) {
	return svc.ds.ListHosts(ctx, filter, opts)
}

func (svc *Service) CountHosts(ctx context.Context, filter vrisk.HostListFilter) (int, error) {
	return svc.ds.CountHosts(ctx, filter)
}

// exportBatchSize is the cursored page size of the CSV export.
const exportBatchSize = 5000

var hostCSVHeader = []string{
	"hostname", "ip", "cve", "criticality", "zone", "os_name", "status",
	"cvss", "epss_score", "epss_percentile", "risk_score",
	"exploits_count", "last_exploit_date", "imported_at",
}

// ExportHostsCSV streams every matching host row to w, scanning the table
// with a keyset cursor so exports of any size run in bounded memory.
func (svc *Service) ExportHostsCSV(ctx context.Context, w io.Writer, filter vrisk.HostListFilter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(hostCSVHeader); err != nil {
		return ctxerr.Wrap(ctx, err, "write csv header")
	}

	var cursor uint
	for {
		hosts, err := svc.ds.ListHostsAfter(ctx, cursor, exportBatchSize, filter)
		if err != nil {
			return ctxerr.Wrap(ctx, err, "scan hosts for export")
		}
		if len(hosts) == 0 {
			break
		}
		cursor = hosts[len(hosts)-1].ID

		for _, h := range hosts {
			if err := cw.Write(hostCSVRow(h)); err != nil {
				return ctxerr.Wrap(ctx, err, "write csv row")
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return ctxerr.Wrap(ctx, err, "flush csv export")
		}
	}

	cw.Flush()
	return cw.Error()
}

func hostCSVRow(h vrisk.Host) []string {
	return []string{
		h.Hostname,
		h.IP,
		h.CVE,
		string(h.Criticality),
		optStr(h.Zone),
		optStr(h.OSName),
		h.Status,
		optFloat(h.CVSS),
		optFloat(h.EPSSScore),
		optFloat(h.EPSSPercentile),
		optInt(h.RiskScore),
		strconv.Itoa(h.ExploitsCount),
		optTime(h.LastExploitDate),
		h.ImportedAt.Format(time.RFC3339),
	}
}

func optStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}

func optInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

///////////////////////////////////////////////////////////////////////////////
// Settings

// Settings returns the effective risk settings: every tunable at its
// default, overlaid with the stored overrides.
func (svc *Service) Settings(ctx context.Context) (map[string]string, error) {
	stored, err := svc.ds.Settings(ctx)
	if err != nil {
		return nil, err
	}
	out := vrisk.DefaultRiskSettings().Map()
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// UpdateSettings validates and writes the provided keys, then enqueues a
// risk recompute so every host reflects the new weights. A recompute
// already in flight satisfies the same need and is not an error.
func (svc *Service) UpdateSettings(ctx context.Context, values map[string]string) (*vrisk.Task, error) {
	for key, value := range values {
		if strings.TrimSpace(key) == "" {
			return nil, &vrisk.InvalidArgumentError{Name: "key", Reason: "must not be empty"}
		}
		if err := vrisk.ValidateRiskSettingValue(key, value); err != nil {
			return nil, &vrisk.InvalidArgumentError{Name: key, Reason: err.Error()}
		}
	}

	for key, value := range values {
		if err := svc.ds.SetSetting(ctx, key, strings.TrimSpace(value)); err != nil {
			return nil, ctxerr.Wrapf(ctx, err, "write setting %s", key)
		}
	}

	task, err := worker.EnqueueTask(ctx, svc.ds, vrisk.TaskTypeRiskRecompute, "recompute host risk after settings change", nil)
	if err != nil {
		if vrisk.IsConflict(err) {
			level.Debug(svc.logger).Log("msg", "risk recompute already queued")
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}
