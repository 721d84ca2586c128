package worker

import (
	"context"
	"encoding/json"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vriskhq/vrisk/server/appliance"
	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/feeds"
	"github.com/vriskhq/vrisk/server/pipeline"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// HostsImportArgs are the parameters of a hosts_import task, pointing at
// the uploaded host CSV saved by the API.
type HostsImportArgs struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// HostsImport streams an uploaded host inventory CSV into the store and
// chains a risk recompute for the touched CVEs.
type HostsImport struct {
	Datastore vrisk.Datastore
	Pipeline  *pipeline.Pipeline
	Logger    kitlog.Logger
}

func (h *HostsImport) Type() vrisk.TaskType { return vrisk.TaskTypeHostsImport }

func (h *HostsImport) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	var args HostsImportArgs
	if task.Parameters == nil {
		return ctxerr.New(ctx, "hosts import task has no parameters")
	}
	if err := json.Unmarshal(*task.Parameters, &args); err != nil {
		return ctxerr.Wrap(ctx, err, "unmarshal hosts import parameters")
	}
	defer os.Remove(args.Path)

	total, err := countCSVLines(args.Path)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "count host csv rows")
	}
	tc.SetTotal(ctx, total)

	f, err := os.Open(args.Path)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "open host csv")
	}
	defer f.Close()

	res, touched, err := h.Pipeline.ImportHosts(ctx, f, total, runOptions(ctx, tc))
	if err != nil {
		return err
	}
	tc.Details("Host import", map[string]interface{}{
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
		"cves":     len(touched),
	})
	if res.Cancelled {
		return ErrCancelled
	}

	return finishHostImport(ctx, h.Datastore, h.Logger, tc, touched)
}

// VMImport pulls the host inventory from the appliance, saves the
// normalized rows as a dump for later manual re-import, then upserts them
// and chains a risk recompute.
type VMImport struct {
	Datastore vrisk.Datastore
	Pipeline  *pipeline.Pipeline
	Client    *appliance.Client
	Logger    kitlog.Logger

	DataDir   string
	OSExclude []string
	RowLimit  int
}

func (v *VMImport) Type() vrisk.TaskType { return vrisk.TaskTypeVMImport }

func (v *VMImport) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	tc.Step(ctx, "exporting host inventory from appliance")
	body, err := v.Client.ExportCSV(ctx, appliance.BuildPDQL(v.OSExclude, v.RowLimit))
	if err != nil {
		return ctxerr.Wrap(ctx, err, "export appliance inventory")
	}
	defer body.Close()

	// The export is materialized so the same normalized rows can be
	// saved as a dump and upserted.
	var hosts []vrisk.Host
	skipped, err := feeds.ParseHostCSV(ctx, body, func(_ int, h vrisk.Host) error {
		hosts = append(hosts, h)
		return nil
	})
	if err != nil {
		return ctxerr.Wrap(ctx, err, "parse appliance export")
	}
	tc.SetTotal(ctx, len(hosts))

	tc.Step(ctx, "saving export dump")
	dumpPath, err := appliance.SaveDump(ctx, v.DataDir, hosts, tc.clock.Now())
	if err != nil {
		return ctxerr.Wrap(ctx, err, "save export dump")
	}
	tc.Infof("dump saved to %s", dumpPath)

	res, touched, err := v.Pipeline.ImportHostList(ctx, hosts, runOptions(ctx, tc))
	if err != nil {
		return err
	}
	tc.Details("VM import", map[string]interface{}{
		"inserted": res.Inserted,
		"skipped":  skipped,
		"cves":     len(touched),
		"dump":     dumpPath,
	})
	if res.Cancelled {
		return ErrCancelled
	}

	return finishHostImport(ctx, v.Datastore, v.Logger, tc, touched)
}

// VMManualImport re-imports the newest saved appliance dump, narrowed by
// the task's criticality/os/zone filters.
type VMManualImport struct {
	Datastore vrisk.Datastore
	Pipeline  *pipeline.Pipeline
	Logger    kitlog.Logger
	DataDir   string
}

func (v *VMManualImport) Type() vrisk.TaskType { return vrisk.TaskTypeVMManualImport }

func (v *VMManualImport) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	var filters vrisk.ManualImportFilters
	if task.Parameters != nil {
		if err := json.Unmarshal(*task.Parameters, &filters); err != nil {
			return ctxerr.Wrap(ctx, err, "unmarshal manual import filters")
		}
	}

	tc.Step(ctx, "loading last appliance export")
	hosts, dumpPath, err := appliance.LatestDump(ctx, v.DataDir)
	if err != nil {
		return err
	}
	tc.Infof("loaded %d rows from %s", len(hosts), dumpPath)

	filtered := appliance.FilterDump(hosts, filters)
	tc.SetTotal(ctx, len(filtered))

	res, touched, err := v.Pipeline.ImportHostList(ctx, filtered, runOptions(ctx, tc))
	if err != nil {
		return err
	}
	tc.Details("Manual VM import", map[string]interface{}{
		"dump":     dumpPath,
		"rows":     len(hosts),
		"matched":  len(filtered),
		"inserted": res.Inserted,
		"cves":     len(touched),
	})
	if res.Cancelled {
		return ErrCancelled
	}

	return finishHostImport(ctx, v.Datastore, v.Logger, tc, touched)
}

// finishHostImport refreshes exploit stats for the touched CVEs and
// enqueues a risk recompute scoped to hosts not rescored since this import.
// A recompute already in flight is fine, the conflict is logged and
// swallowed.
func finishHostImport(ctx context.Context, ds vrisk.Datastore, logger kitlog.Logger, tc *TaskContext, touched []string) error {
	tc.Step(ctx, "refreshing exploit stats")
	if err := ds.RefreshHostExploitStats(ctx, touched); err != nil {
		return ctxerr.Wrap(ctx, err, "refresh exploit stats")
	}

	since := tc.clock.Now()
	args := RiskRecomputeArgs{Since: &since}
	if _, err := EnqueueTask(ctx, ds, vrisk.TaskTypeRiskRecompute, "risk recompute after host import", args); err != nil {
		if vrisk.IsConflict(err) {
			level.Debug(logger).Log("msg", "risk recompute already queued")
			return nil
		}
		return ctxerr.Wrap(ctx, err, "enqueue risk recompute")
	}
	return nil
}
