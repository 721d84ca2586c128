package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/pipeline"
	"github.com/vriskhq/vrisk/server/tasklog"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// RiskRecomputeArgs are the optional parameters of a risk_recompute task.
// Since narrows the run to hosts whose risk predates it (plus any hosts
// missing scores); a nil Since recomputes everything.
type RiskRecomputeArgs struct {
	Since *time.Time `json:"since,omitempty"`
}

// RiskRecompute refreshes the risk columns of every host with a stale CVE.
type RiskRecompute struct {
	Pipeline *pipeline.Pipeline
}

func (r *RiskRecompute) Type() vrisk.TaskType { return vrisk.TaskTypeRiskRecompute }

func (r *RiskRecompute) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	var args RiskRecomputeArgs
	if task.Parameters != nil {
		if err := json.Unmarshal(*task.Parameters, &args); err != nil {
			return ctxerr.Wrap(ctx, err, "unmarshal risk recompute parameters")
		}
	}

	res, err := r.Pipeline.Recompute(ctx, args.Since, runOptions(ctx, tc))
	if err != nil {
		return err
	}
	tc.Details("Risk recompute", map[string]interface{}{
		"updated": res.Inserted,
	})
	if res.Cancelled {
		return ErrCancelled
	}
	return nil
}

// LogCleanup removes task log files older than the retention window.
type LogCleanup struct {
	LogsDir   string
	Retention time.Duration
}

func (l *LogCleanup) Type() vrisk.TaskType { return vrisk.TaskTypeLogCleanup }

func (l *LogCleanup) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	tc.Step(ctx, "cleaning up task logs")
	removed, err := tasklog.Cleanup(l.LogsDir, l.Retention, tc.clock)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "clean up task logs")
	}
	tc.Details("Log cleanup", map[string]interface{}{
		"removed":   removed,
		"retention": l.Retention.String(),
	})
	return nil
}
