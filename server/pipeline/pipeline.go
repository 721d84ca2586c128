// Package pipeline orchestrates the feed imports: open stream, decode,
// transform, batch upsert, progress. Cancellation is observed between
// batches, so a cancelled task keeps the batches already flushed.
package pipeline

import (
	"context"
	"io"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/feeds"
	"github.com/vriskhq/vrisk/server/vrisk"
)

const defaultBatchSize = 5000

// RunOptions carries the task-facing callbacks of a pipeline run. Both are
// optional.
type RunOptions struct {
	// Progress is invoked after every flushed batch.
	Progress func(processed, total int, step string)
	// Cancelled is polled between batches; when it reports true the
	// current batch is committed and the run stops.
	Cancelled func() bool
}

func (o RunOptions) progress(processed, total int, step string) {
	if o.Progress != nil {
		o.Progress(processed, total, step)
	}
}

func (o RunOptions) cancelled() bool {
	return o.Cancelled != nil && o.Cancelled()
}

// Result summarizes a pipeline run.
type Result struct {
	Inserted  int
	Skipped   int
	Cancelled bool
}

// Pipeline runs feed imports against a datastore.
type Pipeline struct {
	ds        vrisk.Datastore
	logger    kitlog.Logger
	batchSize int
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithBatchSize overrides the default flush threshold.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func New(ds vrisk.Datastore, logger kitlog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		ds:        ds,
		logger:    kitlog.With(logger, "component", "pipeline"),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// errCancelled is returned by emit callbacks to unwind the parser when the
// cancel flag is observed. It never escapes the pipeline.
type cancelledError struct{}

func (cancelledError) Error() string { return "run cancelled" }

func isCancelled(err error) bool {
	_, ok := ctxerr.Cause(err).(cancelledError)
	return ok
}

// ImportEPSS streams the EPSS snapshot CSV into epss_scores.
func (p *Pipeline) ImportEPSS(ctx context.Context, r io.Reader, total int, opts RunOptions) (Result, error) {
	var res Result
	batch := make([]vrisk.EPSSScore, 0, p.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.ds.InsertEPSSScores(ctx, batch); err != nil {
			return err
		}
		res.Inserted += len(batch)
		batch = batch[:0]
		opts.progress(res.Inserted, total, "importing EPSS scores")
		return nil
	}

	skipped, err := feeds.ParseEPSS(ctx, r, func(score vrisk.EPSSScore) error {
		batch = append(batch, score)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return err
			}
			if opts.cancelled() {
				return cancelledError{}
			}
		}
		return nil
	})
	res.Skipped = skipped
	if err != nil {
		if isCancelled(err) {
			res.Cancelled = true
			return res, nil
		}
		return res, ctxerr.Wrap(ctx, err, "parse epss feed")
	}
	if err := flush(); err != nil {
		return res, err
	}
	p.logSkipped("epss", res.Skipped)
	return res, nil
}

// ImportExploitDB streams either ExploitDB CSV layout into exploits and
// exploit_cves, then refreshes the exploit stats of affected hosts.
func (p *Pipeline) ImportExploitDB(ctx context.Context, r io.Reader, total int, opts RunOptions) (Result, error) {
	var res Result
	exploitBatch := make([]vrisk.Exploit, 0, p.batchSize)
	linkBatch := make([]vrisk.ExploitCVE, 0, p.batchSize)
	var touchedCVEs []string

	flush := func() error {
		if len(exploitBatch) == 0 && len(linkBatch) == 0 {
			return nil
		}
		if err := p.ds.InsertExploits(ctx, exploitBatch, linkBatch); err != nil {
			return err
		}
		res.Inserted += len(exploitBatch)
		exploitBatch = exploitBatch[:0]
		linkBatch = linkBatch[:0]
		opts.progress(res.Inserted, total, "importing ExploitDB entries")
		return nil
	}

	skipped, err := feeds.ParseExploitDB(ctx, r, func(rec feeds.ExploitRecord) error {
		exploitBatch = append(exploitBatch, rec.Exploit)
		for _, cve := range rec.CVEs {
			linkBatch = append(linkBatch, vrisk.ExploitCVE{CVE: cve, ExploitID: rec.Exploit.ExploitID})
			touchedCVEs = append(touchedCVEs, cve)
		}
		if len(exploitBatch) >= p.batchSize {
			if err := flush(); err != nil {
				return err
			}
			if opts.cancelled() {
				return cancelledError{}
			}
		}
		return nil
	})
	res.Skipped = skipped
	if err != nil {
		if isCancelled(err) {
			res.Cancelled = true
			return res, nil
		}
		return res, ctxerr.Wrap(ctx, err, "parse exploitdb feed")
	}
	if err := flush(); err != nil {
		return res, err
	}

	if err := p.ds.RefreshHostExploitStats(ctx, dedupe(touchedCVEs)); err != nil {
		return res, ctxerr.Wrap(ctx, err, "refresh host exploit stats")
	}
	p.logSkipped("exploitdb", res.Skipped)
	return res, nil
}

// ImportCVE streams an NVD-shaped JSON feed into cve_meta.
func (p *Pipeline) ImportCVE(ctx context.Context, r io.Reader, total int, opts RunOptions) (Result, error) {
	var res Result
	batch := make([]vrisk.CVEMeta, 0, p.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.ds.InsertCVEMeta(ctx, batch); err != nil {
			return err
		}
		res.Inserted += len(batch)
		batch = batch[:0]
		opts.progress(res.Inserted, total, "importing CVE metadata")
		return nil
	}

	skipped, err := feeds.ParseNVDCVE(ctx, r, func(meta vrisk.CVEMeta) error {
		batch = append(batch, meta)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return err
			}
			if opts.cancelled() {
				return cancelledError{}
			}
		}
		return nil
	})
	res.Skipped = skipped
	if err != nil {
		if isCancelled(err) {
			res.Cancelled = true
			return res, nil
		}
		return res, ctxerr.Wrap(ctx, err, "parse cve feed")
	}
	if err := flush(); err != nil {
		return res, err
	}
	p.logSkipped("cve", res.Skipped)
	return res, nil
}

// ImportMetasploit streams the Rapid7 modules metadata into
// metasploit_modules and metasploit_module_cves.
func (p *Pipeline) ImportMetasploit(ctx context.Context, r io.Reader, total int, opts RunOptions) (Result, error) {
	var res Result
	moduleBatch := make([]vrisk.MetasploitModule, 0, p.batchSize)
	linkBatch := make([]vrisk.MetasploitModuleCVE, 0, p.batchSize)

	flush := func() error {
		if len(moduleBatch) == 0 && len(linkBatch) == 0 {
			return nil
		}
		if err := p.ds.InsertMetasploitModules(ctx, moduleBatch, linkBatch); err != nil {
			return err
		}
		res.Inserted += len(moduleBatch)
		moduleBatch = moduleBatch[:0]
		linkBatch = linkBatch[:0]
		opts.progress(res.Inserted, total, "importing Metasploit modules")
		return nil
	}

	skipped, err := feeds.ParseMetasploit(ctx, r, func(rec feeds.MetasploitRecord) error {
		moduleBatch = append(moduleBatch, rec.Module)
		for _, cve := range rec.CVEs {
			linkBatch = append(linkBatch, vrisk.MetasploitModuleCVE{ModuleName: rec.Module.ModuleName, CVE: cve})
		}
		if len(moduleBatch) >= p.batchSize {
			if err := flush(); err != nil {
				return err
			}
			if opts.cancelled() {
				return cancelledError{}
			}
		}
		return nil
	})
	res.Skipped = skipped
	if err != nil {
		if isCancelled(err) {
			res.Cancelled = true
			return res, nil
		}
		return res, ctxerr.Wrap(ctx, err, "parse metasploit feed")
	}
	if err := flush(); err != nil {
		return res, err
	}
	p.logSkipped("metasploit", res.Skipped)
	return res, nil
}

// ImportHosts streams the semicolon host CSV into hosts. It returns the
// distinct CVE set it touched so the caller can chain a recompute.
func (p *Pipeline) ImportHosts(ctx context.Context, r io.Reader, total int, opts RunOptions) (Result, []string, error) {
	var res Result
	batch := make([]vrisk.Host, 0, p.batchSize)
	var touchedCVEs []string

	// Progress is reported in source CSV lines, not fan-out rows, so
	// processed never exceeds the line-count total.
	lastLine := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.ds.UpsertHosts(ctx, batch); err != nil {
			return err
		}
		res.Inserted += len(batch)
		batch = batch[:0]
		opts.progress(lastLine, total, "importing hosts")
		return nil
	}

	skipped, err := feeds.ParseHostCSV(ctx, r, func(line int, host vrisk.Host) error {
		lastLine = line
		batch = append(batch, host)
		touchedCVEs = append(touchedCVEs, host.CVE)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return err
			}
			if opts.cancelled() {
				return cancelledError{}
			}
		}
		return nil
	})
	res.Skipped = skipped
	if err != nil {
		if isCancelled(err) {
			res.Cancelled = true
			return res, dedupe(touchedCVEs), nil
		}
		return res, nil, ctxerr.Wrap(ctx, err, "parse host csv")
	}
	if err := flush(); err != nil {
		return res, nil, err
	}
	p.logSkipped("hosts", res.Skipped)
	return res, dedupe(touchedCVEs), nil
}

// ImportHostList upserts already-normalized host rows, used by the manual
// re-import of a saved appliance dump.
func (p *Pipeline) ImportHostList(ctx context.Context, hosts []vrisk.Host, opts RunOptions) (Result, []string, error) {
	var res Result
	var touchedCVEs []string

	for i := 0; i < len(hosts); i += p.batchSize {
		end := i + p.batchSize
		if end > len(hosts) {
			end = len(hosts)
		}
		batch := hosts[i:end]
		if err := p.ds.UpsertHosts(ctx, batch); err != nil {
			return res, nil, err
		}
		for _, h := range batch {
			touchedCVEs = append(touchedCVEs, h.CVE)
		}
		res.Inserted += len(batch)
		opts.progress(res.Inserted, len(hosts), "importing hosts")
		if opts.cancelled() {
			res.Cancelled = true
			return res, dedupe(touchedCVEs), nil
		}
	}
	return res, dedupe(touchedCVEs), nil
}

func (p *Pipeline) logSkipped(feed string, skipped int) {
	if skipped > 0 {
		level.Warn(p.logger).Log("feed", feed, "skipped", skipped)
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
