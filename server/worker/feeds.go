package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vriskhq/vrisk/pkg/download"
	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/feeds"
	"github.com/vriskhq/vrisk/server/pipeline"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// runOptions bridges a TaskContext to the pipeline callbacks.
func runOptions(ctx context.Context, tc *TaskContext) pipeline.RunOptions {
	return pipeline.RunOptions{
		Progress: func(processed, total int, step string) {
			tc.Progress(ctx, processed, total, step)
		},
		Cancelled: func() bool {
			return tc.Cancelled(ctx)
		},
	}
}

// countCSVLines counts the data rows of a CSV file, excluding the header.
// Used to set total_records before the streaming import begins.
func countCSVLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	lines, err := feeds.CountLines(f)
	if err != nil {
		return 0, err
	}
	if lines > 0 {
		lines--
	}
	return lines, nil
}

func fetchFeed(client *http.Client, rawURL, path string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if strings.HasSuffix(u.Path, "gz") {
		return download.Decompressed(client, u, path)
	}
	return download.Download(client, u, path)
}

// EPSSImport downloads the EPSS daily snapshot and streams it into the
// store.
type EPSSImport struct {
	Pipeline *pipeline.Pipeline
	Client   *http.Client
	FeedURL  string
	DataDir  string
}

func (e *EPSSImport) Type() vrisk.TaskType { return vrisk.TaskTypeEPSSImport }

func (e *EPSSImport) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	path := filepath.Join(e.DataDir, "feeds", "epss_scores.csv")
	tc.Step(ctx, "downloading EPSS snapshot")
	if err := fetchFeed(e.Client, e.FeedURL, path); err != nil {
		return ctxerr.Wrap(ctx, err, "download epss snapshot")
	}
	tc.Debugf("snapshot saved to %s", path)

	total, err := countCSVLines(path)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "count epss rows")
	}
	tc.SetTotal(ctx, total)

	f, err := os.Open(path)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "open epss snapshot")
	}
	defer f.Close()

	res, err := e.Pipeline.ImportEPSS(ctx, f, total, runOptions(ctx, tc))
	if err != nil {
		return err
	}
	tc.Details("EPSS import", map[string]interface{}{
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
	})
	if res.Cancelled {
		return ErrCancelled
	}
	return nil
}

// ExploitDBImport downloads the ExploitDB index CSV and streams it into
// the store.
type ExploitDBImport struct {
	Pipeline *pipeline.Pipeline
	Client   *http.Client
	FeedURL  string
	DataDir  string
}

func (e *ExploitDBImport) Type() vrisk.TaskType { return vrisk.TaskTypeExploitDBImport }

func (e *ExploitDBImport) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	path := filepath.Join(e.DataDir, "feeds", "files_exploits.csv")
	tc.Step(ctx, "downloading ExploitDB index")
	if err := fetchFeed(e.Client, e.FeedURL, path); err != nil {
		return ctxerr.Wrap(ctx, err, "download exploitdb index")
	}

	total, err := countCSVLines(path)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "count exploitdb rows")
	}
	tc.SetTotal(ctx, total)

	f, err := os.Open(path)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "open exploitdb index")
	}
	defer f.Close()

	res, err := e.Pipeline.ImportExploitDB(ctx, f, total, runOptions(ctx, tc))
	if err != nil {
		return err
	}
	tc.Details("ExploitDB import", map[string]interface{}{
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
	})
	if res.Cancelled {
		return ErrCancelled
	}
	return nil
}

// CVEImport downloads the yearly NVD feeds from the configured start year
// through the current year and streams each into the store.
type CVEImport struct {
	Pipeline    *pipeline.Pipeline
	Client      *http.Client
	BaseURL     string
	StartYear   int
	CurrentYear func() int
	DataDir     string
}

func (c *CVEImport) Type() vrisk.TaskType { return vrisk.TaskTypeCVEImport }

func (c *CVEImport) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	inserted, skipped := 0, 0
	for year := c.StartYear; year <= c.CurrentYear(); year++ {
		if tc.Cancelled(ctx) {
			return ErrCancelled
		}

		tc.Step(ctx, fmt.Sprintf("importing NVD feed for %d", year))
		path := filepath.Join(c.DataDir, "feeds", fmt.Sprintf("nvdcve-2.0-%d.json", year))
		feedURL := fmt.Sprintf("%s/nvdcve-2.0-%d.json.gz", c.BaseURL, year)
		if err := fetchFeed(c.Client, feedURL, path); err != nil {
			return ctxerr.Wrapf(ctx, err, "download nvd feed for %d", year)
		}

		f, err := os.Open(path)
		if err != nil {
			return ctxerr.Wrap(ctx, err, "open nvd feed")
		}
		res, err := c.Pipeline.ImportCVE(ctx, f, 0, runOptions(ctx, tc))
		f.Close()
		if err != nil {
			return err
		}
		inserted += res.Inserted
		skipped += res.Skipped
		if res.Cancelled {
			return ErrCancelled
		}
	}

	tc.Details("CVE import", map[string]interface{}{
		"inserted": inserted,
		"skipped":  skipped,
		"years":    fmt.Sprintf("%d-%d", c.StartYear, c.CurrentYear()),
	})
	return nil
}

// MetasploitDownload downloads the Rapid7 modules metadata and streams it
// into the store.
type MetasploitDownload struct {
	Pipeline *pipeline.Pipeline
	Client   *http.Client
	FeedURL  string
	DataDir  string
}

func (m *MetasploitDownload) Type() vrisk.TaskType { return vrisk.TaskTypeMetasploitDownload }

func (m *MetasploitDownload) Run(ctx context.Context, task *vrisk.Task, tc *TaskContext) error {
	path := filepath.Join(m.DataDir, "feeds", "modules_metadata_base.json")
	tc.Step(ctx, "downloading Metasploit modules metadata")
	if err := fetchFeed(m.Client, m.FeedURL, path); err != nil {
		return ctxerr.Wrap(ctx, err, "download metasploit metadata")
	}

	f, err := os.Open(path)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "open metasploit metadata")
	}
	defer f.Close()

	res, err := m.Pipeline.ImportMetasploit(ctx, f, 0, runOptions(ctx, tc))
	if err != nil {
		return err
	}
	tc.Details("Metasploit import", map[string]interface{}{
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
	})
	if res.Cancelled {
		return ErrCancelled
	}
	return nil
}

