package pipeline

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// feedKind is which per-feed pipeline an archive entry routes to.
type feedKind string

const (
	feedEPSS       feedKind = "epss"
	feedExploitDB  feedKind = "exploitdb"
	feedCVE        feedKind = "cve"
	feedMetasploit feedKind = "metasploit"
)

// classifyEntry routes an archive member to a feed by filename. Unknown
// entries are ignored rather than failing the whole upload.
func classifyEntry(name string) (feedKind, bool) {
	base := strings.ToLower(path.Base(name))
	switch {
	case strings.HasPrefix(base, "."), base == "":
		return "", false
	case strings.Contains(base, "epss"):
		return feedEPSS, true
	case strings.Contains(base, "exploit"):
		return feedExploitDB, true
	case strings.Contains(base, "metasploit"), strings.Contains(base, "modules_metadata"):
		return feedMetasploit, true
	case strings.Contains(base, "cve"), strings.Contains(base, "nvd"):
		return feedCVE, true
	}
	return "", false
}

// ImportArchive walks a ZIP of feed files and routes each recognized entry
// to its pipeline. One bad entry does not abort the rest; per-entry errors
// are accumulated and reported alongside the per-feed outcomes.
func (p *Pipeline) ImportArchive(ctx context.Context, r io.ReaderAt, size int64, opts RunOptions) (*vrisk.ArchiveImportResult, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "open archive")
	}

	result := &vrisk.ArchiveImportResult{Success: true}
	var errs *multierror.Error
	imported := make(map[string]bool)

	for _, entry := range zr.File {
		if opts.cancelled() {
			result.Cancelled = true
			break
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		kind, ok := classifyEntry(entry.Name)
		if !ok {
			continue
		}

		res, err := p.importArchiveEntry(ctx, entry, kind, opts)
		detail := vrisk.ArchiveImportDetail{
			Database: string(kind),
			Records:  res.Inserted,
		}
		if err != nil {
			detail.Error = err.Error()
			result.Success = false
			errs = multierror.Append(errs, ctxerr.Wrapf(ctx, err, "import %s", entry.Name))
		} else if !imported[string(kind)] {
			imported[string(kind)] = true
			result.DatabasesImported = append(result.DatabasesImported, string(kind))
		}
		result.TotalRecords += res.Inserted
		result.Details = append(result.Details, detail)

		if res.Cancelled {
			result.Cancelled = true
			break
		}
	}

	return result, errs.ErrorOrNil()
}

func (p *Pipeline) importArchiveEntry(ctx context.Context, entry *zip.File, kind feedKind, opts RunOptions) (Result, error) {
	rc, err := entry.Open()
	if err != nil {
		return Result{}, ctxerr.Wrap(ctx, err, "open archive entry")
	}
	defer rc.Close()

	var reader io.Reader = rc
	if strings.HasSuffix(strings.ToLower(entry.Name), ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return Result{}, ctxerr.Wrap(ctx, err, "gunzip archive entry")
		}
		defer gz.Close()
		reader = gz
	}

	switch kind {
	case feedEPSS:
		return p.ImportEPSS(ctx, reader, 0, opts)
	case feedExploitDB:
		return p.ImportExploitDB(ctx, reader, 0, opts)
	case feedCVE:
		return p.ImportCVE(ctx, reader, 0, opts)
	case feedMetasploit:
		return p.ImportMetasploit(ctx, reader, 0, opts)
	}
	return Result{}, ctxerr.Errorf(ctx, "unhandled feed kind %s", kind)
}
