package feeds

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// ParseEPSS streams the EPSS daily CSV (already gunzipped) and calls emit
// for every valid row. The feed starts with an optional '#' comment line
// and a cve,epss,percentile header. Rows whose epss is not a float in
// [0,1] are skipped and tallied.
func ParseEPSS(ctx context.Context, r io.Reader, emit func(vrisk.EPSSScore) error) (skipped int, err error) {
	cr := csv.NewReader(bomStrippedReader(r))
	cr.Comment = '#'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, ctxerr.Wrap(ctx, err, "read epss header")
	}
	if len(header) < 3 || strings.TrimSpace(header[0]) != "cve" {
		return 0, ctxerr.Errorf(ctx, "unexpected epss header: %v", header)
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, ctxerr.Wrap(ctx, err, "read epss row")
		}
		if len(rec) < 3 {
			skipped++
			continue
		}

		cve := strings.TrimSpace(rec[0])
		if !CVERegexp.MatchString(cve) {
			skipped++
			continue
		}

		epss, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil || epss < 0 || epss > 1 {
			skipped++
			continue
		}
		percentile, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			skipped++
			continue
		}

		if err := emit(vrisk.EPSSScore{CVE: cve, EPSS: epss, Percentile: percentile}); err != nil {
			return skipped, err
		}
	}

	return skipped, nil
}
