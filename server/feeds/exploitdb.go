package feeds

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/ptr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// ExploitRecord is one normalized ExploitDB row plus the CVEs its codes
// field cites.
type ExploitRecord struct {
	Exploit vrisk.Exploit
	CVEs    []string
}

// exploitdbRow binds the full files_exploits.csv layout. Extra columns are
// ignored by gocsv.
type exploitdbRow struct {
	ID            string `csv:"id"`
	File          string `csv:"file"`
	Description   string `csv:"description"`
	DatePublished string `csv:"date_published"`
	Author        string `csv:"author"`
	Type          string `csv:"type"`
	Platform      string `csv:"platform"`
	Port          string `csv:"port"`
	Verified      string `csv:"verified"`
	Codes         string `csv:"codes"`
}

// ParseExploitDB streams an ExploitDB CSV in either of its two accepted
// layouts, detected from the header: the full files_exploits.csv schema, or
// a minimal cve,exploit_id pairing.
func ParseExploitDB(ctx context.Context, r io.Reader, emit func(ExploitRecord) error) (skipped int, err error) {
	// Read the header line manually so the right decoder can be chosen,
	// then replay it for that decoder.
	r = bomStrippedReader(r)
	headerLine, rest, err := readLine(r)
	if err != nil {
		return 0, ctxerr.Wrap(ctx, err, "read exploitdb header")
	}

	header := strings.Split(headerLine, ",")
	full := false
	for _, col := range header {
		if strings.TrimSpace(col) == "codes" || strings.TrimSpace(col) == "file" {
			full = true
			break
		}
	}

	if full {
		return parseExploitDBFull(ctx, io.MultiReader(strings.NewReader(headerLine+"\n"), rest), emit)
	}
	if len(header) >= 2 && strings.TrimSpace(header[0]) == "cve" {
		return parseExploitDBMinimal(ctx, rest, emit)
	}
	return 0, ctxerr.Errorf(ctx, "unrecognized exploitdb header: %s", headerLine)
}

func parseExploitDBFull(ctx context.Context, r io.Reader, emit func(ExploitRecord) error) (int, error) {
	var skipped int
	err := gocsv.UnmarshalToCallback(r, func(row exploitdbRow) error {
		id, err := strconv.ParseUint(strings.TrimSpace(row.ID), 10, 32)
		if err != nil {
			skipped++
			return nil
		}

		rec := ExploitRecord{
			Exploit: vrisk.Exploit{
				ExploitID:   uint(id),
				File:        optString(row.File),
				Description: optString(row.Description),
				Author:      optString(row.Author),
				Type:        optString(row.Type),
				Platform:    optString(row.Platform),
				Port:        optString(row.Port),
				Verified:    row.Verified == "1",
			},
			CVEs: extractCVEs(row.Codes),
		}
		if d := strings.TrimSpace(row.DatePublished); d != "" {
			if t, err := time.Parse("2006-01-02", d); err == nil {
				rec.Exploit.DatePublished = &t
			}
		}
		return emit(rec)
	})
	if err != nil {
		return skipped, ctxerr.Wrap(ctx, err, "parse exploitdb csv")
	}
	return skipped, nil
}

func parseExploitDBMinimal(ctx context.Context, r io.Reader, emit func(ExploitRecord) error) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var skipped int
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, ctxerr.Wrap(ctx, err, "read exploitdb row")
		}
		if len(rec) < 2 {
			skipped++
			continue
		}

		cve := strings.TrimSpace(rec[0])
		id, idErr := strconv.ParseUint(strings.TrimSpace(rec[1]), 10, 32)
		if !CVERegexp.MatchString(cve) || idErr != nil {
			skipped++
			continue
		}

		out := ExploitRecord{
			Exploit: vrisk.Exploit{ExploitID: uint(id)},
			CVEs:    []string{cve},
		}
		if err := emit(out); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// extractCVEs pulls CVE identifiers out of the semicolon-separated codes
// field; non-CVE codes (OSVDB etc.) are ignored.
func extractCVEs(codes string) []string {
	var cves []string
	for _, code := range strings.Split(codes, ";") {
		code = strings.TrimSpace(code)
		if CVERegexp.MatchString(code) {
			cves = append(cves, code)
		}
	}
	return cves
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return ptr.String(s)
}

// readLine reads a single \n-terminated line from r and returns it along
// with a reader for the remainder.
func readLine(r io.Reader) (string, io.Reader, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return strings.TrimRight(string(line), "\r"), r, nil
			}
			line = append(line, buf[0])
		}
		if err == io.EOF {
			if len(line) > 0 {
				return string(line), strings.NewReader(""), nil
			}
			return "", nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", nil, err
		}
	}
}
