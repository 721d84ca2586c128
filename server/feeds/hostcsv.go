package feeds

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/ptr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// Host CSV column names as exported by the asset appliance.
const (
	hostColHost         = "@Host"
	hostColCVEs         = "Host.@Vulners.CVEs"
	hostColCriticality  = "Host.UF_Criticality"
	hostColZone         = "Host.UF_Zone"
	hostColOSName       = "Host.OsName"
	hostColConfidential = "Host.UF_Confidential"
	hostColInternet     = "Host.UF_InternetAccess"
)

// ParseHostCSV streams the semicolon-delimited host inventory CSV and emits
// one normalized row per (host, valid CVE) pair, together with the 1-based
// data line the row was fanned out from so callers can report progress in
// source lines rather than fan-out rows. Rows with no valid CVE token
// produce nothing and are counted as skipped; unknown columns are ignored.
func ParseHostCSV(ctx context.Context, r io.Reader, emit func(line int, host vrisk.Host) error) (skipped int, err error) {
	cr := csv.NewReader(bomStrippedReader(r))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, ctxerr.Wrap(ctx, err, "read host csv header")
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col[hostColHost]; !ok {
		return 0, ctxerr.Errorf(ctx, "host csv header is missing %s", hostColHost)
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, ctxerr.Wrap(ctx, err, "read host csv row")
		}
		line++

		hostname, ip := SplitHostField(field(rec, hostColHost))
		if hostname == "" {
			skipped++
			continue
		}

		criticality := vrisk.Criticality(field(rec, hostColCriticality))
		if !vrisk.ValidCriticality(criticality) {
			criticality = vrisk.CriticalityMedium
		}

		base := vrisk.Host{
			Hostname:    hostname,
			IP:          ip,
			Criticality: criticality,
			Status:      "active",
		}
		if zone := field(rec, hostColZone); zone != "" {
			base.Zone = ptr.String(zone)
		}
		if osName := field(rec, hostColOSName); osName != "" {
			base.OSName = ptr.String(osName)
		}
		if v := field(rec, hostColConfidential); v != "" {
			base.ConfidentialData = ptr.Bool(parseYesNo(v))
		}
		if v := field(rec, hostColInternet); v != "" {
			base.InternetAccess = ptr.Bool(parseYesNo(v))
		}

		emitted := false
		for _, token := range strings.Split(field(rec, hostColCVEs), ",") {
			token = strings.TrimSpace(token)
			if !CVERegexp.MatchString(token) {
				continue
			}
			row := base
			row.CVE = token
			if err := emit(line, row); err != nil {
				return skipped, err
			}
			emitted = true
		}
		if !emitted {
			skipped++
		}
	}

	return skipped, nil
}

// SplitHostField splits the appliance's "hostname (ip)" form; the IP part
// is optional.
func SplitHostField(s string) (hostname, ip string) {
	s = strings.TrimSpace(s)
	if open := strings.LastIndex(s, "("); open != -1 && strings.HasSuffix(s, ")") {
		hostname = strings.TrimSpace(s[:open])
		ip = strings.TrimSpace(s[open+1 : len(s)-1])
		return hostname, ip
	}
	return s, ""
}

func parseYesNo(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "true", "y":
		return true
	}
	return false
}
