package feeds

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// MetasploitRecord is one normalized module plus the CVEs its references
// cite.
type MetasploitRecord struct {
	Module vrisk.MetasploitModule
	CVEs   []string
}

// msfModule is the wire shape of one entry in modules_metadata_base.json.
// Rank is a json.Number because the feed has carried both numeric and
// string ranks over time.
type msfModule struct {
	Name           string      `json:"name"`
	Fullname       string      `json:"fullname"`
	Rank           json.Number `json:"rank"`
	DisclosureDate string      `json:"disclosure_date"`
	Type           string      `json:"type"`
	Description    string      `json:"description"`
	References     []string    `json:"references"`
}

// ParseMetasploit streams the Rapid7 module metadata JSON, an object keyed
// by module name, emitting one record per well-formed module.
func ParseMetasploit(ctx context.Context, r io.Reader, emit func(MetasploitRecord) error) (skipped int, err error) {
	dec := json.NewDecoder(bomStrippedReader(r))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return 0, ctxerr.Wrap(ctx, err, "read metasploit feed start")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return 0, ctxerr.New(ctx, "metasploit feed top level is not an object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return skipped, ctxerr.Wrap(ctx, err, "read module name")
		}
		moduleName, ok := keyTok.(string)
		if !ok {
			return skipped, ctxerr.New(ctx, "metasploit feed has a non-string key")
		}

		var raw msfModule
		if err := dec.Decode(&raw); err != nil {
			return skipped, ctxerr.Wrap(ctx, err, "decode module")
		}

		rec, ok := raw.toRecord(moduleName)
		if !ok {
			skipped++
			continue
		}
		if err := emit(rec); err != nil {
			return skipped, err
		}
	}

	return skipped, nil
}

func (m msfModule) toRecord(moduleName string) (MetasploitRecord, bool) {
	if moduleName == "" || m.Fullname == "" {
		return MetasploitRecord{}, false
	}

	rank := 0
	if r, err := strconv.Atoi(m.Rank.String()); err == nil {
		rank = r
	}

	mod := vrisk.MetasploitModule{
		ModuleName:  moduleName,
		Name:        m.Name,
		Fullname:    m.Fullname,
		Rank:        rank,
		RankText:    vrisk.MetasploitRankText(rank),
		Type:        m.Type,
		Description: m.Description,
		References:  strings.Join(m.References, ","),
	}
	if d := strings.TrimSpace(m.DisclosureDate); d != "" {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			mod.DisclosureDate = &t
		}
	}

	var cves []string
	seen := make(map[string]struct{})
	for _, ref := range m.References {
		cve := normalizeCVERef(ref)
		if cve == "" {
			continue
		}
		if _, dup := seen[cve]; dup {
			continue
		}
		seen[cve] = struct{}{}
		cves = append(cves, cve)
	}

	return MetasploitRecord{Module: mod, CVEs: cves}, true
}

// normalizeCVERef turns "CVE-2017-0144" or "CVE,2017-0144" reference forms
// into a canonical CVE id, or "" when the reference is not a CVE.
func normalizeCVERef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "CVE,") {
		ref = "CVE-" + strings.TrimPrefix(ref, "CVE,")
	}
	if CVERegexp.MatchString(ref) {
		return ref
	}
	return ""
}
