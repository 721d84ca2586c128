package feeds

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
	"github.com/vriskhq/vrisk/server/vrisk"
)

// NVD 2.0 API feed shapes. Only the fields the importer consumes are
// declared; the decoder skips the rest.
type nvdFeedItem struct {
	CVE nvdCVE `json:"cve"`
}

type nvdCVE struct {
	ID           string           `json:"id"`
	Descriptions []nvdDescription `json:"descriptions"`
	Metrics      nvdMetrics       `json:"metrics"`
	Published    string           `json:"published"`
	LastModified string           `json:"lastModified"`
}

type nvdDescription struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type nvdMetrics struct {
	CVSSMetricV31 []nvdCVSSV3Metric `json:"cvssMetricV31"`
	CVSSMetricV30 []nvdCVSSV3Metric `json:"cvssMetricV30"`
	CVSSMetricV2  []nvdCVSSV2Metric `json:"cvssMetricV2"`
}

type nvdCVSSV3Metric struct {
	CVSSData struct {
		BaseScore          float64 `json:"baseScore"`
		BaseSeverity       string  `json:"baseSeverity"`
		AttackVector       string  `json:"attackVector"`
		PrivilegesRequired string  `json:"privilegesRequired"`
		UserInteraction    string  `json:"userInteraction"`
	} `json:"cvssData"`
	ExploitabilityScore *float64 `json:"exploitabilityScore"`
	ImpactScore         *float64 `json:"impactScore"`
}

type nvdCVSSV2Metric struct {
	CVSSData struct {
		BaseScore            float64 `json:"baseScore"`
		AccessVector         string  `json:"accessVector"`
		AccessComplexity     string  `json:"accessComplexity"`
		Authentication       string  `json:"authentication"`
	} `json:"cvssData"`
	ExploitabilityScore *float64 `json:"exploitabilityScore"`
	ImpactScore         *float64 `json:"impactScore"`
}

// ParseNVDCVE streams an NVD-shaped CVE feed (already gunzipped) whose top
// level contains a "vulnerabilities" array. Items are decoded one at a time
// so feeds of any size are processed in bounded memory; callers shard the
// emitted records before insertion.
func ParseNVDCVE(ctx context.Context, r io.Reader, emit func(vrisk.CVEMeta) error) (skipped int, err error) {
	dec := json.NewDecoder(bomStrippedReader(r))

	if err := seekVulnerabilities(dec); err != nil {
		return 0, ctxerr.Wrap(ctx, err, "locate vulnerabilities array")
	}

	// consume the array's opening bracket
	if _, err := dec.Token(); err != nil {
		return 0, ctxerr.Wrap(ctx, err, "read vulnerabilities array start")
	}

	for dec.More() {
		var item nvdFeedItem
		if err := dec.Decode(&item); err != nil {
			return skipped, ctxerr.Wrap(ctx, err, "decode cve item")
		}

		meta, ok := item.toCVEMeta()
		if !ok {
			skipped++
			continue
		}
		if err := emit(meta); err != nil {
			return skipped, err
		}
	}

	return skipped, nil
}

// seekVulnerabilities advances the decoder to the top-level
// "vulnerabilities" key.
func seekVulnerabilities(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ctxerr.New(context.Background(), "feed top level is not an object")
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return ctxerr.New(context.Background(), "feed has no vulnerabilities array")
		}
		if key == "vulnerabilities" {
			return nil
		}
		// skip this key's value entirely
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return err
		}
	}
}

func (item nvdFeedItem) toCVEMeta() (vrisk.CVEMeta, bool) {
	cve := item.CVE
	if !CVERegexp.MatchString(cve.ID) {
		return vrisk.CVEMeta{}, false
	}

	meta := vrisk.CVEMeta{
		CVE:         cve.ID,
		Description: firstEnglishDescription(cve.Descriptions),
	}

	// v3.1 preferred, then v3.0, then v2.
	v3 := cve.Metrics.CVSSMetricV31
	if len(v3) == 0 {
		v3 = cve.Metrics.CVSSMetricV30
	}
	if len(v3) > 0 {
		d := v3[0].CVSSData
		meta.CVSSV3BaseScore = &d.BaseScore
		meta.CVSSV3BaseSeverity = nonEmpty(d.BaseSeverity)
		meta.CVSSV3AttackVector = nonEmpty(d.AttackVector)
		meta.CVSSV3PrivilegesRequired = nonEmpty(d.PrivilegesRequired)
		meta.CVSSV3UserInteraction = nonEmpty(d.UserInteraction)
		meta.ExploitabilityScore = v3[0].ExploitabilityScore
		meta.ImpactScore = v3[0].ImpactScore
	}
	if len(cve.Metrics.CVSSMetricV2) > 0 {
		m := cve.Metrics.CVSSMetricV2[0]
		d := m.CVSSData
		meta.CVSSV2BaseScore = &d.BaseScore
		meta.CVSSV2AccessVector = nonEmpty(d.AccessVector)
		meta.CVSSV2AccessComplexity = nonEmpty(d.AccessComplexity)
		meta.CVSSV2Authentication = nonEmpty(d.Authentication)
		if len(v3) == 0 {
			meta.ExploitabilityScore = m.ExploitabilityScore
			meta.ImpactScore = m.ImpactScore
		}
	}

	meta.PublishedDate = parseNVDTime(cve.Published)
	meta.LastModifiedDate = parseNVDTime(cve.LastModified)

	return meta, true
}

func firstEnglishDescription(descs []nvdDescription) string {
	for _, d := range descs {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(descs) > 0 {
		return descs[0].Value
	}
	return ""
}

var nvdTimeFormats = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func parseNVDTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range nvdTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
