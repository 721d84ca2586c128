package vrisk

import "time"

// MetasploitModule is one entry from the Rapid7 modules metadata feed.
type MetasploitModule struct {
	ModuleName     string     `json:"module_name" db:"module_name"`
	Name           string     `json:"name" db:"name"`
	Fullname       string     `json:"fullname" db:"fullname"`
	Rank           int        `json:"rank" db:"rank"`
	RankText       string     `json:"rank_text" db:"rank_text"`
	DisclosureDate *time.Time `json:"disclosure_date,omitempty" db:"disclosure_date"`
	Type           string     `json:"type" db:"type"`
	Description    string     `json:"description" db:"description"`
	References     string     `json:"references" db:"references"`
}

// MetasploitModuleCVE links a CVE to a module, extracted from the module's
// references at import time so rank lookups stay set-valued.
type MetasploitModuleCVE struct {
	ModuleName string `json:"module_name" db:"module_name"`
	CVE        string `json:"cve" db:"cve"`
}

var msfRankText = map[int]string{
	0:   "manual",
	200: "low",
	300: "average",
	400: "normal",
	500: "good",
	600: "excellent",
}

// MetasploitRankText maps a numeric module rank to its text form; unknown
// ranks map to "unknown".
func MetasploitRankText(rank int) string {
	if text, ok := msfRankText[rank]; ok {
		return text
	}
	return "unknown"
}
