package vrisk

import "time"

// Exploit is one ExploitDB catalogue entry.
type Exploit struct {
	ExploitID     uint       `json:"exploit_id" db:"exploit_id"`
	File          *string    `json:"file,omitempty" db:"file"`
	Description   *string    `json:"description,omitempty" db:"description"`
	DatePublished *time.Time `json:"date_published,omitempty" db:"date_published"`
	Author        *string    `json:"author,omitempty" db:"author"`
	Type          *string    `json:"type,omitempty" db:"type"`
	Platform      *string    `json:"platform,omitempty" db:"platform"`
	Port          *string    `json:"port,omitempty" db:"port"`
	Verified      bool       `json:"verified" db:"verified"`
}

// ExploitCVE links a CVE to an ExploitDB entry, derived from the feed's
// "codes" field.
type ExploitCVE struct {
	CVE       string `json:"cve" db:"cve"`
	ExploitID uint   `json:"exploit_id" db:"exploit_id"`
}

// ExploitInfo is the aggregated per-CVE exploit view used by the risk
// engine: the representative type plus catalogue stats.
type ExploitInfo struct {
	CVE             string     `db:"cve"`
	Type            *string    `db:"type"`
	Count           int        `db:"count"`
	LastExploitDate *time.Time `db:"last_exploit_date"`
}
