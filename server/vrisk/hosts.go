package vrisk

import "time"

// Criticality is the operator-assigned asset criticality of a host.
type Criticality string

const (
	CriticalityCritical Criticality = "Critical"
	CriticalityHigh     Criticality = "High"
	CriticalityMedium   Criticality = "Medium"
	CriticalityLow      Criticality = "Low"
	CriticalityNone     Criticality = "None"
)

// ValidCriticality reports whether c is one of the known levels.
func ValidCriticality(c Criticality) bool {
	switch c {
	case CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow, CriticalityNone:
		return true
	}
	return false
}

// Host is one (host, CVE) pair from an inventory import. A host carrying N
// CVEs yields N rows; CVE is never empty, rows with no CVE are dropped at
// ingest.
type Host struct {
	ID       uint   `json:"id" db:"id"`
	Hostname string `json:"hostname" db:"hostname"`
	IP       string `json:"ip" db:"ip"`
	CVE      string `json:"cve" db:"cve"`

	CVSS        *float64    `json:"cvss,omitempty" db:"cvss"`
	Criticality Criticality `json:"criticality" db:"criticality"`
	OSName      *string     `json:"os_name,omitempty" db:"os_name"`
	Zone        *string     `json:"zone,omitempty" db:"zone"`
	Status      string      `json:"status" db:"status"`

	ConfidentialData *bool `json:"confidential_data,omitempty" db:"confidential_data"`
	InternetAccess   *bool `json:"internet_access,omitempty" db:"internet_access"`

	EPSSScore      *float64 `json:"epss_score,omitempty" db:"epss_score"`
	EPSSPercentile *float64 `json:"epss_percentile,omitempty" db:"epss_percentile"`
	RiskScore      *int     `json:"risk_score,omitempty" db:"risk_score"`
	RiskRaw        *float64 `json:"risk_raw,omitempty" db:"risk_raw"`

	ExploitsCount   int        `json:"exploits_count" db:"exploits_count"`
	HasExploits     bool       `json:"has_exploits" db:"has_exploits"`
	LastExploitDate *time.Time `json:"last_exploit_date,omitempty" db:"last_exploit_date"`

	ImportedAt        time.Time  `json:"imported_at" db:"imported_at"`
	EPSSUpdatedAt     *time.Time `json:"epss_updated_at,omitempty" db:"epss_updated_at"`
	RiskUpdatedAt     *time.Time `json:"risk_updated_at,omitempty" db:"risk_updated_at"`
	ExploitsUpdatedAt *time.Time `json:"exploits_updated_at,omitempty" db:"exploits_updated_at"`
}

// HostRiskUpdate is the per-row payload of a bulk risk recompute.
type HostRiskUpdate struct {
	HostID         uint
	EPSSScore      *float64
	EPSSPercentile *float64
	RiskScore      int
	RiskRaw        float64
}

// HostListFilter narrows host listings and exports.
type HostListFilter struct {
	Hostname    string
	CVE         string
	Criticality Criticality
	Zone        string
	OSName      string
	MinRisk     *int
}

// ListOptions holds ordering and pagination for list queries.
type ListOptions struct {
	Page            uint
	PerPage         uint
	OrderKey        string
	OrderDescending bool
}
