package vrisk

import "time"

// CVEMeta is the per-CVE attribute row loaded from the NVD-shaped feed. A
// row may carry v3 fields, v2 fields, both, or neither.
type CVEMeta struct {
	CVE         string `json:"cve_id" db:"cve_id"`
	Description string `json:"description" db:"description"`

	CVSSV3BaseScore          *float64 `json:"cvss_v3_base_score,omitempty" db:"cvss_v3_base_score"`
	CVSSV3BaseSeverity       *string  `json:"cvss_v3_base_severity,omitempty" db:"cvss_v3_base_severity"`
	CVSSV3AttackVector       *string  `json:"cvss_v3_attack_vector,omitempty" db:"cvss_v3_attack_vector"`
	CVSSV3PrivilegesRequired *string  `json:"cvss_v3_privileges_required,omitempty" db:"cvss_v3_privileges_required"`
	CVSSV3UserInteraction    *string  `json:"cvss_v3_user_interaction,omitempty" db:"cvss_v3_user_interaction"`

	CVSSV2BaseScore        *float64 `json:"cvss_v2_base_score,omitempty" db:"cvss_v2_base_score"`
	CVSSV2AccessVector     *string  `json:"cvss_v2_access_vector,omitempty" db:"cvss_v2_access_vector"`
	CVSSV2AccessComplexity *string  `json:"cvss_v2_access_complexity,omitempty" db:"cvss_v2_access_complexity"`
	CVSSV2Authentication   *string  `json:"cvss_v2_authentication,omitempty" db:"cvss_v2_authentication"`

	ExploitabilityScore *float64 `json:"exploitability_score,omitempty" db:"exploitability_score"`
	ImpactScore         *float64 `json:"impact_score,omitempty" db:"impact_score"`

	PublishedDate    *time.Time `json:"published_date,omitempty" db:"published_date"`
	LastModifiedDate *time.Time `json:"last_modified_date,omitempty" db:"last_modified_date"`
}

// EPSSScore is one row of the EPSS daily snapshot feed.
type EPSSScore struct {
	CVE        string     `json:"cve" db:"cve"`
	EPSS       float64    `json:"epss" db:"epss"`
	Percentile float64    `json:"percentile" db:"percentile"`
	Date       *time.Time `json:"date,omitempty" db:"date"`
}
