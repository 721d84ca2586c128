// Package risk implements the closed-form host risk score. The scorer is a
// pure function over a settings snapshot; it never touches the store.
package risk

import (
	"math"

	"github.com/vriskhq/vrisk/server/vrisk"
)

const (
	// Substituted when a CVE has no EPSS row, a neutral prior so absence
	// does not zero the score.
	defaultEPSS = 0.5
	// Substituted when neither the host nor the CVE carries a CVSS score,
	// making the CVSS/10 factor neutral.
	defaultCVSS = 10.0
)

// Input is everything the scorer consumes for one (host, CVE) row.
type Input struct {
	HostCVSS         *float64
	Criticality      vrisk.Criticality
	ConfidentialData *bool
	InternetAccess   *bool

	EPSS           *float64
	CVEMeta        *vrisk.CVEMeta
	ExploitDBType  *string
	MetasploitRank *int
}

// Score computes the raw risk product and the bounded 0-100 score:
//
//	raw  = EPSS x (CVSS/10) x Impact x CVEparam x ExDBparam x MSFparam
//	score = round(min(1, raw) x 100)
func Score(in Input, s vrisk.RiskSettings) (raw float64, score int) {
	raw = epss(in) * cvss(in) / 10 * impact(in, s) * cveParam(in, s) * exdbParam(in, s) * msfParam(in, s)
	return raw, int(math.Round(math.Min(1, raw) * 100))
}

func epss(in Input) float64 {
	if in.EPSS != nil {
		return *in.EPSS
	}
	return defaultEPSS
}

func cvss(in Input) float64 {
	switch {
	case in.HostCVSS != nil:
		return *in.HostCVSS
	case in.CVEMeta != nil && in.CVEMeta.CVSSV3BaseScore != nil:
		return *in.CVEMeta.CVSSV3BaseScore
	case in.CVEMeta != nil && in.CVEMeta.CVSSV2BaseScore != nil:
		return *in.CVEMeta.CVSSV2BaseScore
	}
	return defaultCVSS
}

func impact(in Input, s vrisk.RiskSettings) float64 {
	crit, ok := s.CriticalityWeights[in.Criticality]
	if !ok {
		crit = s.CriticalityWeights[vrisk.CriticalityMedium]
	}

	data := s.NoConfidentialDataWeight
	if in.ConfidentialData != nil && *in.ConfidentialData {
		data = s.ConfidentialDataWeight
	}

	inet := s.NoInternetAccessWeight
	if in.InternetAccess != nil && *in.InternetAccess {
		inet = s.InternetAccessWeight
	}

	return crit + data + inet
}

// cveParam multiplies the CVSS vector attribute factors: the v3 vector when
// present, else the v2 vector, else neutral.
func cveParam(in Input, s vrisk.RiskSettings) float64 {
	meta := in.CVEMeta
	if meta == nil {
		return 1.0
	}

	if meta.CVSSV3AttackVector != nil {
		return factor(s.CVSS3AttackVector, meta.CVSSV3AttackVector) *
			factor(s.CVSS3PrivilegesRequired, meta.CVSSV3PrivilegesRequired) *
			factor(s.CVSS3UserInteraction, meta.CVSSV3UserInteraction)
	}

	if meta.CVSSV2AccessVector != nil {
		return factor(s.CVSS2AccessVector, meta.CVSSV2AccessVector) *
			factor(s.CVSS2AccessComplexity, meta.CVSSV2AccessComplexity) *
			factor(s.CVSS2Authentication, meta.CVSSV2Authentication)
	}

	return 1.0
}

func exdbParam(in Input, s vrisk.RiskSettings) float64 {
	return factor(s.ExploitDBTypeFactors, in.ExploitDBType)
}

func msfParam(in Input, s vrisk.RiskSettings) float64 {
	if in.MetasploitRank == nil {
		return 1.0
	}
	if f, ok := s.MetasploitRankFactors[vrisk.MetasploitRankText(*in.MetasploitRank)]; ok {
		return f
	}
	return 1.0
}

func factor(table map[string]float64, key *string) float64 {
	if key == nil {
		return 1.0
	}
	if f, ok := table[*key]; ok {
		return f
	}
	return 1.0
}
