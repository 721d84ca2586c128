package vrisk

import (
	"fmt"
	"strconv"
	"strings"
)

// RiskSettings is the typed snapshot of the operator-tunable risk knobs.
// The risk engine consumes this snapshot and never reads the store; callers
// load it once per task.
type RiskSettings struct {
	CriticalityWeights map[Criticality]float64

	ConfidentialDataWeight   float64
	NoConfidentialDataWeight float64
	InternetAccessWeight     float64
	NoInternetAccessWeight   float64

	CVSS3AttackVector       map[string]float64
	CVSS3PrivilegesRequired map[string]float64
	CVSS3UserInteraction    map[string]float64

	CVSS2AccessVector     map[string]float64
	CVSS2AccessComplexity map[string]float64
	CVSS2Authentication   map[string]float64

	// Multipliers keyed by ExploitDB type and Metasploit rank text.
	ExploitDBTypeFactors  map[string]float64
	MetasploitRankFactors map[string]float64
}

// DefaultRiskSettings returns the factory risk configuration.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		CriticalityWeights: map[Criticality]float64{
			CriticalityCritical: 0.33,
			CriticalityHigh:     0.25,
			CriticalityMedium:   0.20,
			CriticalityLow:      0.10,
			CriticalityNone:     0.20,
		},
		ConfidentialDataWeight:   0.33,
		NoConfidentialDataWeight: 0.20,
		InternetAccessWeight:     0.33,
		NoInternetAccessWeight:   0.20,
		CVSS3AttackVector: map[string]float64{
			"NETWORK":          1.2,
			"ADJACENT_NETWORK": 1.1,
			"ADJACENT":         1.1,
			"LOCAL":            1.0,
			"PHYSICAL":         0.9,
		},
		CVSS3PrivilegesRequired: map[string]float64{
			"NONE": 1.2,
			"LOW":  1.1,
			"HIGH": 1.0,
		},
		CVSS3UserInteraction: map[string]float64{
			"NONE":     1.2,
			"REQUIRED": 1.0,
		},
		CVSS2AccessVector: map[string]float64{
			"NETWORK":          1.2,
			"ADJACENT_NETWORK": 1.1,
			"LOCAL":            1.0,
		},
		CVSS2AccessComplexity: map[string]float64{
			"LOW":    1.2,
			"MEDIUM": 1.1,
			"HIGH":   1.0,
		},
		CVSS2Authentication: map[string]float64{
			"NONE":     1.2,
			"SINGLE":   1.1,
			"MULTIPLE": 1.0,
		},
		ExploitDBTypeFactors: map[string]float64{
			"remote":   1.0,
			"webapps":  1.0,
			"dos":      1.0,
			"local":    1.0,
			"hardware": 1.0,
		},
		MetasploitRankFactors: map[string]float64{
			"excellent": 1.0,
			"good":      1.0,
			"normal":    1.0,
			"average":   1.0,
			"low":       1.0,
			"manual":    1.0,
			"unknown":   1.0,
		},
	}
}

// RiskSettingsFromMap builds a snapshot from the flat settings table,
// starting at defaults and applying every parseable override. Unknown keys
// and unparseable values are skipped; the settings surface validates on
// write, this is the tolerant read side.
func RiskSettingsFromMap(raw map[string]string) RiskSettings {
	s := DefaultRiskSettings()
	for key, value := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		applyRiskSetting(&s, key, f)
	}
	return s
}

func applyRiskSetting(s *RiskSettings, key string, f float64) {
	switch {
	case strings.HasPrefix(key, "impact_criticality_"):
		c := Criticality(strings.Title(strings.TrimPrefix(key, "impact_criticality_"))) //nolint:staticcheck // ascii keys
		if ValidCriticality(c) {
			s.CriticalityWeights[c] = f
		}
	case key == "impact_confidential_data":
		s.ConfidentialDataWeight = f
	case key == "impact_no_confidential_data":
		s.NoConfidentialDataWeight = f
	case key == "impact_internet_access":
		s.InternetAccessWeight = f
	case key == "impact_no_internet_access":
		s.NoInternetAccessWeight = f
	case strings.HasPrefix(key, "cvss3_av_"):
		s.CVSS3AttackVector[vectorToken(key, "cvss3_av_")] = f
	case strings.HasPrefix(key, "cvss3_pr_"):
		s.CVSS3PrivilegesRequired[vectorToken(key, "cvss3_pr_")] = f
	case strings.HasPrefix(key, "cvss3_ui_"):
		s.CVSS3UserInteraction[vectorToken(key, "cvss3_ui_")] = f
	case strings.HasPrefix(key, "cvss2_av_"):
		s.CVSS2AccessVector[vectorToken(key, "cvss2_av_")] = f
	case strings.HasPrefix(key, "cvss2_ac_"):
		s.CVSS2AccessComplexity[vectorToken(key, "cvss2_ac_")] = f
	case strings.HasPrefix(key, "cvss2_au_"):
		s.CVSS2Authentication[vectorToken(key, "cvss2_au_")] = f
	case strings.HasPrefix(key, "exdb_"):
		s.ExploitDBTypeFactors[strings.TrimPrefix(key, "exdb_")] = f
	case strings.HasPrefix(key, "msf_"):
		s.MetasploitRankFactors[strings.TrimPrefix(key, "msf_")] = f
	}
}

func vectorToken(key, prefix string) string {
	return strings.ToUpper(strings.TrimPrefix(key, prefix))
}

// Map flattens the snapshot back to settings-table rows, the inverse of
// RiskSettingsFromMap for the settings API surface.
func (s RiskSettings) Map() map[string]string {
	out := make(map[string]string)
	put := func(key string, f float64) {
		out[key] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	for c, w := range s.CriticalityWeights {
		put("impact_criticality_"+strings.ToLower(string(c)), w)
	}
	put("impact_confidential_data", s.ConfidentialDataWeight)
	put("impact_no_confidential_data", s.NoConfidentialDataWeight)
	put("impact_internet_access", s.InternetAccessWeight)
	put("impact_no_internet_access", s.NoInternetAccessWeight)
	for k, f := range s.CVSS3AttackVector {
		put("cvss3_av_"+strings.ToLower(k), f)
	}
	for k, f := range s.CVSS3PrivilegesRequired {
		put("cvss3_pr_"+strings.ToLower(k), f)
	}
	for k, f := range s.CVSS3UserInteraction {
		put("cvss3_ui_"+strings.ToLower(k), f)
	}
	for k, f := range s.CVSS2AccessVector {
		put("cvss2_av_"+strings.ToLower(k), f)
	}
	for k, f := range s.CVSS2AccessComplexity {
		put("cvss2_ac_"+strings.ToLower(k), f)
	}
	for k, f := range s.CVSS2Authentication {
		put("cvss2_au_"+strings.ToLower(k), f)
	}
	for k, f := range s.ExploitDBTypeFactors {
		put("exdb_"+k, f)
	}
	for k, f := range s.MetasploitRankFactors {
		put("msf_"+k, f)
	}
	return out
}

// ValidateRiskSettingValue checks a single settings write. Factor values
// must be non-negative floats.
func ValidateRiskSettingValue(key, value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("setting %s: value %q is not a number", key, value)
	}
	if f < 0 {
		return fmt.Errorf("setting %s: value must not be negative", key)
	}
	return nil
}
