package profile

import (
	"fmt"
	"strings"
)

// RiskLevel is one of the five investor risk bands, ordered from most to
// least risk tolerant.
type RiskLevel string

const (
	AggressiveGrowth RiskLevel = "aggressive-growth" // 공격투자형
	ActiveGrowth     RiskLevel = "active-growth"     // 적극투자형
	RiskNeutral      RiskLevel = "risk-neutral"      // 위험중립형
	Conservative     RiskLevel = "conservative"      // 안전추구형
	StabilityFocused RiskLevel = "stability-focused" // 안정형
)

// RiskLevels lists every band from most to least risk tolerant.
var RiskLevels = []RiskLevel{
	AggressiveGrowth,
	ActiveGrowth,
	RiskNeutral,
	Conservative,
	StabilityFocused,
}

var koreanLabels = map[RiskLevel]string{
	AggressiveGrowth: "공격투자형",
	ActiveGrowth:     "적극투자형",
	RiskNeutral:      "위험중립형",
	Conservative:     "안전추구형",
	StabilityFocused: "안정형",
}

// Korean returns the label used on Korean suitability forms.
func (l RiskLevel) Korean() string {
	return koreanLabels[l]
}

// Rank orders bands by risk tolerance: 5 for aggressive-growth down to 1
// for stability-focused, 0 for an unknown level.
func (l RiskLevel) Rank() int {
	for i, level := range RiskLevels {
		if level == l {
			return len(RiskLevels) - i
		}
	}
	return 0
}

// Valid reports whether l is one of the five bands.
func (l RiskLevel) Valid() bool {
	return l.Rank() > 0
}

func (l RiskLevel) String() string {
	return string(l)
}

// ParseRiskLevel accepts either the English band name or its Korean label.
func ParseRiskLevel(s string) (RiskLevel, error) {
	s = strings.TrimSpace(s)
	for _, level := range RiskLevels {
		if strings.EqualFold(s, string(level)) || s == level.Korean() {
			return level, nil
		}
	}
	return "", fmt.Errorf("profile: unknown risk level %q", s)
}
