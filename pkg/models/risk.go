package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel is the ordinal classification of a grant's potential for harm.
// Levels are totally ordered: Safe < Low < Medium < High, so they can be
// compared and filtered directly.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
)

// AllRiskLevels lists every level from highest to lowest severity.
var AllRiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow, RiskSafe}

// String returns the lowercase wire form used in reports and JSON exports.
func (r RiskLevel) String() string {
	switch r {
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	case RiskLow:
		return "low"
	default:
		return "safe"
	}
}

// ParseRiskLevel converts a case-insensitive level name to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return RiskHigh, nil
	case "medium":
		return RiskMedium, nil
	case "low":
		return RiskLow, nil
	case "safe":
		return RiskSafe, nil
	}
	return RiskSafe, fmt.Errorf("unknown risk level %q", s)
}

// AtLeast reports whether r is at least as severe as min.
func (r RiskLevel) AtLeast(min RiskLevel) bool { return r >= min }

// MarshalJSON encodes the level as its lowercase name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a lowercase level name.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// ObjectType identifies the kind of database object a grant or issue refers to.
type ObjectType string

const (
	ObjectRole     ObjectType = "role"
	ObjectSchema   ObjectType = "schema"
	ObjectTable    ObjectType = "table"
	ObjectFunction ObjectType = "function"
	ObjectDatabase ObjectType = "database"
	ObjectSequence ObjectType = "sequence"
)

// PublicGrantee is the pseudo-role meaning "every role".
const PublicGrantee = "PUBLIC"
