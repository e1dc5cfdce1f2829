package models

import "time"

// Issue is a single risk-classified grant found during an audit. Issues are
// owned exclusively by the snapshot that created them.
type Issue struct {
	ObjectType     ObjectType        `json:"object_type"`
	ObjectName     string            `json:"object_name"`
	Grantee        string            `json:"grantee"`
	Permission     string            `json:"permission"`
	RiskLevel      RiskLevel         `json:"risk_level"`
	Recommendation string            `json:"recommendation"`
	Details        map[string]string `json:"details,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// DangerousPermission is the flattened issue form used by the snapshot JSON
// export.
type DangerousPermission struct {
	Type           string `json:"type"`
	Name           string `json:"name"`
	Privilege      string `json:"privilege"`
	Grantee        string `json:"grantee"`
	RiskLevel      string `json:"risk_level"`
	Recommendation string `json:"recommendation"`
}

// Flatten converts an issue to its export form.
func (i Issue) Flatten() DangerousPermission {
	return DangerousPermission{
		Type:           string(i.ObjectType),
		Name:           i.ObjectName,
		Privilege:      i.Permission,
		Grantee:        i.Grantee,
		RiskLevel:      i.RiskLevel.String(),
		Recommendation: i.Recommendation,
	}
}
