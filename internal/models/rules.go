package models

// FilterRules defines the YAML configuration for selecting records during export.
type FilterRules struct {
	// Match is "all" (default) or "any".
	Match string       `json:"match" yaml:"match"`
	Limit int          `json:"limit,omitempty" yaml:"limit,omitempty"`
	Rules []FilterRule `json:"rules" yaml:"rules"`
}

// FilterRule compares one record field against a value.
type FilterRule struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`       // "==", "!=", ">", ">=", "<", "<=", "contains", "glob", "present", "absent"
	Value any    `json:"value" yaml:"value"` // string or int
}
