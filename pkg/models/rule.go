package models

// ExplanationRule is the normal operating envelope of one feature plus the
// deduction a downstream decision layer applies when it is breached.
type ExplanationRule struct {
	Description string  `json:"desc"`
	UpperBound  float64 `json:"max"`
	LowerBound  float64 `json:"min"`
	Deduction   int     `json:"deduction"`
	IsCritical  bool    `json:"is_critical"`
}
