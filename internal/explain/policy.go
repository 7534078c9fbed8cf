package explain

import "auditrisk/internal/schema"

// Policy is the operator-facing meaning and weight of a feature breach.
type Policy struct {
	Description string
	Deduction   int
	Critical    bool
}

var policies = map[string]Policy{
	schema.HourOfDay:       {Description: "off-hours access", Deduction: 20},
	schema.IsWorkday:       {Description: "access on a non-working day", Deduction: 10},
	schema.LogRowCount:     {Description: "abnormal rows returned (possible exfiltration)", Deduction: 50},
	schema.LogAffectedRows: {Description: "abnormal rows affected", Deduction: 60},
	schema.LogExecTime:     {Description: "slow query", Deduction: 30},
	schema.Freq1Min:        {Description: "high call frequency (possible scanning)", Deduction: 20},
	schema.SQLTypeWeight:   {Description: "high-risk statement type", Deduction: 30},
	schema.ConditionCount:  {Description: "unusually complex conditions", Deduction: 40},
	schema.JoinCount:       {Description: "many-table join", Deduction: 40},
	schema.NestedLevel:     {Description: "deeply nested query", Deduction: 30},
	schema.HasAlwaysTrue:   {Description: "always-true predicate (SQL injection)", Deduction: 100, Critical: true},
	schema.ClientAppRisk:   {Description: "unapproved client tool", Deduction: 80},
	schema.ErrorCodeRisk:   {Description: "database error", Deduction: 20},

	schema.SQLLength: {Description: "unusual statement length", Deduction: 20},
	schema.NumTables: {Description: "many tables touched", Deduction: 30},
	schema.NumJoins:  {Description: "many-table join", Deduction: 40},
}

// Flags that are either set or not. Any positive value breaches them.
var flagFeatures = map[string]bool{
	schema.HasAlwaysTrue: true,
	schema.ClientAppRisk: true,
	schema.ErrorCodeRisk: true,
}

const flagUpperBound = 0.5

// PolicyFor returns the policy of a feature, falling back to a minor
// deduction described by the feature name.
func PolicyFor(feature string) Policy {
	if p, ok := policies[feature]; ok {
		return p
	}
	return Policy{Description: feature, Deduction: 10}
}
