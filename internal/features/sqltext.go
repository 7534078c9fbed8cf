package features

import (
	"strings"

	"auditrisk/pkg/models"
)

// AST is a keyword-count approximation of a parsed statement. It misses
// obfuscated patterns (comments between tokens, encoded tautologies) and is
// only meant to track the upstream parser closely enough for retraining on
// stored query text.
type AST struct {
	ConditionCount int
	JoinCount      int
	NestedLevel    int
	HasAlwaysTrue  bool
}

// ApproximateAST counts structural keywords in raw SQL text.
func ApproximateAST(sql string) AST {
	if strings.TrimSpace(sql) == "" {
		return AST{}
	}
	s := strings.ToLower(sql)
	nested := strings.Count(s, " select ") - 1
	if nested < 0 {
		nested = 0
	}
	return AST{
		ConditionCount: strings.Count(s, " and ") + strings.Count(s, " or ") + strings.Count(s, " where "),
		JoinCount:      strings.Count(s, " join "),
		NestedLevel:    nested,
		HasAlwaysTrue:  strings.Contains(s, "1=1") || strings.Contains(s, "1 = 1"),
	}
}

// SQLTypeWeight grades the statement verb.
func SQLTypeWeight(sql string) int {
	s := strings.ToLower(sql)
	switch {
	case strings.Contains(s, "drop "), strings.Contains(s, "truncate "), strings.Contains(s, "grant "):
		return models.WeightDestructive
	case strings.Contains(s, "update "), strings.Contains(s, "delete "), strings.Contains(s, "insert "):
		return models.WeightWrite
	default:
		return models.WeightRead
	}
}

var riskyClients = []string{"python", "curl", "sqlmap"}

// ClientAppRisk flags scripted or attack-tool client signatures.
func ClientAppRisk(clientApp string) bool {
	c := strings.ToLower(clientApp)
	for _, sig := range riskyClients {
		if strings.Contains(c, sig) {
			return true
		}
	}
	return false
}

// ApplySQL fills the text-derived fields of an event.
func ApplySQL(ev *models.AuditEvent, sql string) {
	ast := ApproximateAST(sql)
	ev.ConditionCount = ast.ConditionCount
	ev.JoinCount = ast.JoinCount
	ev.NestedLevel = ast.NestedLevel
	ev.HasAlwaysTrue = ast.HasAlwaysTrue
	ev.SQLTypeWeight = SQLTypeWeight(sql)
	ev.SQLLength = len(sql)
}
