// Package diag defines the violation and diagnostic data model shared by
// the evaluation client, the range resolver, and the sinks.
package diag

import "fmt"

// SourceName is the source attached to every published diagnostic.
const SourceName = "speclint"

// Severity represents a violation severity.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity maps a wire severity to a Severity. Absent or unknown
// values default to warning.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError:
		return Severity(s)
	default:
		return SeverityWarning
	}
}

// Rank orders severities for comparison; error ranks highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// KeyKind identifies which spec element a violation key points at.
type KeyKind string

const (
	KindOperationID KeyKind = "operation_id"
	KindPath        KeyKind = "path"
	KindSchemaPath  KeyKind = "schema_path"
	KindHTTPCode    KeyKind = "http_code"
	KindTag         KeyKind = "tag"
	KindInfo        KeyKind = "info"
	KindSystem      KeyKind = "system"
)

// ViolationKey is the wire's tagged union identifying the spec element a
// violation group pertains to. Exactly one variant is active per Kind;
// fields of inactive variants stay empty and are omitted on the wire.
// The operation_id and http_code variants may additionally carry the
// Path/OperationID used by location fallbacks.
type ViolationKey struct {
	Kind        KeyKind `json:"type"`
	OperationID string  `json:"operationId,omitempty"`
	Path        string  `json:"path,omitempty"`
	SchemaPath  string  `json:"schemaPath,omitempty"`
	HTTPCode    string  `json:"httpCode,omitempty"`
	Tag         string  `json:"tag,omitempty"`
}

// String renders the key as kind:locator for logs and dedup keys.
func (k ViolationKey) String() string {
	switch k.Kind {
	case KindOperationID:
		return fmt.Sprintf("%s:%s", k.Kind, k.OperationID)
	case KindPath:
		return fmt.Sprintf("%s:%s", k.Kind, k.Path)
	case KindSchemaPath:
		return fmt.Sprintf("%s:%s", k.Kind, k.SchemaPath)
	case KindHTTPCode:
		return fmt.Sprintf("%s:%s", k.Kind, k.HTTPCode)
	case KindTag:
		return fmt.Sprintf("%s:%s", k.Kind, k.Tag)
	default:
		return string(k.Kind)
	}
}

// Violation is a single rule-failure instance.
type Violation struct {
	RuleID   int      `json:"ruleId"`
	RuleSlug string   `json:"ruleSlug,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity,omitempty"`
}

// Group is an ordered set of violations sharing one key.
type Group struct {
	Key        ViolationKey `json:"key"`
	Violations []Violation  `json:"violations"`
}

// MaxSeverity returns the highest severity present in vs, or the empty
// severity when vs is empty.
func MaxSeverity(vs []Violation) Severity {
	var max Severity
	for _, v := range vs {
		if v.Severity.Rank() > max.Rank() {
			max = v.Severity
		}
	}
	return max
}

// Position is a 0-based line/column location in document text.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is one published finding. Derived per evaluation, never
// persisted.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Code     string   `json:"code,omitempty"`
	Source   string   `json:"source"`
}

// Action carries the rule/key pair a front end needs to request an
// ignore for the diagnostic published alongside it.
type Action struct {
	RuleID int          `json:"ruleId"`
	Key    ViolationKey `json:"key"`
}
