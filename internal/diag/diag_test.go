package diag

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"info", SeverityInfo},
		{"warning", SeverityWarning},
		{"error", SeverityError},
		{"", SeverityWarning},
		{"critical", SeverityWarning},
	}

	for _, tt := range tests {
		if got := ParseSeverity(tt.in); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	vs := []Violation{
		{RuleID: 1, Severity: SeverityInfo},
		{RuleID: 2, Severity: SeverityError},
		{RuleID: 3, Severity: SeverityWarning},
	}

	if got := MaxSeverity(vs); got != SeverityError {
		t.Errorf("MaxSeverity = %q, want error", got)
	}

	if got := MaxSeverity(nil); got != Severity("") {
		t.Errorf("MaxSeverity(nil) = %q, want empty", got)
	}
}

func TestViolationKeyWireForm(t *testing.T) {
	key := ViolationKey{Kind: KindOperationID, OperationID: "listPets", Path: "/pets"}

	data, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s := string(data)
	if !strings.Contains(s, `"type":"operation_id"`) {
		t.Errorf("missing type tag: %s", s)
	}
	if !strings.Contains(s, `"operationId":"listPets"`) {
		t.Errorf("missing operationId: %s", s)
	}
	// Inactive variant fields must be absent
	if strings.Contains(s, "schemaPath") || strings.Contains(s, "httpCode") || strings.Contains(s, `"tag"`) {
		t.Errorf("inactive variant fields present: %s", s)
	}

	var back ViolationKey
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != key {
		t.Errorf("round trip changed key: %+v vs %+v", back, key)
	}
}

func TestViolationKeyString(t *testing.T) {
	tests := []struct {
		key  ViolationKey
		want string
	}{
		{ViolationKey{Kind: KindOperationID, OperationID: "listPets"}, "operation_id:listPets"},
		{ViolationKey{Kind: KindPath, Path: "/pets/{petId}"}, "path:/pets/{petId}"},
		{ViolationKey{Kind: KindHTTPCode, HTTPCode: "404", Path: "/pets"}, "http_code:404"},
		{ViolationKey{Kind: KindInfo}, "info"},
		{ViolationKey{Kind: KindSystem}, "system"},
	}

	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	if SeverityError.Rank() <= SeverityWarning.Rank() {
		t.Error("error should outrank warning")
	}
	if SeverityWarning.Rank() <= SeverityInfo.Rank() {
		t.Error("warning should outrank info")
	}
	if Severity("").Rank() >= SeverityInfo.Rank() {
		t.Error("empty severity should rank below info")
	}
}
