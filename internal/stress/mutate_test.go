package stress

import (
	"encoding/json"
	"strings"
	"testing"
)

const fileSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"count": {"type": "integer"}
	},
	"required": ["path"]
}`

func TestGenerateEnumeration(t *testing.T) {
	mutations, err := Generate(json.RawMessage(fileSchema))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Sorted property order: count before path.
	// valid,
	// count: wrong_type, null, -1, max-safe  (not required),
	// path:  missing, wrong_type, null, empty, long, traversal,
	// extra_field.
	wantKinds := []MutationKind{
		MutationValid,
		MutationWrongType, MutationNullValue, MutationBoundary, MutationBoundary,
		MutationMissingRequired, MutationWrongType, MutationNullValue,
		MutationEmptyValue, MutationBoundary, MutationBoundary,
		MutationExtraField,
	}
	if len(mutations) != len(wantKinds) {
		t.Fatalf("got %d mutations, want %d: %+v", len(mutations), len(wantKinds), mutations)
	}
	for i, want := range wantKinds {
		if mutations[i].Kind != want {
			t.Errorf("mutation %d kind = %s, want %s (%s)", i, mutations[i].Kind, want, mutations[i].Description)
		}
	}

	// First count mutation before first path mutation.
	if mutations[1].Field != "count" || mutations[5].Field != "path" {
		t.Errorf("property order wrong: %q then %q", mutations[1].Field, mutations[5].Field)
	}
}

func TestGenerateValidControl(t *testing.T) {
	mutations, err := Generate(json.RawMessage(fileSchema))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	valid := mutations[0]
	if valid.Args["path"] != "test_value" {
		t.Errorf("valid path = %v, want test_value", valid.Args["path"])
	}
	if valid.Args["count"] != 42 {
		t.Errorf("valid count = %v, want 42", valid.Args["count"])
	}
}

func TestGenerateWrongTypeValues(t *testing.T) {
	mutations, _ := Generate(json.RawMessage(fileSchema))
	for _, m := range mutations {
		if m.Kind != MutationWrongType {
			continue
		}
		switch m.Field {
		case "path":
			if m.Args["path"] != 12345 {
				t.Errorf("wrong_type path = %v, want 12345", m.Args["path"])
			}
		case "count":
			if m.Args["count"] != "not_a_number" {
				t.Errorf("wrong_type count = %v, want not_a_number", m.Args["count"])
			}
		}
	}
}

func TestGenerateBoundaries(t *testing.T) {
	mutations, _ := Generate(json.RawMessage(fileSchema))

	var longSeen, traversalSeen, negSeen, maxSeen bool
	for _, m := range mutations {
		if m.Kind != MutationBoundary {
			continue
		}
		switch v := m.Args[m.Field].(type) {
		case string:
			if len(v) == longStringLen && strings.Count(v, "x") == longStringLen {
				longSeen = true
			}
			if v == pathTraversal {
				traversalSeen = true
			}
		case int:
			if v == -1 {
				negSeen = true
			}
			if v == maxSafeInteger {
				maxSeen = true
			}
		}
	}
	if !longSeen || !traversalSeen {
		t.Errorf("string boundaries missing: long=%v traversal=%v", longSeen, traversalSeen)
	}
	if !negSeen || !maxSeen {
		t.Errorf("numeric boundaries missing: neg=%v max=%v", negSeen, maxSeen)
	}
}

func TestGenerateZeroPropertySchema(t *testing.T) {
	mutations, err := Generate(json.RawMessage(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(mutations) != 2 {
		t.Fatalf("got %d mutations, want valid + extra_field", len(mutations))
	}
	if mutations[0].Kind != MutationValid || mutations[1].Kind != MutationExtraField {
		t.Errorf("kinds = %s, %s", mutations[0].Kind, mutations[1].Kind)
	}
	if mutations[1].Args["_unknown_field"] != "unexpected" {
		t.Errorf("extra field args = %v", mutations[1].Args)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a, _ := Generate(json.RawMessage(fileSchema))
	b, _ := Generate(json.RawMessage(fileSchema))
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Field != b[i].Field || a[i].Description != b[i].Description {
			t.Errorf("mutation %d differs between generations", i)
		}
	}
}

func TestGenerateDoesNotMutateSharedArgs(t *testing.T) {
	mutations, _ := Generate(json.RawMessage(fileSchema))
	mutations[1].Args["path"] = "poisoned"
	for i, m := range mutations[2:] {
		if m.Args["path"] == "poisoned" {
			t.Fatalf("mutation %d shares the args map", i+2)
		}
	}
}

func TestCompileCheck(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		wantErr bool
	}{
		{"valid", fileSchema, false},
		{"empty", "", true},
		{"not json", "{nope", true},
		{"bad type keyword", `{"type": 42}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CompileCheck(json.RawMessage(tt.schema))
			if (err != nil) != tt.wantErr {
				t.Errorf("CompileCheck(%s) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}
