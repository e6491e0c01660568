// Package stress drives a tool server through a schema-derived fuzz
// sweep and classifies how it copes with malformed input.
package stress

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MutationKind labels one generated test input.
type MutationKind string

const (
	MutationValid           MutationKind = "valid"
	MutationMissingRequired MutationKind = "missing_required"
	MutationWrongType       MutationKind = "wrong_type"
	MutationNullValue       MutationKind = "null_value"
	MutationEmptyValue      MutationKind = "empty_value"
	MutationBoundary        MutationKind = "boundary"
	MutationExtraField      MutationKind = "extra_field"
)

// Mutation is one generated test input for a stress probe.
type Mutation struct {
	Kind        MutationKind   `json:"kind"`
	Field       string         `json:"field,omitempty"`
	Description string         `json:"description"`
	Args        map[string]any `json:"args"`
}

// longStringLen is the boundary-case string length.
const longStringLen = 10000

// pathTraversal is the fixed boundary literal probed into every string
// property.
const pathTraversal = "../../../etc/passwd"

// maxSafeInteger is 2^53-1, the largest integer exactly representable
// in an IEEE-754 double; servers speaking JSON commonly break past it.
const maxSafeInteger = 1<<53 - 1

// inputSchema is the subset of JSON Schema the generator walks. The
// full document is additionally compiled (see CompileCheck) so a
// malformed declaration is caught before the sweep.
type inputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]propertyDef `json:"properties"`
	Required   []string               `json:"required"`
}

type propertyDef struct {
	Type string `json:"type"`
}

// Generate emits the finite, deterministic mutation sequence for a
// declared tool input schema: one valid control, typed perturbations
// per property in sorted order, and one trailing extra_field variant.
func Generate(schema json.RawMessage) ([]Mutation, error) {
	var parsed inputSchema
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &parsed); err != nil {
			return nil, fmt.Errorf("parse input schema: %w", err)
		}
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, name := range parsed.Required {
		required[name] = true
	}

	names := make([]string, 0, len(parsed.Properties))
	for name := range parsed.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	valid := make(map[string]any, len(names))
	for _, name := range names {
		valid[name] = defaultValue(parsed.Properties[name].Type)
	}

	mutations := []Mutation{{
		Kind:        MutationValid,
		Description: "control input with type-default values",
		Args:        valid,
	}}

	for _, name := range names {
		prop := parsed.Properties[name]

		if required[name] {
			mutations = append(mutations, Mutation{
				Kind:        MutationMissingRequired,
				Field:       name,
				Description: fmt.Sprintf("omit required field %q", name),
				Args:        cloneWithout(valid, name),
			})
		}

		mutations = append(mutations, Mutation{
			Kind:        MutationWrongType,
			Field:       name,
			Description: fmt.Sprintf("wrong type for %q", name),
			Args:        cloneWith(valid, name, wrongTypeValue(prop.Type)),
		})

		mutations = append(mutations, Mutation{
			Kind:        MutationNullValue,
			Field:       name,
			Description: fmt.Sprintf("null value for %q", name),
			Args:        cloneWith(valid, name, nil),
		})

		switch prop.Type {
		case "string":
			mutations = append(mutations,
				Mutation{
					Kind:        MutationEmptyValue,
					Field:       name,
					Description: fmt.Sprintf("empty string for %q", name),
					Args:        cloneWith(valid, name, ""),
				},
				Mutation{
					Kind:        MutationBoundary,
					Field:       name,
					Description: fmt.Sprintf("%d-char string for %q", longStringLen, name),
					Args:        cloneWith(valid, name, strings.Repeat("x", longStringLen)),
				},
				Mutation{
					Kind:        MutationBoundary,
					Field:       name,
					Description: fmt.Sprintf("path traversal in %q", name),
					Args:        cloneWith(valid, name, pathTraversal),
				},
			)
		case "array":
			mutations = append(mutations, Mutation{
				Kind:        MutationEmptyValue,
				Field:       name,
				Description: fmt.Sprintf("empty array for %q", name),
				Args:        cloneWith(valid, name, []any{}),
			})
		case "integer", "number":
			mutations = append(mutations,
				Mutation{
					Kind:        MutationBoundary,
					Field:       name,
					Description: fmt.Sprintf("negative value for %q", name),
					Args:        cloneWith(valid, name, -1),
				},
				Mutation{
					Kind:        MutationBoundary,
					Field:       name,
					Description: fmt.Sprintf("max safe integer for %q", name),
					Args:        cloneWith(valid, name, maxSafeInteger),
				},
			)
		}
	}

	extra := cloneWith(valid, "_unknown_field", "unexpected")
	mutations = append(mutations, Mutation{
		Kind:        MutationExtraField,
		Description: "unexpected additional field",
		Args:        extra,
	})

	return mutations, nil
}

// CompileCheck verifies a declared input schema is itself a valid JSON
// Schema document. Tools advertising broken schemas are skipped rather
// than probed with garbage derived from garbage.
func CompileCheck(schema json.RawMessage) error {
	if len(schema) == 0 {
		return fmt.Errorf("no input schema declared")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-input.json", strings.NewReader(string(schema))); err != nil {
		return fmt.Errorf("input schema not valid JSON: %w", err)
	}
	if _, err := compiler.Compile("tool-input.json"); err != nil {
		return fmt.Errorf("input schema does not compile: %w", err)
	}
	return nil
}

func defaultValue(typ string) any {
	switch typ {
	case "string":
		return "test_value"
	case "integer", "number":
		return 42
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "test_value"
	}
}

// wrongTypeValue returns a canonical foreign value for a type swap.
func wrongTypeValue(typ string) any {
	switch typ {
	case "string":
		return 12345
	case "integer", "number":
		return "not_a_number"
	case "boolean":
		return "not_a_boolean"
	case "array":
		return "not_an_array"
	case "object":
		return "not_an_object"
	default:
		return 12345
	}
}

func cloneWith(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

func cloneWithout(base map[string]any, key string) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		if k != key {
			out[k] = v
		}
	}
	return out
}
