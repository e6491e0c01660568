package chaos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProbValue is a probabilistic magnitude: with probability P the effect
// fires and the magnitude is Value, or a uniform integer in [Min, Max]
// when Value is absent.
type ProbValue struct {
	P     float64 `json:"p"`
	Value *int    `json:"value,omitempty"`
	Min   int     `json:"min,omitempty"`
	Max   int     `json:"max,omitempty"`
}

// Rule configures perturbations for one tool (or globally). Nil fields
// mean no effect.
type Rule struct {
	DelayMs     *ProbValue `json:"delayMs,omitempty"`
	FailRate    *float64   `json:"failRate,omitempty"`
	CorruptRate *float64   `json:"corruptRate,omitempty"`
}

// Config is a chaos configuration: a seed, an optional global rule, and
// per-tool overrides that shallow-merge over the global rule.
type Config struct {
	Seed   uint32           `json:"seed"`
	Global *Rule            `json:"global,omitempty"`
	Tools  map[string]*Rule `json:"tools,omitempty"`
}

// configSchema constrains chaos config files. Malformed config is fatal
// before anything is created in the journal.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "seed": {"type": "integer", "minimum": 0, "maximum": 4294967295},
    "global": {"$ref": "#/$defs/rule"},
    "tools": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/rule"}
    }
  },
  "additionalProperties": false,
  "$defs": {
    "rule": {
      "type": "object",
      "properties": {
        "delayMs": {
          "type": "object",
          "properties": {
            "p": {"type": "number", "minimum": 0, "maximum": 1},
            "value": {"type": "integer", "minimum": 0},
            "min": {"type": "integer", "minimum": 0},
            "max": {"type": "integer", "minimum": 0}
          },
          "required": ["p"],
          "additionalProperties": false
        },
        "failRate": {"type": "number", "minimum": 0, "maximum": 1},
        "corruptRate": {"type": "number", "minimum": 0, "maximum": 1}
      },
      "additionalProperties": false
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("chaos-config.json", configSchema)

// ParseConfig validates and decodes a chaos config blob.
func ParseConfig(data []byte) (*Config, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("chaos config is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("chaos config rejected: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("chaos config decode: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads and validates a chaos config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chaos config: %w", err)
	}
	return ParseConfig(data)
}

// Snapshot serializes a config for copy-by-value storage on a run, so
// later edits to an agent's config do not mutate history. Returns nil
// for a nil config.
func Snapshot(cfg *Config) []byte {
	if cfg == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	return data
}
