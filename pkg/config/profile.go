package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/glytch-labs/ucp/core/pkg/compiler"
	"github.com/glytch-labs/ucp/core/pkg/dictionary"
	"github.com/glytch-labs/ucp/core/pkg/routing"
)

// supportedProfileVersions gates which profile schema versions this build
// will load.
const supportedProfileVersions = ">= 1.0.0, < 2.0.0"

// Profile is the full UCP runtime configuration: compile ruleset,
// dictionary seed, and routing policy, versioned as one unit.
type Profile struct {
	Name       string              `yaml:"name" json:"name"`
	UCPVersion string              `yaml:"ucp_version" json:"ucp_version"`
	Ruleset    compiler.Ruleset    `yaml:"ruleset" json:"ruleset"`
	Dictionary []*dictionary.Entry `yaml:"dictionary,omitempty" json:"dictionary,omitempty"`
	Routing    routing.Policy      `yaml:"routing" json:"routing"`
}

// profileSchema is the structural contract every profile must satisfy
// before the typed loaders see it.
const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ucp_version", "ruleset", "routing"],
  "properties": {
    "name": {"type": "string"},
    "ucp_version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+"},
    "ruleset": {
      "type": "object",
      "required": ["rules"],
      "properties": {
        "rules": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["id", "keywords", "emit"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "keywords": {"type": "array", "items": {"type": "string"}, "minItems": 1},
              "mode": {"enum": ["", "all", "any"]},
              "emit": {"type": "array", "items": {"type": "string"}, "minItems": 1}
            }
          }
        },
        "normalization": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["pattern", "replacement"],
            "properties": {
              "pattern": {"type": "string"},
              "replacement": {"type": "string"}
            }
          }
        },
        "max_input_len": {"type": "integer", "minimum": 1},
        "hint_verbs": {"type": "array", "items": {"type": "string"}}
      }
    },
    "dictionary": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["code", "category", "steps"],
        "properties": {
          "code": {"type": "string", "minLength": 1},
          "category": {"enum": ["intent", "constraint", "safety", "tool", "execution", "fallback"]},
          "steps": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["action", "target"],
              "properties": {
                "action": {"type": "string", "minLength": 1},
                "target": {"type": "string", "minLength": 1}
              }
            }
          },
          "examples": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "routing": {
      "type": "object",
      "required": ["models", "rules"],
      "properties": {
        "models": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["id"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "max_tokens": {"type": "integer", "minimum": 1},
              "cost_score": {"type": "number"},
              "quality_score": {"type": "number"}
            }
          }
        },
        "rules": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["condition", "choose_model"],
            "properties": {
              "condition": {
                "type": "object",
                "properties": {
                  "prompt_length_lt": {"type": "integer", "minimum": 0},
                  "prompt_length_gte": {"type": "integer", "minimum": 0},
                  "contains_keywords": {"type": "array", "items": {"type": "string"}}
                }
              },
              "choose_model": {"type": "string", "minLength": 1}
            }
          }
        },
        "fallback_model": {"type": "string"}
      }
    }
  }
}`

var compiledProfileSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://ucp.glytch.dev/schemas/profile.schema.json"
	if err := c.AddResource(url, strings.NewReader(profileSchema)); err != nil {
		panic(fmt.Sprintf("config: profile schema resource: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("config: profile schema compile: %v", err))
	}
	return s
}

// LoadProfile reads, validates, and parses a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile validates raw profile YAML against the schema and the
// supported version range, then unmarshals it.
func ParseProfile(data []byte) (*Profile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse profile: %w", err)
	}
	// Roundtrip through JSON so the validator sees json-typed values.
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: profile to json: %w", err)
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("config: profile to json: %w", err)
	}
	if err := compiledProfileSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config: profile schema: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse profile: %w", err)
	}

	if err := checkVersion(profile.UCPVersion); err != nil {
		return nil, err
	}
	return &profile, nil
}

func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("config: profile ucp_version %q: %w", version, err)
	}
	constraint, err := semver.NewConstraint(supportedProfileVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("config: profile ucp_version %s outside supported range %s", version, supportedProfileVersions)
	}
	return nil
}

// DefaultProfile is the stock configuration used when no profile file is
// present.
func DefaultProfile() *Profile {
	return &Profile{
		Name:       "default",
		UCPVersion: "1.0.0",
		Ruleset: compiler.Ruleset{
			Rules: []compiler.Rule{
				{ID: "summarize", Keywords: []string{"summarize", "summary", "condense"}, Emit: []string{"SUM-1"}},
				{ID: "report", Keywords: []string{"report", "analysis"}, Emit: []string{"GEN-RPT", "ANL-1"}},
				{ID: "email", Keywords: []string{"email", "send"}, Mode: compiler.ModeAll, Emit: []string{"SND-EML"}},
				{ID: "format", Keywords: []string{"json", "format"}, Emit: []string{"FMT-JSON"}},
				{ID: "pii", Keywords: []string{"personal", "private", "confidential"}, Emit: []string{"SAFE-PII"}},
			},
		},
		Dictionary: dictionary.DefaultEntries(),
		Routing:    routing.DefaultPolicy(),
	}
}
