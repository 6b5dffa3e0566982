// Package config loads and validates the YAML configuration: the tiered
// source catalog, the alert-quality thresholds, and the application file
// paths. Loading is fail-fast; a malformed file is a startup error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
)

// ErrConfig wraps malformed or missing configuration; fatal at startup.
var ErrConfig = errors.New("config error")

// Geo is an optional location hint attached to a source.
type Geo struct {
	City    string `yaml:"city" json:"city,omitempty"`
	State   string `yaml:"state" json:"state,omitempty"`
	Country string `yaml:"country" json:"country,omitempty"`
}

// Source is one configured feed.
type Source struct {
	ID                  string         `yaml:"id" json:"id"`
	Type                string         `yaml:"type" json:"type"`
	URL                 string         `yaml:"url" json:"url"`
	Tier                contracts.Tier `yaml:"tier" json:"tier"`
	Enabled             *bool          `yaml:"enabled" json:"enabled,omitempty"`
	TrustTier           *int           `yaml:"trust_tier" json:"trust_tier,omitempty"`
	ClassificationFloor *int           `yaml:"classification_floor" json:"classification_floor,omitempty"`
	WeightingBias       *int           `yaml:"weighting_bias" json:"weighting_bias,omitempty"`
	Geo                 *Geo           `yaml:"geo" json:"geo,omitempty"`
}

// IsEnabled defaults to true when the field is omitted.
func (s Source) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// EffectiveTrustTier defaults to 2.
func (s Source) EffectiveTrustTier() int {
	if s.TrustTier == nil {
		return 2
	}
	return *s.TrustTier
}

// EffectiveClassificationFloor defaults to 0.
func (s Source) EffectiveClassificationFloor() int {
	if s.ClassificationFloor == nil {
		return 0
	}
	return *s.ClassificationFloor
}

// EffectiveWeightingBias defaults to 0.
func (s Source) EffectiveWeightingBias() int {
	if s.WeightingBias == nil {
		return 0
	}
	return *s.WeightingBias
}

// RateLimit is the fetcher's per-host pacing.
type RateLimit struct {
	PerHostMinSeconds int `yaml:"per_host_min_seconds" json:"per_host_min_seconds"`
	JitterSeconds     int `yaml:"jitter_seconds" json:"jitter_seconds"`
}

// Defaults apply to every source unless overridden.
type Defaults struct {
	RateLimit        RateLimit `yaml:"rate_limit" json:"rate_limit"`
	TimeoutSeconds   int       `yaml:"timeout_seconds" json:"timeout_seconds"`
	UserAgent        string    `yaml:"user_agent" json:"user_agent"`
	MaxItemsPerFetch int       `yaml:"max_items_per_fetch" json:"max_items_per_fetch"`
}

// SourcesConfig is the full sources.yaml document.
type SourcesConfig struct {
	Version  string                      `yaml:"version" json:"version"`
	Defaults Defaults                    `yaml:"defaults" json:"defaults"`
	Tiers    map[contracts.Tier][]Source `yaml:"tiers" json:"tiers"`
}

var tierOrder = []contracts.Tier{contracts.TierGlobal, contracts.TierRegional, contracts.TierLocal}

// AllSources flattens the tier map in global, regional, local order, with
// each source's tier field populated from its section.
func (c *SourcesConfig) AllSources() []Source {
	var out []Source
	for _, tier := range tierOrder {
		for _, s := range c.Tiers[tier] {
			s.Tier = tier
			out = append(out, s)
		}
	}
	return out
}

// SourceByID returns the source and whether it exists.
func (c *SourcesConfig) SourceByID(id string) (Source, bool) {
	for _, s := range c.AllSources() {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// LoadSources reads, schema-validates and version-gates a sources.yaml.
func LoadSources(path string) (*SourcesConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	return ParseSources(raw)
}

// ParseSources validates and decodes a sources.yaml document.
func ParseSources(raw []byte) (*SourcesConfig, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrConfig, err)
	}
	if err := sourcesSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrConfig, err)
	}

	var cfg SourcesConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrConfig, err)
	}
	if _, err := semver.NewVersion(strings.TrimPrefix(cfg.Version, "v")); err != nil {
		return nil, fmt.Errorf("%w: version %q is not semver: %v", ErrConfig, cfg.Version, err)
	}
	return &cfg, nil
}

const sourcesSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "tiers"],
  "properties": {
    "version": {"type": "string"},
    "defaults": {
      "type": "object",
      "properties": {
        "rate_limit": {
          "type": "object",
          "properties": {
            "per_host_min_seconds": {"type": "integer", "minimum": 0},
            "jitter_seconds": {"type": "integer", "minimum": 0}
          }
        },
        "timeout_seconds": {"type": "integer", "minimum": 1},
        "user_agent": {"type": "string"},
        "max_items_per_fetch": {"type": "integer", "minimum": 1}
      }
    },
    "tiers": {
      "type": "object",
      "propertyNames": {"enum": ["global", "regional", "local"]},
      "additionalProperties": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["id", "type", "url", "tier"],
          "properties": {
            "id": {"type": "string", "minLength": 1},
            "type": {"type": "string", "minLength": 1},
            "url": {"type": "string", "minLength": 1},
            "tier": {"enum": ["global", "regional", "local"]},
            "enabled": {"type": "boolean"},
            "trust_tier": {"enum": [1, 2, 3]},
            "classification_floor": {"enum": [0, 1, 2]},
            "weighting_bias": {"type": "integer"},
            "geo": {
              "type": "object",
              "properties": {
                "city": {"type": "string"},
                "state": {"type": "string"},
                "country": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var sourcesSchema = jsonschema.MustCompileString("sources.schema.json", sourcesSchemaJSON)
