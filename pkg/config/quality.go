package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// QualityConfig bounds alert classification by evidence strength.
type QualityConfig struct {
	MinConfidenceClass1       float64 `yaml:"min_confidence_class_1" json:"min_confidence_class_1"`
	MinConfidenceClass2       float64 `yaml:"min_confidence_class_2" json:"min_confidence_class_2"`
	MinConfidenceAmbiguous    float64 `yaml:"min_confidence_ambiguous" json:"min_confidence_ambiguous"`
	AllowQualityOverrideFloor bool    `yaml:"allow_quality_override_floor" json:"allow_quality_override_floor"`
}

// DefaultQuality returns the recommended thresholds (Policy B).
func DefaultQuality() QualityConfig {
	return QualityConfig{
		MinConfidenceClass1:       0.50,
		MinConfidenceClass2:       0.70,
		MinConfidenceAmbiguous:    0.50,
		AllowQualityOverrideFloor: true,
	}
}

// Policy returns "B" when the quality cap is authoritative, else "A".
func (q QualityConfig) Policy() string {
	if q.AllowQualityOverrideFloor {
		return "B"
	}
	return "A"
}

func (q QualityConfig) validate() error {
	for name, v := range map[string]float64{
		"min_confidence_class_1":   q.MinConfidenceClass1,
		"min_confidence_class_2":   q.MinConfidenceClass2,
		"min_confidence_ambiguous": q.MinConfidenceAmbiguous,
	} {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("%w: %s = %v outside [0,1]", ErrConfig, name, v)
		}
	}
	if q.MinConfidenceClass1 > q.MinConfidenceClass2 {
		return fmt.Errorf("%w: min_confidence_class_1 (%v) above min_confidence_class_2 (%v)",
			ErrConfig, q.MinConfidenceClass1, q.MinConfidenceClass2)
	}
	return nil
}

// LoadQuality reads a quality config file, or returns the defaults when
// path is empty.
func LoadQuality(path string) (QualityConfig, error) {
	if path == "" {
		return DefaultQuality(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return QualityConfig{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	q := DefaultQuality()
	if err := yaml.Unmarshal(raw, &q); err != nil {
		return QualityConfig{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	if err := q.validate(); err != nil {
		return QualityConfig{}, err
	}
	return q, nil
}
