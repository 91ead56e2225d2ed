package constraints

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"quel-tryon-server/modules/tryon/geometry"
)

//go:embed rules.yaml
var defaultRules []byte

// Metric names usable by an indicator.
const (
	MetricFaceAspect = "face_aspect"
	MetricMouthToEye = "mouth_to_eye"
	MetricChinDrop   = "chin_drop"
)

// Indicator maps one facial measurement to implied and forbidden body attributes.
type Indicator struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Metric      string   `yaml:"metric"`
	Op          string   `yaml:"op"`
	Value       float64  `yaml:"value"`
	Implies     []string `yaml:"implies"`
	Forbids     []string `yaml:"forbids"`
}

// Matches evaluates the indicator against a metric value.
func (i Indicator) Matches(v float64) bool {
	switch i.Op {
	case "gte":
		return v >= i.Value
	case "gt":
		return v > i.Value
	case "lte":
		return v <= i.Value
	case "lt":
		return v < i.Value
	}
	return false
}

// AttributeSet is an implies/forbids pair.
type AttributeSet struct {
	Implies []string `yaml:"implies"`
	Forbids []string `yaml:"forbids"`
}

// RuleSet is the full, inspectable rule table.
type RuleSet struct {
	Version    string `yaml:"version"`
	FaceFreeze struct {
		ForbiddenOperations []string `yaml:"forbidden_operations"`
	} `yaml:"face_freeze"`
	FaceIndicators []Indicator                       `yaml:"face_indicators"`
	BodyTypes      map[geometry.BodyType]AttributeSet `yaml:"body_types"`
	Garment        struct {
		Extract []string `yaml:"extract"`
		Ignore  []string `yaml:"ignore"`
	} `yaml:"garment"`
	Negatives struct {
		Full      []string `yaml:"full"`
		Condensed []string `yaml:"condensed"`
	} `yaml:"negatives"`
	Reinforcement struct {
		Identity      []string `yaml:"identity"`
		Garment       []string `yaml:"garment"`
		IdentityCause string   `yaml:"identity_cause"`
		GarmentCause  string   `yaml:"garment_cause"`
	} `yaml:"reinforcement"`
	EyeLock string `yaml:"eye_lock"`
}

// ParseRules decodes and validates a rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse constraint rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the table is complete and every indicator is evaluable.
func (rs *RuleSet) Validate() error {
	if rs.Version == "" {
		return fmt.Errorf("constraint rules: version is required")
	}
	seen := make(map[string]bool, len(rs.FaceIndicators))
	for _, ind := range rs.FaceIndicators {
		if ind.ID == "" {
			return fmt.Errorf("constraint rules: indicator without id")
		}
		if seen[ind.ID] {
			return fmt.Errorf("constraint rules: duplicate indicator %q", ind.ID)
		}
		seen[ind.ID] = true
		switch ind.Metric {
		case MetricFaceAspect, MetricMouthToEye, MetricChinDrop:
		default:
			return fmt.Errorf("constraint rules: indicator %q uses unknown metric %q", ind.ID, ind.Metric)
		}
		switch ind.Op {
		case "gte", "gt", "lte", "lt":
		default:
			return fmt.Errorf("constraint rules: indicator %q uses unknown op %q", ind.ID, ind.Op)
		}
		if len(ind.Implies) == 0 {
			return fmt.Errorf("constraint rules: indicator %q implies nothing", ind.ID)
		}
	}
	for _, bt := range []geometry.BodyType{geometry.BodySlim, geometry.BodyAverage, geometry.BodyFull, geometry.BodyHeavy} {
		if _, ok := rs.BodyTypes[bt]; !ok {
			return fmt.Errorf("constraint rules: body type %q missing", bt)
		}
	}
	if len(rs.FaceFreeze.ForbiddenOperations) == 0 {
		return fmt.Errorf("constraint rules: face_freeze.forbidden_operations is empty")
	}
	if len(rs.Negatives.Full) == 0 || len(rs.Negatives.Condensed) == 0 {
		return fmt.Errorf("constraint rules: both negative lists are required")
	}
	if len(rs.Negatives.Condensed) >= len(rs.Negatives.Full) {
		return fmt.Errorf("constraint rules: condensed negatives must be shorter than the full list")
	}
	if len(rs.Garment.Extract) == 0 || len(rs.Garment.Ignore) == 0 {
		return fmt.Errorf("constraint rules: garment extract/ignore lists are required")
	}
	if rs.Reinforcement.IdentityCause == "" || rs.Reinforcement.GarmentCause == "" {
		return fmt.Errorf("constraint rules: reinforcement causes are required")
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultSet  *RuleSet
	defaultErr  error
)

// DefaultRules returns the embedded rule table.
func DefaultRules() (*RuleSet, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = ParseRules(defaultRules)
	})
	return defaultSet, defaultErr
}

// Finding is one indicator evaluation, exposed for inspection.
type Finding struct {
	Indicator string  `json:"indicator"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Matched   bool    `json:"matched"`
}

// Metrics computes every indicator metric from proportions and landmarks.
func Metrics(p geometry.BodyProportions, lm geometry.FaceLandmarks) map[string]float64 {
	return map[string]float64{
		MetricFaceAspect: p.Relative().FaceAspect,
		MetricMouthToEye: lm.MouthToEye(),
		MetricChinDrop:   lm.ChinDrop(),
	}
}

// Evaluate runs every indicator in table order. Face-aspect indicators
// never match when the proportions carry a nominal face width.
func (rs *RuleSet) Evaluate(p geometry.BodyProportions, lm geometry.FaceLandmarks) []Finding {
	metrics := Metrics(p, lm)
	out := make([]Finding, 0, len(rs.FaceIndicators))
	for _, ind := range rs.FaceIndicators {
		v := metrics[ind.Metric]
		matched := ind.Matches(v)
		if ind.Metric == MetricFaceAspect && p.AspectUnknown {
			matched = false
		}
		out = append(out, Finding{Indicator: ind.ID, Metric: ind.Metric, Value: v, Matched: matched})
	}
	return out
}
