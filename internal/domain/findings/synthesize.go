// Package findings turns classifier scores into structured anomalies and
// requests a clinical narrative for them.
package findings

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// Threshold is the minimum probability for a class to be reported.
	Threshold = 0.5

	// DefaultNormalConfidence is reported when no class clears Threshold.
	DefaultNormalConfidence = 0.95

	// Confidence lost per secondary location of the same class.
	locationDecay = 0.1
)

// Anomaly is one structured finding attached to a report.
type Anomaly struct {
	Type        Condition `json:"type"`
	Location    string    `json:"location"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`
}

// Probabilities holds one independent score per condition, indexed by
// Condition.
type Probabilities [NumConditions]float64

// ProbabilitiesFrom validates a raw classifier output vector.
func ProbabilitiesFrom(v []float64) (Probabilities, error) {
	var p Probabilities
	if len(v) != NumConditions {
		return p, fmt.Errorf("expected %d probabilities, got %d", NumConditions, len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || x < 0 || x > 1 {
			return p, fmt.Errorf("probability for %s out of range: %v", Condition(i), x)
		}
		p[i] = x
	}
	return p, nil
}

// Synthesize selects the conditions whose probability clears Threshold and
// expands each into one anomaly per canonical location, highest probability
// first. When nothing abnormal is selected a single Normal finding is
// returned.
func Synthesize(p Probabilities) []Anomaly {
	var selected []Condition
	normalSelected := false
	for _, c := range Conditions() {
		if p[c] < Threshold {
			continue
		}
		if c == Normal {
			normalSelected = true
			continue
		}
		selected = append(selected, c)
	}

	if len(selected) == 0 {
		confidence := DefaultNormalConfidence
		if normalSelected {
			confidence = p[Normal]
		}
		return []Anomaly{{
			Type:        Normal,
			Location:    locations[Normal][0],
			Confidence:  confidence,
			Description: descriptions[Normal],
		}}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return p[selected[i]] > p[selected[j]]
	})

	out := make([]Anomaly, 0, len(selected)*3)
	for _, c := range selected {
		for k, loc := range locations[c] {
			desc := descriptions[c]
			if k > 0 {
				desc = secondaryDescription(c)
			}
			out = append(out, Anomaly{
				Type:        c,
				Location:    loc,
				Confidence:  p[c] * (1 - locationDecay*float64(k)),
				Description: desc,
			})
		}
	}
	return out
}

// IsNormal reports whether the findings contain no abnormal condition.
func IsNormal(anomalies []Anomaly) bool {
	for _, a := range anomalies {
		if a.Type != Normal {
			return false
		}
	}
	return true
}

func secondaryDescription(c Condition) string {
	return fmt.Sprintf("Additional %s findings in this region.", strings.ToLower(c.String()))
}
