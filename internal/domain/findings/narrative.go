package findings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNarrativeService is returned when the text-generation service fails,
// times out, or answers with nothing. Callers decide whether a report may be
// stored without a narrative.
var ErrNarrativeService = errors.New("narrative service unavailable")

// TextGenerator sends a prompt to a language model and returns its reply.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// NarrativeGenerator produces the free-text clinical interpretation of a set
// of anomalies.
type NarrativeGenerator struct {
	gen     TextGenerator
	timeout time.Duration
}

func NewNarrativeGenerator(gen TextGenerator, timeout time.Duration) *NarrativeGenerator {
	return &NarrativeGenerator{gen: gen, timeout: timeout}
}

// Generate builds the analysis prompt and returns the model's answer. Every
// failure is wrapped in ErrNarrativeService; there is no retry.
func (g *NarrativeGenerator) Generate(ctx context.Context, anomalies []Anomaly) (string, error) {
	if g == nil || g.gen == nil {
		return "", fmt.Errorf("%w: no text generator configured", ErrNarrativeService)
	}
	if len(anomalies) == 0 {
		return "", fmt.Errorf("%w: no findings to describe", ErrNarrativeService)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	text, err := g.gen.GenerateText(ctx, BuildPrompt(anomalies))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNarrativeService, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrNarrativeService)
	}
	return text, nil
}

const (
	promptHeader = "As a medical AI assistant, provide a detailed analysis of the following X-ray findings:\n\nDetected Anomalies:\n"
	promptFooter = `

Please provide:
1. A comprehensive interpretation of these findings
2. Possible differential diagnoses
3. Recommended follow-up actions or additional tests
4. Important considerations for the treating physician

Keep the response professional, clear, and structured for medical professionals.`
)

// BuildPrompt renders the anomaly list into the narrative request.
func BuildPrompt(anomalies []Anomaly) string {
	items := make([]string, len(anomalies))
	for i, a := range anomalies {
		items[i] = fmt.Sprintf("%d. Type: %s\n   Location: %s\n   Confidence: %s%%\n   Description: %s",
			i+1, a.Type, a.Location, FormatConfidence(a.Confidence), a.Description)
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(strings.Join(items, "\n\n"))
	b.WriteString(promptFooter)
	return b.String()
}

// FormatConfidence renders a [0,1] confidence as a percentage with one
// decimal, e.g. 0.8 -> "80.0".
func FormatConfidence(c float64) string {
	return strconv.FormatFloat(c*100, 'f', 1, 64)
}
