package vision

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// OutputKind describes what the model's raw output values mean.
type OutputKind string

const (
	// OutputProbabilities means the model already applies a per-class
	// sigmoid. Values are clamped into [0,1].
	OutputProbabilities OutputKind = "probabilities"
	// OutputLogits means the model emits raw logits; a sigmoid is applied
	// to each class independently.
	OutputLogits OutputKind = "logits"
)

// Model runs inference on a preprocessed tensor. Implementations must not
// retain or modify the tensor.
type Model interface {
	Predict(ctx context.Context, t Tensor) ([]float32, error)
	Close() error
}

// Loader produces a ready Model. Load may block on a remote artifact fetch.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Model, error)

func (f LoaderFunc) Load(ctx context.Context) (Model, error) { return f(ctx) }

type modelHandle struct {
	model Model
}

// Classifier scores a tensor against every known class. The model is loaded
// at most once per Classifier; a failed load is not remembered, so the next
// call tries again.
type Classifier struct {
	loader  Loader
	classes int
	output  OutputKind
	logger  zerolog.Logger

	handle atomic.Pointer[modelHandle]
	mu     sync.Mutex
}

type ClassifierConfig struct {
	Classes int
	Output  OutputKind
}

func NewClassifier(loader Loader, cfg ClassifierConfig, logger zerolog.Logger) *Classifier {
	if cfg.Output == "" {
		cfg.Output = OutputProbabilities
	}
	return &Classifier{
		loader:  loader,
		classes: cfg.Classes,
		output:  cfg.Output,
		logger:  logger,
	}
}

// Init loads the model if it is not loaded yet. It is safe to call
// concurrently; only one caller performs the load.
func (c *Classifier) Init(ctx context.Context) error {
	_, err := c.model(ctx)
	return err
}

// Ready reports whether the model has been loaded.
func (c *Classifier) Ready() bool {
	return c.handle.Load() != nil
}

func (c *Classifier) model(ctx context.Context) (Model, error) {
	if h := c.handle.Load(); h != nil {
		return h.model, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h := c.handle.Load(); h != nil {
		return h.model, nil
	}
	if c.loader == nil {
		return nil, fmt.Errorf("%w: no model loader configured", ErrModelUnavailable)
	}

	start := time.Now()
	m, err := c.loader.Load(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("classifier model load failed")
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: loader returned no model", ErrModelUnavailable)
	}
	c.handle.Store(&modelHandle{model: m})
	c.logger.Info().Dur("duration", time.Since(start)).Msg("classifier model loaded")
	return m, nil
}

// Classify returns one independent probability per class, in model output
// order.
func (c *Classifier) Classify(ctx context.Context, t Tensor) ([]float64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	m, err := c.model(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := m.Predict(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	if c.classes > 0 && len(raw) != c.classes {
		return nil, fmt.Errorf("inference: model returned %d outputs, want %d", len(raw), c.classes)
	}

	out := make([]float64, len(raw))
	for i, v := range raw {
		x := float64(v)
		if math.IsNaN(x) {
			return nil, fmt.Errorf("inference: output %d is NaN", i)
		}
		if c.output == OutputLogits {
			x = sigmoid(x)
		}
		out[i] = clamp01(x)
	}
	return out, nil
}

// Close releases the loaded model, if any. The next Classify call reloads.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handle.Swap(nil)
	if h == nil {
		return nil
	}
	return h.model.Close()
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
