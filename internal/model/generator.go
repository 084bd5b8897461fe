package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/knollbase/knoll/internal/log"
)

// GeneratorConfig configures a text generation client.
type GeneratorConfig struct {
	ModelName       string // Provider-qualified, e.g. "googleai/gemini-2.0-flash"
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	Timeout         time.Duration // Per-call deadline, 0 disables
	Policy          RetryPolicy
	Limiter         *rate.Limiter // Optional, applied per attempt
}

// Completion is the result of one generation call.
type Completion struct {
	Text       string
	TokensUsed int // Total tokens billed, 0 when the provider omits usage
}

// Generator produces chat completions through Genkit with a fixed
// sampling configuration, retrying transient provider failures.
//
// Generator is safe for concurrent use by multiple goroutines.
type Generator struct {
	g      *genkit.Genkit
	cfg    GeneratorConfig
	logger log.Logger
}

// NewGenerator creates a Generator bound to an initialized Genkit
// instance.
func NewGenerator(g *genkit.Genkit, cfg GeneratorConfig, logger log.Logger) (*Generator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Generator{g: g, cfg: cfg, logger: logger}, nil
}

// Generate produces a completion for messages under the given system
// prompt. Messages carry the conversation history followed by the
// current user turn.
func (gen *Generator) Generate(ctx context.Context, system string, messages []*ai.Message) (Completion, error) {
	temperature := float32(gen.cfg.Temperature)
	topP := float32(gen.cfg.TopP)
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: int32(gen.cfg.MaxOutputTokens),
	}

	start := time.Now()
	var resp *ai.ModelResponse
	err := gen.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		if gen.cfg.Limiter != nil {
			if err := gen.cfg.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		callCtx := ctx
		if gen.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, gen.cfg.Timeout)
			defer cancel()
		}

		var callErr error
		resp, callErr = genkit.Generate(callCtx, gen.g,
			ai.WithModelName(gen.cfg.ModelName),
			ai.WithSystem(system),
			ai.WithMessages(messages...),
			ai.WithConfig(genConfig),
		)
		return callErr
	})
	if err != nil {
		return Completion{}, fmt.Errorf("generating completion: %w: %w", ErrGenerationUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Completion{}, fmt.Errorf("generating completion: %w", ErrEmptyResponse)
	}

	completion := Completion{Text: text}
	if resp.Usage != nil {
		completion.TokensUsed = resp.Usage.TotalTokens
	}

	gen.logger.Debug("generated completion",
		"model", gen.cfg.ModelName,
		"tokens", completion.TokensUsed,
		"elapsed", time.Since(start),
	)
	return completion, nil
}
