// Package answer wraps a chat-completion model behind a fixed instruction
// template with retry-on-weak-response logic. Generation never fails hard:
// after retries are exhausted the caller gets a user-facing apology string.
package answer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// promptTemplate constrains the model to the retrieved context. The answer
// must come only from the supplied passages, must not cite document or page
// references, and must say so explicitly when the context has no answer.
const promptTemplate = `Answer the question as detailed as possible from the provided context. Make sure to provide all the details. If the answer is not in the provided context, just say "The answer is not available in the context". Do not provide a wrong answer and do not reference document names or page numbers.

Context:
%s

Question:
%s

Answer:
`

const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.3
	defaultMaxTokens   = 4096
	defaultMaxAttempts = 3
	defaultRetryPause  = time.Second
	defaultRateLimit   = 5 // requests per second
	defaultBurst       = 10

	// minResponseLength is the shortest trimmed response accepted as a real
	// answer. Anything shorter is treated as a failed attempt and retried.
	minResponseLength = 10
)

// Config holds configuration for the answer generator.
type Config struct {
	// BaseURL overrides the provider endpoint for OpenAI-compatible servers.
	BaseURL string `koanf:"base_url"`

	// Model is the chat model identifier.
	Model string `koanf:"model"`

	// APIKey authenticates against the provider.
	APIKey string `koanf:"api_key"`

	// Temperature controls sampling. Low values keep answers factual.
	Temperature float64 `koanf:"temperature"`

	// MaxTokens caps the completion length.
	MaxTokens int `koanf:"max_tokens"`

	// MaxAttempts is how many generation attempts are made before giving up.
	MaxAttempts int `koanf:"max_attempts"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// completer is the narrow seam over the chat model, so tests can swap in a
// scripted fake without a network.
type completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// llmCompleter backs completer with a langchaingo model.
type llmCompleter struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

func (l *llmCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l.model, prompt,
		llms.WithTemperature(l.temperature),
		llms.WithMaxTokens(l.maxTokens),
	)
}

func newLLMCompleter(config Config) (completer, error) {
	opts := []openai.Option{
		openai.WithModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}
	if config.APIKey != "" {
		opts = append(opts, openai.WithToken(config.APIKey))
	} else {
		// Local OpenAI-compatible servers accept any token.
		opts = append(opts, openai.WithToken("placeholder"))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}
	return &llmCompleter{
		model:       model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
	}, nil
}

// Generator produces answers from retrieved context passages.
//
// The model handle is created lazily, at most once, under a lock. A rate
// limiter in front of the provider absorbs request bursts before they turn
// into quota errors.
type Generator struct {
	config  Config
	logger  *zap.Logger
	limiter *rate.Limiter

	// newCompleter is swapped in tests.
	newCompleter func(Config) (completer, error)

	// pause is the delay between attempts, injectable for tests.
	pause func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	client completer
}

// NewGenerator creates a Generator. No provider connection is made until the
// first Generate call.
func NewGenerator(config Config, logger *zap.Logger) *Generator {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		config:       config,
		logger:       logger.Named("answer"),
		limiter:      rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		newCompleter: newLLMCompleter,
		pause: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// handle returns the shared model handle, creating it on first use.
func (g *Generator) handle() (completer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := g.newCompleter(g.config)
	if err != nil {
		return nil, err
	}
	g.client = client
	g.logger.Info("created chat model handle", zap.String("model", g.config.Model))
	return client, nil
}

// Generate answers the question from the given context passages. It retries
// weak or failed completions and, after exhausting attempts, returns an
// apology string carrying the last error instead of failing.
func (g *Generator) Generate(ctx context.Context, question string, passages []string) string {
	prompt := fmt.Sprintf(promptTemplate, strings.Join(passages, "\n\n"), question)

	client, err := g.handle()
	if err != nil {
		g.logger.Error("chat model unavailable", zap.Error(err))
		return apology(err)
	}

	var lastErr error
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := g.pause(ctx, defaultRetryPause); err != nil {
				return apology(err)
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return apology(err)
		}

		response, err := client.Complete(ctx, prompt)
		if err != nil {
			lastErr = err
			g.logger.Warn("generation attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		if len(strings.TrimSpace(response)) < minResponseLength {
			lastErr = fmt.Errorf("response too short (%d chars)", len(strings.TrimSpace(response)))
			g.logger.Warn("weak response, retrying",
				zap.Int("attempt", attempt),
				zap.Int("length", len(response)))
			continue
		}

		return strings.TrimSpace(response)
	}

	g.logger.Error("generation failed after retries",
		zap.Int("attempts", g.config.MaxAttempts),
		zap.Error(lastErr))
	return apology(lastErr)
}

func apology(err error) string {
	return fmt.Sprintf("I apologize, but I was unable to generate an answer at this time: %v. Please try again.", err)
}
