// Package embeddings wraps a remote embedding provider behind a batched,
// failure-absorbing adapter.
//
// The provider handle is created lazily, at most once per process, and the
// batch path degrades in stages: native batch call, then per-item calls
// within the failed batch, then the configured per-item failure policy.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/cache"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProviderUnavailable indicates the provider handle could not be created.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// FailurePolicy selects what happens when a single text still fails to embed
// after the per-item fallback.
type FailurePolicy string

const (
	// ZeroVector substitutes an all-zero vector of the configured dimension.
	// Ingestion completes at the cost of relevance for the failed item.
	ZeroVector FailurePolicy = "zero_vector"

	// Drop discards the failed item entirely; the caller sees a nil vector
	// at its position and is expected to skip the corresponding chunk.
	Drop FailurePolicy = "drop"
)

const (
	// DefaultBatchSize is the number of texts sent per provider batch call.
	DefaultBatchSize = 100

	// DefaultDimension matches the default retrieval-document embedding model.
	DefaultDimension = 768
)

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the OpenAI-compatible embedding endpoint.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// APIKey authenticates against the provider.
	APIKey string `koanf:"api_key"`

	// Dimension is the vector size the index is configured for. Vectors of a
	// different length are truncated or zero-padded to conform.
	Dimension int `koanf:"dimension"`

	// BatchSize caps how many texts go into one provider batch call.
	BatchSize int `koanf:"batch_size"`

	// OnFailure is the per-item failure policy. Default ZeroVector.
	OnFailure FailurePolicy `koanf:"on_failure"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.OnFailure == "" {
		c.OnFailure = ZeroVector
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.OnFailure != ZeroVector && c.OnFailure != Drop {
		return fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, c.OnFailure)
	}
	return nil
}

// provider is the narrow surface needed from the remote embedding capability.
type provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service provides document and query embedding.
type Service struct {
	config     Config
	logger     *zap.Logger
	queryCache *cache.Cache[[]float32]

	mu          sync.Mutex
	prov        provider
	newProvider func(Config) (provider, error)
}

// NewService creates an embedding service. The provider handle itself is not
// created until first use. queryCache may be nil to disable query caching.
func NewService(config Config, queryCache *cache.Cache[[]float32], logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:      config,
		logger:      logger.Named("embeddings"),
		queryCache:  queryCache,
		newProvider: newOpenAIProvider,
	}, nil
}

// newOpenAIProvider builds a langchaingo embedder against an OpenAI-compatible
// endpoint.
func newOpenAIProvider(config Config) (provider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for unauthenticated endpoints.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithEmbeddingModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}

// Dimension returns the configured index dimension.
func (s *Service) Dimension() int {
	return s.config.Dimension
}

// providerHandle returns the process-lifetime provider handle, creating it on
// first use. The mutex guarantees a single handle even under concurrent first
// access.
func (s *Service) providerHandle() (provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prov != nil {
		return s.prov, nil
	}
	p, err := s.newProvider(s.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	s.prov = p
	s.logger.Info("created embedding provider handle",
		zap.String("model", s.config.Model),
		zap.Int("dimension", s.config.Dimension))
	return p, nil
}

// EmbedDocuments embeds texts in batches. The result always has one entry per
// input; with the Drop policy a failed item's entry is nil.
//
// A batch failure falls back to per-item calls; a per-item failure applies the
// configured policy instead of aborting the whole run. Only a failure to
// obtain the provider handle is returned as an error.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	p, err := s.providerHandle()
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	batches := 0
	for start := 0; start < len(texts); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(texts))
		batch := texts[start:end]
		batches++

		batchVecs, err := p.EmbedDocuments(ctx, batch)
		if err == nil && len(batchVecs) == len(batch) {
			for i, v := range batchVecs {
				vectors[start+i] = conform(v, s.config.Dimension)
			}
			continue
		}
		if err == nil {
			err = fmt.Errorf("provider returned %d vectors for %d texts", len(batchVecs), len(batch))
		}
		s.logger.Warn("batch embed failed, falling back to per-item calls",
			zap.Int("batch", batches),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		for i, text := range batch {
			vec, itemErr := p.EmbedQuery(ctx, text)
			if itemErr != nil {
				vectors[start+i] = s.substitute(start+i, itemErr)
				continue
			}
			vectors[start+i] = conform(vec, s.config.Dimension)
		}
	}

	return vectors, nil
}

// substitute applies the per-item failure policy.
func (s *Service) substitute(index int, cause error) []float32 {
	switch s.config.OnFailure {
	case Drop:
		s.logger.Warn("dropping item after embed failure",
			zap.Int("index", index), zap.Error(cause))
		return nil
	default:
		s.logger.Warn("substituting zero vector after embed failure",
			zap.Int("index", index), zap.Error(cause))
		return make([]float32, s.config.Dimension)
	}
}

// EmbedQuery embeds a single query, consulting the query-embedding cache
// keyed by the normalized text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	key := strings.ToLower(strings.TrimSpace(text))
	if s.queryCache != nil {
		if vec, ok := s.queryCache.Get(key); ok {
			return vec, nil
		}
	}

	p, err := s.providerHandle()
	if err != nil {
		return nil, err
	}

	vec, err := p.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	vec = conform(vec, s.config.Dimension)

	if s.queryCache != nil {
		s.queryCache.Put(key, vec)
	}
	return vec, nil
}

// conform repairs a vector to the target dimension: truncated when too long,
// zero-padded when too short. Lossy, but keeps the index accepting writes.
func conform(vec []float32, dim int) []float32 {
	if dim <= 0 || len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	padded := make([]float32, dim)
	copy(padded, vec)
	return padded
}
