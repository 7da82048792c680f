package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/cache"
)

// fakeProvider scripts batch and per-item behavior for the fallback chain.
type fakeProvider struct {
	mu         sync.Mutex
	dim        int
	batchCalls int
	itemCalls  int

	failBatches map[int]error // batch ordinal (1-based) -> error
	failItems   map[string]error
}

func newFakeProvider(dim int) *fakeProvider {
	return &fakeProvider{
		dim:         dim,
		failBatches: map[int]error{},
		failItems:   map[string]error{},
	}
}

func (f *fakeProvider) vector(seed byte) []float32 {
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = float32(seed)
	}
	return v
}

func (f *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if err, ok := f.failBatches[f.batchCalls]; ok {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector(1)
	}
	return out, nil
}

func (f *fakeProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCalls++
	if err, ok := f.failItems[text]; ok {
		return nil, err
	}
	return f.vector(2), nil
}

func newTestService(t *testing.T, cfg Config, prov provider, queryCache *cache.Cache[[]float32]) *Service {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:9999/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "test-embedding"
	}
	svc, err := NewService(cfg, queryCache, nil)
	require.NoError(t, err)
	svc.newProvider = func(Config) (provider, error) { return prov, nil }
	return svc
}

func TestEmbedDocumentsBatching(t *testing.T) {
	prov := newFakeProvider(8)
	svc := newTestService(t, Config{Dimension: 8, BatchSize: 100}, prov, nil)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	vectors, err := svc.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 250)
	// 250 texts with batch size 100 means 3 batch calls (100, 100, 50).
	assert.Equal(t, 3, prov.batchCalls)
	assert.Equal(t, 0, prov.itemCalls)
}

func TestEmbedDocumentsBatchFallsBackToPerItem(t *testing.T) {
	prov := newFakeProvider(4)
	prov.failBatches[2] = errors.New("rate limited")
	svc := newTestService(t, Config{Dimension: 4, BatchSize: 10}, prov, nil)

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	vectors, err := svc.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 25)
	assert.Equal(t, 3, prov.batchCalls)
	// Only the failed batch of 10 retried item by item.
	assert.Equal(t, 10, prov.itemCalls)
	for i, v := range vectors {
		require.Len(t, v, 4, "vector %d", i)
	}
}

func TestEmbedDocumentsZeroVectorSubstitution(t *testing.T) {
	prov := newFakeProvider(4)
	prov.failBatches[1] = errors.New("batch down")
	prov.failItems["bad chunk"] = errors.New("item down")
	svc := newTestService(t, Config{Dimension: 4, BatchSize: 10, OnFailure: ZeroVector}, prov, nil)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"good chunk", "bad chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	assert.Equal(t, []float32{2, 2, 2, 2}, vectors[0])
	// Failed item got an all-zero vector of the configured dimension.
	assert.Equal(t, []float32{0, 0, 0, 0}, vectors[1])
}

func TestEmbedDocumentsDropPolicy(t *testing.T) {
	prov := newFakeProvider(4)
	prov.failBatches[1] = errors.New("batch down")
	prov.failItems["bad chunk"] = errors.New("item down")
	svc := newTestService(t, Config{Dimension: 4, BatchSize: 10, OnFailure: Drop}, prov, nil)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"good chunk", "bad chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.NotNil(t, vectors[0])
	assert.Nil(t, vectors[1])
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	svc := newTestService(t, Config{}, newFakeProvider(4), nil)
	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestDimensionConformance(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		dim  int
		want []float32
	}{
		{"exact", []float32{1, 2, 3}, 3, []float32{1, 2, 3}},
		{"truncated", []float32{1, 2, 3, 4, 5}, 3, []float32{1, 2, 3}},
		{"zero padded", []float32{1, 2}, 4, []float32{1, 2, 0, 0}},
		{"unconfigured passthrough", []float32{1, 2}, 0, []float32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conform(tt.in, tt.dim))
		})
	}
}

func TestEmbedQueryConformsWrongSizedVectors(t *testing.T) {
	prov := newFakeProvider(6)
	svc := newTestService(t, Config{Dimension: 4}, prov, nil)

	vec, err := svc.EmbedQuery(context.Background(), "what is the boiling point?")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestEmbedQueryUsesCache(t *testing.T) {
	prov := newFakeProvider(4)
	qc := cache.New[[]float32](10)
	svc := newTestService(t, Config{Dimension: 4}, prov, qc)

	ctx := context.Background()
	first, err := svc.EmbedQuery(ctx, "  What Is Water?  ")
	require.NoError(t, err)
	require.Equal(t, 1, prov.itemCalls)

	// Same question modulo case and surrounding whitespace hits the cache.
	second, err := svc.EmbedQuery(ctx, "what is water?")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, prov.itemCalls)
}

func TestEmbedQueryBlankInput(t *testing.T) {
	svc := newTestService(t, Config{}, newFakeProvider(4), nil)
	_, err := svc.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestProviderHandleCreatedOnce(t *testing.T) {
	prov := newFakeProvider(4)
	svc := newTestService(t, Config{Dimension: 4}, prov, nil)

	var created int
	var mu sync.Mutex
	svc.newProvider = func(Config) (provider, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return prov, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EmbedQuery(context.Background(), "race to initialize")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestProviderHandleFailure(t *testing.T) {
	svc := newTestService(t, Config{Dimension: 4}, nil, nil)
	svc.newProvider = func(Config) (provider, error) {
		return nil, errors.New("dns failure")
	}

	_, err := svc.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewService(Config{Model: "m"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{BaseURL: "http://x"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{BaseURL: "http://x", Model: "m", OnFailure: "evict"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
