// Package retrieval is the top-level pipeline: extracted text in, indexed
// vectors out (ingestion), and question in, generated answer out (query).
// It composes the chunker, embedding service, vector store, and answer
// generator, and owns the response cache.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/cache"
	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// User-facing responses. Query-path failures come back as strings like these,
// never as raw provider errors.
const (
	// MsgInvalidQuestion rejects blank questions.
	MsgInvalidQuestion = "Please provide a valid question."

	// MsgNoRelevantInfo is returned when no candidate survives filtering.
	MsgNoRelevantInfo = "No relevant information found in the uploaded documents."

	// MsgIndexMissing is returned when the session has no index yet.
	MsgIndexMissing = "Vector store not found. Please upload documents first."
)

// ErrEmptyInput rejects ingestion calls with nothing to index.
var ErrEmptyInput = errors.New("empty input")

// ErrEmbeddingFailed marks a total embedding-stage failure during ingestion.
// Unlike partial upload failures, this is fatal: an index with no usable
// vectors can never serve a query.
var ErrEmbeddingFailed = errors.New("embedding failed for all chunks")

const (
	// DefaultTopK is how many passages feed the answer prompt.
	DefaultTopK = 8

	// DefaultDistanceThreshold rejects candidates at or beyond this cosine
	// distance during strict filtering.
	DefaultDistanceThreshold = 0.8

	// minPassageLength is the strict-filter floor on candidate text length.
	minPassageLength = 100

	// fallbackMinLength is the relaxed floor used when strict filtering
	// eliminates every candidate.
	fallbackMinLength = 50
)

// Config holds query-path tuning for the orchestrator.
type Config struct {
	// TopK is the number of passages collected for answer generation.
	TopK int `koanf:"top_k"`

	// DistanceThreshold is the strict-filter cosine distance cutoff.
	DistanceThreshold float64 `koanf:"distance_threshold"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.DistanceThreshold <= 0 {
		c.DistanceThreshold = DefaultDistanceThreshold
	}
}

// Embedder is the slice of the embedding service the orchestrator needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Generator produces an answer string from context passages. It never fails;
// degraded output is its responsibility.
type Generator interface {
	Generate(ctx context.Context, question string, passages []string) string
}

// IngestSummary reports one ingestion call.
type IngestSummary struct {
	// Chunks is how many chunks entered the pipeline.
	Chunks int `json:"chunks"`

	// Uploaded is how many vectors landed in the index.
	Uploaded int `json:"uploaded"`

	// Failed counts chunks lost to embedding drops or upload failures.
	Failed int `json:"failed"`

	// Elapsed is the wall time of the full ingestion.
	Elapsed time.Duration `json:"elapsed"`
}

// Service orchestrates ingestion and question answering for one process.
type Service struct {
	config    Config
	chunker   *chunker.Chunker
	embedder  Embedder
	store     vectorstore.Store
	generator Generator
	responses *cache.Cache[string]
	logger    *zap.Logger
}

// NewService creates the orchestrator. The response cache is shared with
// whoever owns global cache clearing.
func NewService(
	config Config,
	ch *chunker.Chunker,
	embedder Embedder,
	store vectorstore.Store,
	generator Generator,
	responses *cache.Cache[string],
	logger *zap.Logger,
) *Service {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if responses == nil {
		responses = cache.New[string](cache.DefaultCapacity)
	}
	return &Service{
		config:    config,
		chunker:   ch,
		embedder:  embedder,
		store:     store,
		generator: generator,
		responses: responses,
		logger:    logger.Named("retrieval"),
	}
}

// IngestText chunks raw extracted text and ingests the result.
func (s *Service) IngestText(ctx context.Context, sessionID, text string) (IngestSummary, error) {
	chunks := s.chunker.Chunk(text)
	return s.Ingest(ctx, sessionID, chunks)
}

// Ingest embeds chunks and uploads them into the session's index.
//
// A total embedding failure is fatal. Partial failures are not: dropped
// chunks and per-record upload failures are counted in the summary and the
// call succeeds with whatever made it into the index.
func (s *Service) Ingest(ctx context.Context, sessionID string, chunks []chunker.Chunk) (IngestSummary, error) {
	if len(chunks) == 0 {
		return IngestSummary{}, fmt.Errorf("%w: no chunks to ingest", ErrEmptyInput)
	}
	start := time.Now()

	index := vectorstore.IndexName(sessionID)
	dimension := s.embedder.Dimension()
	if err := s.store.EnsureIndex(ctx, index, dimension); err != nil {
		return IngestSummary{}, fmt.Errorf("ensuring index %s: %w", index, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return IngestSummary{}, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailed, len(vectors), len(chunks))
	}

	// Dropped embeddings arrive as nil vectors; skip those chunks.
	records := make([]vectorstore.Record, 0, len(chunks))
	dropped := 0
	for i, c := range chunks {
		if vectors[i] == nil {
			dropped++
			continue
		}
		records = append(records, vectorstore.Record{
			Key:        c.Key(),
			Vector:     vectors[i],
			Text:       c.Text,
			ChunkIndex: c.Index,
			Length:     c.Length,
		})
	}
	if len(records) == 0 {
		return IngestSummary{}, ErrEmbeddingFailed
	}

	upsert, err := s.store.Upsert(ctx, index, records)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("uploading to index %s: %w", index, err)
	}

	summary := IngestSummary{
		Chunks:   len(chunks),
		Uploaded: upsert.Uploaded,
		Failed:   dropped + upsert.Failed,
		Elapsed:  time.Since(start),
	}
	s.logger.Info("ingestion complete",
		zap.String("index", index),
		zap.Int("chunks", summary.Chunks),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// Answer runs the query path and always returns a user-facing string.
// Provider and store errors degrade to explanatory messages.
func (s *Service) Answer(ctx context.Context, sessionID, question string, topK int) string {
	if strings.TrimSpace(question) == "" {
		return MsgInvalidQuestion
	}
	if topK <= 0 {
		topK = s.config.TopK
	}
	index := vectorstore.IndexName(sessionID)

	key := responseKey(question, index, topK)
	if cached, ok := s.responses.Get(key); ok {
		s.logger.Debug("response cache hit", zap.String("index", index))
		return cached
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		return searchError(err)
	}

	candidates, err := s.store.Query(ctx, index, vector, topK)
	if err != nil {
		if errors.Is(err, vectorstore.ErrIndexNotFound) {
			return MsgIndexMissing
		}
		s.logger.Error("index query failed",
			zap.String("index", index),
			zap.Error(err))
		return searchError(err)
	}

	passages := s.filter(candidates, topK)
	if len(passages) == 0 {
		return MsgNoRelevantInfo
	}

	answer := s.generator.Generate(ctx, question, passages)

	// Put refuses once the cache is full; that is fine.
	s.responses.Put(key, answer)

	s.logger.Info("answer generated",
		zap.String("index", index),
		zap.Int("passages", len(passages)))
	return answer
}

// filter applies the strict relevance filter, then the relaxed fallback.
// Candidates keep the store's rank order throughout.
func (s *Service) filter(candidates []vectorstore.ScoredChunk, topK int) []string {
	passages := make([]string, 0, topK)
	for _, c := range candidates {
		if len(passages) == topK {
			break
		}
		if float64(c.Distance) >= s.config.DistanceThreshold {
			continue
		}
		if len(c.Text) <= minPassageLength || chunker.LowContent(c.Text) {
			continue
		}
		passages = append(passages, c.Text)
	}
	if len(passages) > 0 {
		return passages
	}

	// Nothing survived: degrade relevance rather than return nothing. Take
	// the best raw candidates regardless of distance, with a lower length bar.
	for _, c := range candidates {
		if len(passages) == topK {
			break
		}
		if len(c.Text) <= fallbackMinLength || chunker.LowContent(c.Text) {
			continue
		}
		passages = append(passages, c.Text)
	}
	return passages
}

// SessionInfo reports the state of a session's index.
func (s *Service) SessionInfo(ctx context.Context, sessionID string) (*vectorstore.IndexInfo, error) {
	return s.store.IndexInfo(ctx, vectorstore.IndexName(sessionID))
}

// Reset clears the response cache. Global clearing also resets the embedding
// query cache, which the embedder owns.
func (s *Service) Reset() {
	s.responses.Clear()
	s.logger.Info("response cache cleared")
}

// responseKey normalizes the question so trivially different phrasings of the
// same lookup share an entry.
func responseKey(question, index string, topK int) string {
	return strings.ToLower(strings.TrimSpace(question)) + "_" + index + "_" + strconv.Itoa(topK)
}

func searchError(err error) string {
	return fmt.Sprintf("An error occurred while searching the documents: %v", err)
}
