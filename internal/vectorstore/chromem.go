package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory,
	// which is what tests and throwaway local sessions want.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// ChromemStore implements Store with chromem-go, an embeddable pure-Go vector
// database. It exists for local development and tests; sessions served from it
// share the Qdrant-backed store's batching and naming discipline so the two
// backends are interchangeable behind the Store interface.
type ChromemStore struct {
	db       *chromem.DB
	logger   *zap.Logger
	uploader uploader

	// dimensions remembers the dimension each index was created with, since
	// chromem does not expose it back.
	dimensions sync.Map
}

// NewChromemStore creates a ChromemStore, persistent when config.Path is set.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chromem")

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}

	return &ChromemStore{
		db:       db,
		logger:   logger,
		uploader: newUploader(logger, nil),
	}, nil
}

// noEmbed satisfies chromem's embedding hook; records always arrive with
// vectors already computed, so being called is a bug.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings must be precomputed")
}

// EnsureIndex creates the named collection if missing. GetOrCreateCollection
// is idempotent, so a second call with the same name is a no-op.
func (s *ChromemStore) EnsureIndex(_ context.Context, name string, dimension int) error {
	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	_, err := s.db.GetOrCreateCollection(name, map[string]string{
		"dimension": strconv.Itoa(dimension),
	}, noEmbed)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	s.dimensions.Store(name, dimension)
	return nil
}

// collection fetches an existing collection or reports ErrIndexNotFound.
func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	if err := ValidateIndexName(name); err != nil {
		return nil, err
	}
	col := s.db.GetCollection(name, noEmbed)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return col, nil
}

// Upsert uploads records through the shared batching discipline.
func (s *ChromemStore) Upsert(ctx context.Context, name string, records []Record) (UpsertSummary, error) {
	if len(records) == 0 {
		return UpsertSummary{}, ErrEmptyRecords
	}
	col, err := s.collection(name)
	if err != nil {
		return UpsertSummary{}, err
	}

	batchFn := func(ctx context.Context, batch []Record) error {
		docs := make([]chromem.Document, len(batch))
		for i, rec := range batch {
			docs[i] = toChromemDocument(rec)
		}
		return col.AddDocuments(ctx, docs, runtime.NumCPU())
	}
	itemFn := func(ctx context.Context, rec Record) error {
		return col.AddDocument(ctx, toChromemDocument(rec))
	}

	summary := s.uploader.upload(ctx, records, batchFn, itemFn)
	s.logger.Debug("upsert complete",
		zap.String("index", name),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func toChromemDocument(rec Record) chromem.Document {
	return chromem.Document{
		ID:        rec.Key,
		Embedding: rec.Vector,
		Content:   rec.Text,
		Metadata: map[string]string{
			payloadChunkIndex: strconv.Itoa(rec.ChunkIndex),
			payloadLength:     strconv.Itoa(rec.Length),
		},
	}
}

// Query returns up to CandidateLimit(topK) candidates. chromem rejects asking
// for more results than stored documents, so the limit is clamped to Count.
func (s *ChromemStore) Query(ctx context.Context, name string, vector []float32, topK int) ([]ScoredChunk, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", ErrInvalidConfig)
	}

	limit := min(CandidateLimit(topK), col.Count())
	if limit == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index %s: %w", name, err)
	}

	chunks := make([]ScoredChunk, len(results))
	for i, res := range results {
		chunk := ScoredChunk{
			Key:      res.ID,
			Text:     res.Content,
			Distance: 1 - res.Similarity,
		}
		if v, err := strconv.Atoi(res.Metadata[payloadChunkIndex]); err == nil {
			chunk.ChunkIndex = v
		}
		if v, err := strconv.Atoi(res.Metadata[payloadLength]); err == nil {
			chunk.Length = v
		}
		chunks[i] = chunk
	}
	return chunks, nil
}

// IndexInfo returns the stored point count and recorded dimension.
func (s *ChromemStore) IndexInfo(_ context.Context, name string) (*IndexInfo, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	dimension := 0
	if v, ok := s.dimensions.Load(name); ok {
		dimension = v.(int)
	}
	return &IndexInfo{
		Name:       name,
		PointCount: col.Count(),
		Dimension:  dimension,
	}, nil
}

// Close is a no-op: chromem persists incrementally.
func (s *ChromemStore) Close() error {
	return nil
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
