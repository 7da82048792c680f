// Package vectorstore defines the interface for vector index operations and
// provides remote (Qdrant) and embedded (chromem) implementations.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrIndexNotFound is returned when an index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidIndexName indicates index name validation failure.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrConnectionFailed indicates the store client could not connect.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmptyRecords indicates empty or nil records.
	ErrEmptyRecords = errors.New("empty or nil records")
)

const (
	// UpsertBatchSize is the number of records uploaded per store call.
	UpsertBatchSize = 100

	// UpsertMaxAttempts is how many times one batch upload is attempted
	// before falling back to per-record uploads.
	UpsertMaxAttempts = 3

	// QueryMaxAttempts is how many times a similarity query is attempted
	// before the error propagates. Queries pause a fixed QueryRetryPause
	// between attempts; bulk uploads back off exponentially instead, since
	// interactive reads must stay responsive while writes can wait.
	QueryMaxAttempts = 3

	// QueryRetryPause is the fixed pause between query attempts.
	QueryRetryPause = time.Second

	// maxCandidates caps similarity-query over-fetching.
	maxCandidates = 50
)

// CandidateLimit returns how many candidates a query requests from the store:
// three times topK to leave room for post-filtering, capped at maxCandidates.
func CandidateLimit(topK int) int {
	if topK <= 0 {
		topK = 1
	}
	return min(topK*3, maxCandidates)
}

// Record is the unit stored in an index: a stable key, the embedding vector,
// and the chunk payload. The store is the only persistence layer for chunk
// text, so the payload carries everything needed at answer time.
type Record struct {
	// Key is the zero-padded chunk sequence index, unique within an index.
	Key string

	// Vector is the embedding, sized to the index dimension.
	Vector []float32

	// Text is the original chunk content.
	Text string

	// ChunkIndex is the chunk's position in its source document.
	ChunkIndex int

	// Length is len(Text).
	Length int
}

// ScoredChunk is one similarity-query candidate.
type ScoredChunk struct {
	Key        string
	Text       string
	ChunkIndex int
	Length     int

	// Distance is dissimilarity in [0, 2] for cosine indexes: lower is more
	// similar. Implementations map store-native similarity scores to this.
	Distance float32
}

// UpsertSummary reports the outcome of a batched upload. Partial failures
// are reflected here, never raised.
type UpsertSummary struct {
	Uploaded int
	Failed   int
	Batches  int
	Elapsed  time.Duration
}

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name       string
	PointCount int
	Dimension  int
}

// Store is the interface for vector index lifecycle, upload, and query.
//
// Implementations:
//   - QdrantStore: remote Qdrant service over gRPC (default)
//   - ChromemStore: embedded chromem-go, for local development and tests
type Store interface {
	// EnsureIndex creates the named index with the given dimension and cosine
	// distance if it does not exist. It is idempotent: an existing index is a
	// no-op. A lookup failure that is not a typed not-found propagates as an
	// error rather than triggering a conflicting create.
	EnsureIndex(ctx context.Context, name string, dimension int) error

	// Upsert uploads records in batches of UpsertBatchSize. A batch that
	// exhausts its retries falls back to per-record uploads; individual
	// failures are counted in the summary, not returned as errors.
	Upsert(ctx context.Context, name string, records []Record) (UpsertSummary, error)

	// Query returns up to CandidateLimit(topK) candidates nearest to vector,
	// in the store's rank order, with distances and payloads. The call is
	// retried QueryMaxAttempts times; the final failure propagates.
	Query(ctx context.Context, name string, vector []float32, topK int) ([]ScoredChunk, error)

	// IndexInfo returns point count and dimension for an index, or
	// ErrIndexNotFound.
	IndexInfo(ctx context.Context, name string) (*IndexInfo, error)

	// Close releases the store connection.
	Close() error
}
