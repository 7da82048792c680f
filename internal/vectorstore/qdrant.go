package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/docqa/internal/retry"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("docqa.vectorstore.qdrant")

// Payload field names used for stored chunks.
const (
	payloadKey        = "key"
	payloadText       = "text"
	payloadChunkIndex = "chunk_index"
	payloadLength     = "length"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334 by default, not the HTTP 6333).
	Port int `koanf:"port"`

	// APIKey authenticates against Qdrant Cloud. Optional for local servers.
	APIKey string `koanf:"api_key"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB, large enough for full upload batches.
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// IsTransientError reports whether a store error is worth retrying: network
// timeouts and temporary unavailability yes, invalid input and auth no.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// isNotFound reports a typed not-found from the store, as distinct from any
// other lookup failure.
func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantStore is a Store implementation backed by Qdrant's native gRPC client.
//
// The connection is pooled by gRPC and created lazily, at most once per
// process, under a lock so concurrent first access cannot construct duplicate
// clients.
type QdrantStore struct {
	config   QdrantConfig
	logger   *zap.Logger
	uploader uploader

	mu     sync.Mutex
	client *qdrant.Client
}

// NewQdrantStore creates a QdrantStore. No connection is made until first use.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("qdrant")

	return &QdrantStore{
		config:   config,
		logger:   logger,
		uploader: newUploader(logger, IsTransientError),
	}, nil
}

// getClient returns the shared client handle, dialing on first use.
func (s *QdrantStore) getClient() (*qdrant.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   s.config.Host,
		Port:   s.config.Port,
		APIKey: s.config.APIKey,
		UseTLS: s.config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(s.config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(s.config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s.client = client
	s.logger.Info("created qdrant client",
		zap.String("host", s.config.Host),
		zap.Int("port", s.config.Port))
	return client, nil
}

// Close closes the gRPC connection if one was created.
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// EnsureIndex creates the index if it does not exist, with cosine distance.
//
// The existence check returns a typed answer: only a definitive "does not
// exist" proceeds to create. A failing lookup propagates instead of being
// conflated with absence, so a transient outage cannot trigger a conflicting
// create attempt.
func (s *QdrantStore) EnsureIndex(ctx context.Context, name string, dimension int) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureIndex")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", name),
		attribute.Int("dimension", dimension),
	)

	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	client, err := s.getClient()
	if err != nil {
		return err
	}

	exists, err := client.CollectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking index %s: %w", name, err)
	}
	if exists {
		span.SetStatus(codes.Ok, "exists")
		return nil
	}

	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating index %s: %w", name, err)
	}

	s.logger.Info("created index",
		zap.String("index", name),
		zap.Int("dimension", dimension))
	span.SetStatus(codes.Ok, "created")
	return nil
}

// Upsert uploads records in batches, degrading to per-record uploads for
// batches that exhaust their retries. Partial failures end up in the summary.
func (s *QdrantStore) Upsert(ctx context.Context, name string, records []Record) (UpsertSummary, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", name),
		attribute.Int("record_count", len(records)),
	)

	if err := ValidateIndexName(name); err != nil {
		return UpsertSummary{}, err
	}
	if len(records) == 0 {
		return UpsertSummary{}, ErrEmptyRecords
	}

	client, err := s.getClient()
	if err != nil {
		return UpsertSummary{}, err
	}

	batchFn := func(ctx context.Context, batch []Record) error {
		points := make([]*qdrant.PointStruct, len(batch))
		for i, rec := range batch {
			points[i] = s.toPoint(name, rec)
		}
		_, err := client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
		})
		return err
	}
	itemFn := func(ctx context.Context, rec Record) error {
		_, err := client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         []*qdrant.PointStruct{s.toPoint(name, rec)},
		})
		return err
	}

	summary := s.uploader.upload(ctx, records, batchFn, itemFn)

	s.logger.Info("upsert complete",
		zap.String("index", name),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("failed", summary.Failed),
		zap.Int("batches", summary.Batches),
		zap.Duration("elapsed", summary.Elapsed))

	span.SetAttributes(
		attribute.Int("uploaded", summary.Uploaded),
		attribute.Int("failed", summary.Failed),
	)
	span.SetStatus(codes.Ok, "success")
	return summary, nil
}

// toPoint converts a Record to a Qdrant point. The point ID is a UUID derived
// deterministically from index name and record key, so re-ingesting a session
// overwrites rather than duplicates; the record key stays in the payload.
func (s *QdrantStore) toPoint(index string, rec Record) *qdrant.PointStruct {
	pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(index+"/"+rec.Key))

	payload := map[string]*qdrant.Value{
		payloadKey:        {Kind: &qdrant.Value_StringValue{StringValue: rec.Key}},
		payloadText:       {Kind: &qdrant.Value_StringValue{StringValue: rec.Text}},
		payloadChunkIndex: {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.ChunkIndex)}},
		payloadLength:     {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.Length)}},
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID.String()),
		Vectors: qdrant.NewVectors(rec.Vector...),
		Payload: payload,
	}
}

// Query fetches CandidateLimit(topK) nearest candidates with payloads and
// scores, retrying on a fixed pause. The last failure propagates.
func (s *QdrantStore) Query(ctx context.Context, name string, vector []float32, topK int) ([]ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", name),
		attribute.Int("top_k", topK),
	)

	if err := ValidateIndexName(name); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", ErrInvalidConfig)
	}

	client, err := s.getClient()
	if err != nil {
		return nil, err
	}

	limit := CandidateLimit(topK)
	policy := retry.Policy{
		MaxAttempts: QueryMaxAttempts,
		Backoff:     retry.Fixed(QueryRetryPause),
		Retryable:   IsTransientError,
	}

	var points []*qdrant.ScoredPoint
	err = policy.Do(ctx, "query", func() error {
		res, err := client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		return nil, fmt.Errorf("querying index %s: %w", name, err)
	}

	chunks := make([]ScoredChunk, len(points))
	for i, point := range points {
		chunk := ScoredChunk{
			// Cosine score is similarity in [-1, 1]; expose dissimilarity.
			Distance: 1 - point.Score,
		}
		for k, v := range point.Payload {
			switch val := v.Kind.(type) {
			case *qdrant.Value_StringValue:
				if k == payloadKey {
					chunk.Key = val.StringValue
				} else if k == payloadText {
					chunk.Text = val.StringValue
				}
			case *qdrant.Value_IntegerValue:
				if k == payloadChunkIndex {
					chunk.ChunkIndex = int(val.IntegerValue)
				} else if k == payloadLength {
					chunk.Length = int(val.IntegerValue)
				}
			}
		}
		chunks[i] = chunk
	}

	span.SetAttributes(attribute.Int("candidates", len(chunks)))
	span.SetStatus(codes.Ok, "success")
	return chunks, nil
}

// IndexInfo returns point count and dimension for an index.
func (s *QdrantStore) IndexInfo(ctx context.Context, name string) (*IndexInfo, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.IndexInfo")
	defer span.End()
	span.SetAttributes(attribute.String("index", name))

	if err := ValidateIndexName(name); err != nil {
		return nil, err
	}

	client, err := s.getClient()
	if err != nil {
		return nil, err
	}

	info, err := client.GetCollectionInfo(ctx, name)
	if err != nil {
		span.RecordError(err)
		if isNotFound(err) {
			span.SetStatus(codes.Error, "index not found")
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting index info for %s: %w", name, err)
	}

	pointCount := 0
	if info.PointsCount != nil {
		pointCount = int(*info.PointsCount)
	}

	dimension := 0
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		dimension = int(params.Size)
	}

	span.SetStatus(codes.Ok, "success")
	return &IndexInfo{
		Name:       name,
		PointCount: pointCount,
		Dimension:  dimension,
	}, nil
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
