package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Backend identifiers for Config.Backend.
const (
	BackendQdrant  = "qdrant"
	BackendChromem = "chromem"
)

// Config selects and configures a vector store backend.
type Config struct {
	// Backend is "qdrant" (default, remote) or "chromem" (embedded).
	Backend string `koanf:"backend"`

	Qdrant  QdrantConfig  `koanf:"qdrant"`
	Chromem ChromemConfig `koanf:"chromem"`
}

// New creates the configured Store implementation.
func New(config Config, logger *zap.Logger) (Store, error) {
	backend := config.Backend
	if backend == "" {
		backend = BackendQdrant
	}

	switch backend {
	case BackendQdrant:
		return NewQdrantStore(config.Qdrant, logger)
	case BackendChromem:
		return NewChromemStore(config.Chromem, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vector store backend %q", ErrInvalidConfig, backend)
	}
}
