// Package config provides configuration loading for docqa.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// ErrConfiguration marks fatal startup configuration problems. The process
// must not come up with one of these outstanding.
var ErrConfiguration = errors.New("configuration error")

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Logging     logging.Config     `koanf:"logging"`
	Chunker     ChunkerConfig      `koanf:"chunker"`
	Embeddings  embeddings.Config  `koanf:"embeddings"`
	Answer      answer.Config      `koanf:"answer"`
	VectorStore vectorstore.Config `koanf:"vectorstore"`
	Retrieval   retrieval.Config   `koanf:"retrieval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `koanf:"host"`

	// Port is the HTTP listen port.
	Port int `koanf:"port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxUploadBytes caps one multipart upload request.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`
}

// ChunkerConfig holds text splitting settings.
type ChunkerConfig struct {
	// ChunkSize is the target segment size in characters.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is how many characters consecutive segments share.
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// ApplyDefaults sets default values for all sections.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 50 * 1024 * 1024
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:8080/v1"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}

	c.Logging.ApplyDefaults()
	c.Embeddings.ApplyDefaults()
	c.Answer.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
}

// Validate checks the full configuration. Credential problems surface as
// ErrConfiguration so startup can fail hard before serving traffic.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", ErrConfiguration, c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrConfiguration, err)
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("%w: embeddings: %v", ErrConfiguration, err)
	}

	// The hosted provider rejects keyless requests, so catch that at startup
	// instead of on the first ingestion. Local OpenAI-compatible endpoints
	// accept any token and may run keyless.
	if c.Embeddings.APIKey == "" && strings.Contains(c.Embeddings.BaseURL, "api.openai.com") {
		return fmt.Errorf("%w: embeddings API key required for hosted provider", ErrConfiguration)
	}
	if c.Answer.APIKey == "" && strings.Contains(c.Answer.BaseURL, "api.openai.com") {
		return fmt.Errorf("%w: answer API key required for hosted provider", ErrConfiguration)
	}
	return nil
}
