package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces process environment variables.
	envPrefix = "DOCQA_"
)

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (DOCQA_SERVER_PORT, DOCQA_EMBEDDINGS_API_KEY, ...)
//  2. YAML config file (when configPath is set and exists)
//  3. Defaults
//
// Environment variables map section-first: the first underscore after the
// prefix separates the section from the field, so DOCQA_EMBEDDINGS_BASE_URL
// becomes embeddings.base_url.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("opening config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)",
					ErrConfiguration, info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToPath), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envToPath maps DOCQA_SECTION_FIELD_NAME to section.field_name. Only the
// first underscore splits; field names keep theirs. The vectorstore section
// nests one level deeper per backend.
func envToPath(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]

	if section == "vectorstore" {
		for _, backend := range []string{"qdrant_", "chromem_"} {
			if strings.HasPrefix(field, backend) {
				return section + "." + strings.TrimSuffix(backend, "_") + "." + strings.TrimPrefix(field, backend)
			}
		}
	}
	return section + "." + field
}
