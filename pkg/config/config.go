// Package config loads the server configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/cache"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/embeddings"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/engine"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/llm"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// Environment variables that override secrets from the file.
const (
	EnvLLMAPIKey      = "TOT_LLM_API_KEY"
	EnvEmbedderAPIKey = "TOT_EMBEDDER_API_KEY"
	EnvHTTPToken      = "TOT_HTTP_TOKEN"
)

const defaultDataDir = "tot-data"

// Config is the root of the YAML file.
type Config struct {
	// DataDir holds the cache artifacts and the run journal.
	DataDir string `yaml:"data_dir"`

	Cache       CacheConfig    `yaml:"cache"`
	Embedder    EmbedderConfig `yaml:"embedder"`
	LLM         llm.Config     `yaml:"llm"`
	RunDefaults tot.RunConfig  `yaml:"run_defaults"`
	Engine      EngineConfig   `yaml:"engine"`
	Server      ServerConfig   `yaml:"server"`
}

// CacheConfig enables the semantic cache and tunes it.
type CacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	cache.Options `yaml:",inline"`
}

// EmbedderConfig selects the embedding provider used by the cache.
type EmbedderConfig struct {
	Type       string        `yaml:"type"` // "hash", "ollama" or "openai"
	URL        string        `yaml:"url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EngineConfig tunes the run registry.
type EngineConfig struct {
	JournalFilename     string        `yaml:"journal_filename"`
	RetainFinished      time.Duration `yaml:"retain_finished"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// ServerConfig configures the ops HTTP listener. An empty address disables it.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// AuthToken protects the /runs and /cache routes when set.
	AuthToken string `yaml:"auth_token"`
}

// DefaultConfig returns a configuration that works offline: hashing embedder,
// no LLM provider, cache persisted under ./tot-data.
func DefaultConfig() Config {
	const dim = 256

	cacheOpts := cache.DefaultOptions(defaultDataDir, dim)
	engineOpts := engine.DefaultOptions(defaultDataDir)

	llmCfg := llm.DefaultConfig()
	llmCfg.BaseURL = ""

	cfg := Config{
		DataDir:     defaultDataDir,
		Cache:       CacheConfig{Enabled: true, Options: cacheOpts},
		Embedder:    EmbedderConfig{Type: "hash", Dimensions: dim, Timeout: 60 * time.Second},
		LLM:         llmCfg,
		RunDefaults: CommandDefaults(),
		Engine: EngineConfig{
			JournalFilename:     engineOpts.JournalFilename,
			RetainFinished:      engineOpts.RetainFinished,
			MaintenanceInterval: engineOpts.MaintenanceInterval,
		},
		Server: ServerConfig{HTTPAddr: ""},
	}
	cfg.RunDefaults.EmbeddingModel = ""
	cfg.RunDefaults.EmbeddingDim = 0
	cfg.seedEmbedding()
	return cfg
}

// CommandDefaults are the run settings applied to requests that leave fields
// out: a small, quick search.
func CommandDefaults() tot.RunConfig {
	cfg := tot.DefaultRunConfig()
	cfg.MaxDepth = 3
	cfg.BranchingFactor = 2
	cfg.BeamWidth = 2
	cfg.StopConditions = tot.StopConditions{MaxNodes: 50, MaxTimeSeconds: 60}
	return cfg
}

// LoadConfig reads the YAML file at path over the defaults using strict
// parsing, then applies environment overrides. An empty path returns the
// defaults with overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
		}

		// Embedding settings left out of run_defaults follow the cache and
		// embedder sections of the same file.
		cfg.RunDefaults.EmbeddingModel = ""
		cfg.RunDefaults.EmbeddingDim = 0

		decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
		}
		cfg.seedEmbedding()
	}

	cfg.applyEnv()
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// seedEmbedding fills unset run embedding settings from the cache and embedder.
func (c *Config) seedEmbedding() {
	if c.RunDefaults.EmbeddingModel == "" {
		c.RunDefaults.EmbeddingModel = c.Embedder.ModelName()
	}
	if c.RunDefaults.EmbeddingDim == 0 {
		c.RunDefaults.EmbeddingDim = c.Cache.Dimension
		if c.RunDefaults.EmbeddingDim <= 0 {
			c.RunDefaults.EmbeddingDim = c.Embedder.Dimensions
		}
		if c.RunDefaults.EmbeddingDim <= 0 {
			c.RunDefaults.EmbeddingDim = tot.DefaultRunConfig().EmbeddingDim
		}
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(EnvEmbedderAPIKey); v != "" {
		c.Embedder.APIKey = v
	}
	if v := os.Getenv(EnvHTTPToken); v != "" {
		c.Server.AuthToken = v
	}
}

// resolvePaths puts bare cache artifact names under DataDir and follows a
// moved DataDir for paths left at their defaults.
func (c *Config) resolvePaths() {
	prefix := defaultDataDir + string(filepath.Separator)
	for _, p := range []*string{&c.Cache.IndexPath, &c.Cache.MetaPath} {
		switch {
		case *p == "" || filepath.IsAbs(*p):
		case filepath.Dir(*p) == ".":
			*p = filepath.Join(c.DataDir, *p)
		case strings.HasPrefix(*p, prefix) && c.DataDir != defaultDataDir:
			*p = filepath.Join(c.DataDir, strings.TrimPrefix(*p, prefix))
		}
	}
}

// Validate checks cross-section consistency.
func (c Config) Validate() error {
	switch c.Embedder.Type {
	case "hash", "ollama", "openai":
	default:
		return &tot.ConfigurationError{Field: "embedder.type", Reason: fmt.Sprintf("unknown embedder %q", c.Embedder.Type)}
	}
	if c.Cache.Enabled && c.Cache.Dimension <= 0 {
		return &tot.ConfigurationError{Field: "cache.dimension", Reason: "must be positive"}
	}
	if c.Cache.Enabled && c.Embedder.Type == "hash" && c.Embedder.Dimensions != c.Cache.Dimension {
		return &tot.ConfigurationError{Field: "embedder.dimensions", Reason: "hash embedder dimensions must equal cache.dimension"}
	}
	if c.Cache.Enabled && c.RunDefaults.EmbeddingDim != c.Cache.Dimension {
		return &tot.ConfigurationError{
			Field:  "run_defaults.embedding_dim",
			Reason: fmt.Sprintf("%d does not match cache.dimension %d", c.RunDefaults.EmbeddingDim, c.Cache.Dimension),
		}
	}
	if c.Cache.Enabled && c.RunDefaults.EmbeddingModel != c.Embedder.ModelName() {
		return &tot.ConfigurationError{
			Field:  "run_defaults.embedding_model",
			Reason: fmt.Sprintf("%q does not match the configured embedder %q", c.RunDefaults.EmbeddingModel, c.Embedder.ModelName()),
		}
	}
	return c.RunDefaults.Validate()
}

// ModelName identifies the vectors the embedder produces: the model when one
// is configured, otherwise the embedder type.
func (c EmbedderConfig) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return c.Type
}

// NewEmbedder builds the configured embedding provider.
func (c EmbedderConfig) NewEmbedder() (embeddings.Embedder, error) {
	switch c.Type {
	case "hash":
		return embeddings.NewHashEmbedder(c.Dimensions), nil
	case "ollama":
		return embeddings.NewOllamaEmbedder(c.URL, c.Model, c.Timeout), nil
	case "openai":
		return embeddings.NewOpenAIEmbedder(c.URL, c.Model, c.APIKey, c.Dimensions, c.Timeout), nil
	}
	return nil, &tot.ConfigurationError{Field: "embedder.type", Reason: fmt.Sprintf("unknown embedder %q", c.Type)}
}

// NewChatClient returns an LLM client, or an offline stand-in when no
// provider URL is configured.
func (c Config) NewChatClient() llm.Client {
	if c.LLM.BaseURL == "" {
		return llm.OfflineClient{}
	}
	return llm.NewClient(c.LLM)
}

// EngineOptions converts the engine section. With the cache enabled, runs
// must name the embedder model that fills it.
func (c Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions(c.DataDir)
	opts.JournalFilename = c.Engine.JournalFilename
	opts.RetainFinished = c.Engine.RetainFinished
	opts.MaintenanceInterval = c.Engine.MaintenanceInterval
	if c.Cache.Enabled {
		opts.EmbeddingModel = c.Embedder.ModelName()
	}
	return opts
}
