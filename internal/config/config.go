package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
	DefaultMaxFileSize  = 100 * 1024 * 1024
	DefaultRetrieveTopK = 5
	DefaultRetrieveMax  = 50
)

type Config struct {
	Port        int              `json:"port" yaml:"port"`
	JWTSecret   string           `json:"jwt_secret" yaml:"jwt_secret"`
	CORSOrigins []string         `json:"cors_origins" yaml:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config" yaml:"log_config"`
	Database    DatabaseConfig   `json:"database" yaml:"database"`
	FileStore   FileStoreConfig  `json:"file_store" yaml:"file_store"`
	Embedder    EmbedderConfig   `json:"embedder" yaml:"embedder"`
	Pipeline    PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Retrieval   RetrievalConfig  `json:"retrieval" yaml:"retrieval"`
	Cleanup     CleanupConfig    `json:"cleanup" yaml:"cleanup"`
	Jobs        JobsConfig       `json:"jobs" yaml:"jobs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbname" yaml:"dbname"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

type FileStoreConfig struct {
	Type string                 `json:"type" yaml:"type"`
	Data map[string]interface{} `json:"data" yaml:"data"`
}

type EmbedProviderConfig struct {
	Name     string                 `json:"name" yaml:"name"`
	Provider string                 `json:"provider" yaml:"provider"`
	Model    string                 `json:"model" yaml:"model"`
	Data     map[string]interface{} `json:"data" yaml:"data"`
}

type EmbedderConfig struct {
	Providers       []EmbedProviderConfig `json:"providers" yaml:"providers"`
	Dimension       int                   `json:"dimension" yaml:"dimension"`
	DocumentTask    string                `json:"document_task" yaml:"document_task"`
	QueryTask       string                `json:"query_task" yaml:"query_task"`
	Timeout         int                   `json:"timeout" yaml:"timeout"`
	MaxRetries      int                   `json:"max_retries" yaml:"max_retries"`
	RequestsPerMin  int                   `json:"requests_per_min" yaml:"requests_per_min"`
	BreakerFailures int                   `json:"breaker_failures" yaml:"breaker_failures"`
	CacheSize       int                   `json:"cache_size" yaml:"cache_size"`
	CacheTTL        int                   `json:"cache_ttl" yaml:"cache_ttl"`
	DBCache         bool                  `json:"db_cache" yaml:"db_cache"`
}

type PipelineConfig struct {
	ChunkSize    int   `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int   `json:"chunk_overlap" yaml:"chunk_overlap"`
	MaxFileSize  int64 `json:"max_file_size" yaml:"max_file_size"`
	Timeout      int   `json:"timeout" yaml:"timeout"`
	StaleAfter   int   `json:"stale_after" yaml:"stale_after"`
}

// RetrievalConfig bounds /retrieve. RequestsPerMin of 0 disables the
// per user limit.
type RetrievalConfig struct {
	DefaultLimit   int `json:"default_limit" yaml:"default_limit"`
	MaxLimit       int `json:"max_limit" yaml:"max_limit"`
	RequestsPerMin int `json:"requests_per_min" yaml:"requests_per_min"`
	Burst          int `json:"burst" yaml:"burst"`
}

type CleanupConfig struct {
	Backend     string `json:"backend" yaml:"backend"`
	Workers     int    `json:"workers" yaml:"workers"`
	QueueSize   int    `json:"queue_size" yaml:"queue_size"`
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
	RedisAddr   string `json:"redis_addr" yaml:"redis_addr"`
	RedisDB     int    `json:"redis_db" yaml:"redis_db"`
}

type JobsConfig struct {
	BlobCleanupSweep      string `json:"blob_cleanup_sweep" yaml:"blob_cleanup_sweep"`
	EmbeddingCacheCleanup string `json:"embedding_cache_cleanup" yaml:"embedding_cache_cleanup"`
	EmbeddingCacheMaxDays int    `json:"embedding_cache_max_days" yaml:"embedding_cache_max_days"`
	StaleRecovery         string `json:"stale_recovery" yaml:"stale_recovery"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	// .env next to the working directory is optional
	_ = godotenv.Load()
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MKB_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MKB_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("MKB_EMBEDDER_API_KEY"); v != "" {
		for i := range cfg.Embedder.Providers {
			if cfg.Embedder.Providers[i].Data == nil {
				cfg.Embedder.Providers[i].Data = map[string]interface{}{}
			}
			cfg.Embedder.Providers[i].Data["api_key"] = v
		}
	}
	if strings.EqualFold(cfg.FileStore.Type, "s3") {
		if cfg.FileStore.Data == nil {
			cfg.FileStore.Data = map[string]interface{}{}
		}
		if v := os.Getenv("MKB_S3_SECRET_ID"); v != "" {
			cfg.FileStore.Data["secret_id"] = v
		}
		if v := os.Getenv("MKB_S3_SECRET_KEY"); v != "" {
			cfg.FileStore.Data["secret_key"] = v
		}
	}
}

func (cfg *Config) normalize() error {
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if len(cfg.Embedder.Providers) == 0 {
		return fmt.Errorf("embedder.providers is required")
	}
	for i, p := range cfg.Embedder.Providers {
		if p.Provider == "" || p.Model == "" {
			return fmt.Errorf("embedder.providers[%d] provider/model are required", i)
		}
		if p.Name == "" {
			cfg.Embedder.Providers[i].Name = p.Provider + ":" + p.Model
		}
	}
	if cfg.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension is required")
	}
	if cfg.Embedder.DocumentTask == "" {
		cfg.Embedder.DocumentTask = "RETRIEVAL_DOCUMENT"
	}
	if cfg.Embedder.QueryTask == "" {
		cfg.Embedder.QueryTask = "RETRIEVAL_QUERY"
	}
	if cfg.Embedder.Timeout <= 0 {
		cfg.Embedder.Timeout = 30
	}
	if cfg.Embedder.MaxRetries <= 0 {
		cfg.Embedder.MaxRetries = 3
	}
	if cfg.Embedder.CacheSize > 0 && cfg.Embedder.CacheTTL <= 0 {
		cfg.Embedder.CacheTTL = 3600
	}
	if cfg.Embedder.BreakerFailures <= 0 {
		cfg.Embedder.BreakerFailures = 5
	}
	if cfg.Pipeline.ChunkSize <= 0 {
		cfg.Pipeline.ChunkSize = DefaultChunkSize
		if cfg.Pipeline.ChunkOverlap == 0 {
			cfg.Pipeline.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if cfg.Pipeline.ChunkOverlap < 0 || cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be in [0, chunk_size)")
	}
	if cfg.Pipeline.MaxFileSize <= 0 {
		cfg.Pipeline.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Pipeline.Timeout <= 0 {
		cfg.Pipeline.Timeout = 600
	}
	if cfg.Pipeline.StaleAfter <= 0 {
		cfg.Pipeline.StaleAfter = 3600
	}
	if cfg.Retrieval.DefaultLimit <= 0 {
		cfg.Retrieval.DefaultLimit = DefaultRetrieveTopK
	}
	if cfg.Retrieval.MaxLimit <= 0 {
		cfg.Retrieval.MaxLimit = DefaultRetrieveMax
	}
	if cfg.Retrieval.RequestsPerMin > 0 && cfg.Retrieval.Burst <= 0 {
		cfg.Retrieval.Burst = cfg.Retrieval.RequestsPerMin / 6
		if cfg.Retrieval.Burst < 1 {
			cfg.Retrieval.Burst = 1
		}
	}
	if cfg.Cleanup.Backend == "" {
		cfg.Cleanup.Backend = "local"
	}
	switch cfg.Cleanup.Backend {
	case "local":
	case "asynq":
		if cfg.Cleanup.RedisAddr == "" {
			return fmt.Errorf("cleanup.redis_addr is required for asynq backend")
		}
	default:
		return fmt.Errorf("cleanup.backend must be local or asynq")
	}
	if cfg.Cleanup.Workers <= 0 {
		cfg.Cleanup.Workers = 2
	}
	if cfg.Cleanup.QueueSize <= 0 {
		cfg.Cleanup.QueueSize = 256
	}
	if cfg.Cleanup.MaxAttempts <= 0 {
		cfg.Cleanup.MaxAttempts = 5
	}
	if cfg.Jobs.BlobCleanupSweep == "" {
		cfg.Jobs.BlobCleanupSweep = "*/10 * * * *"
	}
	if cfg.Jobs.EmbeddingCacheCleanup == "" {
		cfg.Jobs.EmbeddingCacheCleanup = "30 3 * * *"
	}
	if cfg.Jobs.EmbeddingCacheMaxDays <= 0 {
		cfg.Jobs.EmbeddingCacheMaxDays = 30
	}
	if cfg.Jobs.StaleRecovery == "" {
		cfg.Jobs.StaleRecovery = "*/5 * * * *"
	}
	return nil
}
