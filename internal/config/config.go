// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"lakemart/internal/source"
)

// Config holds the configuration for the warehouse ETL and its HTTP API.
type Config struct {
	MetaDBPath    string // path to SQLite metastore file (checkpoints, runs, quarantine)
	WarehousePath string // path to DuckDB warehouse file; empty means in-memory
	ListenAddr    string // HTTP listen address (default ":8080")
	LogLevel      string // log level: debug, info, warn, error (default "info")
	Env           string // environment: "development" (default) or "production"

	// Pipeline behaviour
	Schedule         string // cron schedule for full pipeline runs; empty disables
	StageRetries     int    // transient-error retries per stage (default 2)
	TieBreak         string // duplicate natural-key policy: "last" (default) or "first"
	ExpectationsPath string // path to the data-quality expectations YAML (optional)

	// Source container. One container kind serves every stream; streams map
	// to subdirectories (local) or key prefixes (remote).
	SourceKind   string // local, s3, gcs, azure (default "local")
	SourcePath   string // local root directory
	SourceBucket string // bucket or Azure container name
	SourcePrefix string // key prefix ahead of the stream name

	// S3 fields are optional — nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	// GCS
	GCSKeyFile string

	// Azure
	AzureAccountName string
	AzureAccountKey  string

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// HasS3Config returns true if all required S3 fields are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil && c.S3Region != nil
}

// SourceConfig builds the container config for one ingestion stream.
func (c *Config) SourceConfig(streamID string) source.Config {
	cfg := source.Config{
		Kind:             c.SourceKind,
		Bucket:           c.SourceBucket,
		GCSKeyFile:       c.GCSKeyFile,
		AzureAccountName: c.AzureAccountName,
		AzureAccountKey:  c.AzureAccountKey,
	}
	if c.SourceKind == source.KindLocal || c.SourceKind == "" {
		cfg.Path = c.SourcePath + "/" + streamID
	} else {
		cfg.Prefix = streamID + "/"
		if c.SourcePrefix != "" {
			cfg.Prefix = strings.TrimSuffix(c.SourcePrefix, "/") + "/" + streamID + "/"
		}
	}
	if c.HasS3Config() {
		cfg.S3KeyID = *c.S3KeyID
		cfg.S3Secret = *c.S3Secret
		cfg.S3Region = *c.S3Region
		if c.S3Endpoint != nil {
			cfg.S3Endpoint = *c.S3Endpoint
		}
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables.
// Remote source variables are optional — the app can start without them.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:       os.Getenv("META_DB_PATH"),
		WarehousePath:    os.Getenv("WAREHOUSE_PATH"),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Env:              os.Getenv("ENV"),
		Schedule:         os.Getenv("PIPELINE_SCHEDULE"),
		TieBreak:         os.Getenv("CONFORM_TIE_BREAK"),
		ExpectationsPath: os.Getenv("EXPECTATIONS_PATH"),
		SourceKind:       os.Getenv("SOURCE_KIND"),
		SourcePath:       os.Getenv("SOURCE_PATH"),
		SourceBucket:     os.Getenv("SOURCE_BUCKET"),
		SourcePrefix:     os.Getenv("SOURCE_PREFIX"),
		GCSKeyFile:       os.Getenv("GCS_KEY_FILE"),
		AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
	}

	if v := os.Getenv("STAGE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StageRetries = n
		}
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// S3 fields are optional — only set if present
	if v := os.Getenv("S3_KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("S3_SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3Region = &v
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "lakemart_meta.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SourceKind == "" {
		cfg.SourceKind = source.KindLocal
	}
	if cfg.SourceKind == source.KindLocal && cfg.SourcePath == "" {
		cfg.SourcePath = "data/incoming"
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = "last"
	}
	if cfg.TieBreak != "last" && cfg.TieBreak != "first" {
		return nil, fmt.Errorf("CONFORM_TIE_BREAK must be \"last\" or \"first\", got %q", cfg.TieBreak)
	}
	if cfg.StageRetries == 0 {
		cfg.StageRetries = 2
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	switch cfg.SourceKind {
	case source.KindLocal:
	case source.KindS3:
		if !cfg.HasS3Config() || cfg.SourceBucket == "" {
			return nil, fmt.Errorf("SOURCE_KIND=s3 requires S3_KEY_ID, S3_SECRET, S3_REGION and SOURCE_BUCKET")
		}
	case source.KindGCS:
		if cfg.SourceBucket == "" {
			return nil, fmt.Errorf("SOURCE_KIND=gcs requires SOURCE_BUCKET")
		}
	case source.KindAzure:
		if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" || cfg.SourceBucket == "" {
			return nil, fmt.Errorf("SOURCE_KIND=azure requires AZURE_ACCOUNT_NAME, AZURE_ACCOUNT_KEY and SOURCE_BUCKET")
		}
	default:
		return nil, fmt.Errorf("unknown SOURCE_KIND %q", cfg.SourceKind)
	}

	// Production mode: loose defaults become fatal errors.
	if cfg.IsProduction() {
		if cfg.WarehousePath == "" {
			return nil, fmt.Errorf("WAREHOUSE_PATH must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}
	if cfg.WarehousePath == "" {
		cfg.Warnings = append(cfg.Warnings, "WAREHOUSE_PATH not set — using an in-memory warehouse, data is lost on exit")
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
