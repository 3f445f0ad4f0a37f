// Package config provides configuration parsing for the trainer.
//
// Command-line flags take precedence over environment variables, which take
// precedence over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/HatiCode/latencyguard/pkg/models"
	"github.com/HatiCode/latencyguard/pkg/storage"
	"github.com/HatiCode/latencyguard/pkg/training"
)

type Config struct {
	Artifact  string
	Storage   storage.Options
	Model     models.Params
	LogFormat string
	LogLevel  string
	LogFile   string
}

// ParseFlags parses os.Args into a Config and exits on invalid configuration.
func ParseFlags() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	return cfg
}

// Parse parses args with fs.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	def := models.DefaultParams()
	var contamination string

	fs.StringVar(&cfg.Artifact, "artifact", getEnv("ARTIFACT", training.DefaultArtifact), "Model artifact name")
	fs.StringVar(&contamination, "contamination", getEnv("CONTAMINATION", "0.1"), "Expected anomaly fraction: auto, p10 or 0.1")
	fs.IntVar(&cfg.Model.Trees, "trees", getEnvInt("TREES", def.Trees), "Number of isolation trees")
	fs.IntVar(&cfg.Model.MaxSamples, "max-samples", getEnvInt("MAX_SAMPLES", def.MaxSamples), "Subsample size per tree")
	fs.Int64Var(&cfg.Model.Seed, "seed", getEnvInt64("SEED", def.Seed), "Random seed")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format (text|json)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFile, "log-file", getEnv("LOG_FILE", ""), "Also write logs to this rotating file")

	fs.StringVar(&cfg.Storage.Backend, "storage", getEnv("STORAGE", storage.BackendFile), "Artifact storage backend (file|redis|s3)")
	fs.StringVar(&cfg.Storage.Dir, "artifact-dir", getEnv("ARTIFACT_DIR", "."), "Artifact directory for file storage")
	fs.StringVar(&cfg.Storage.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.Storage.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.Storage.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.Storage.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 0), "Artifact TTL in Redis (0 keeps forever)")
	fs.StringVar(&cfg.Storage.S3.Endpoint, "s3-endpoint", getEnv("S3_ENDPOINT", ""), "S3 endpoint (host:port)")
	fs.StringVar(&cfg.Storage.S3.AccessKey, "s3-access-key", getEnv("S3_ACCESS_KEY", ""), "S3 access key")
	fs.StringVar(&cfg.Storage.S3.SecretKey, "s3-secret-key", getEnv("S3_SECRET_KEY", ""), "S3 secret key")
	fs.StringVar(&cfg.Storage.S3.Bucket, "s3-bucket", getEnv("S3_BUCKET", ""), "S3 bucket")
	fs.StringVar(&cfg.Storage.S3.Prefix, "s3-prefix", getEnv("S3_PREFIX", ""), "S3 object key prefix")
	fs.BoolVar(&cfg.Storage.S3.UseSSL, "s3-use-ssl", getEnvBool("S3_USE_SSL", false), "Use HTTPS for S3")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c, err := models.ParseContamination(contamination)
	if err != nil {
		return nil, fmt.Errorf("-contamination: %w", err)
	}
	cfg.Model.Contamination = c

	if err := storage.ValidateName(cfg.Artifact); err != nil {
		return nil, fmt.Errorf("-artifact: %w", err)
	}
	if cfg.Model.Trees <= 0 {
		return nil, fmt.Errorf("-trees must be positive, got %d", cfg.Model.Trees)
	}
	if cfg.Model.MaxSamples <= 0 {
		return nil, fmt.Errorf("-max-samples must be positive, got %d", cfg.Model.MaxSamples)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
