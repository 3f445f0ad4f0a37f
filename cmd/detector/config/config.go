// Package config provides configuration parsing and management for the detector.
//
// It handles command-line flags, environment variables and an optional YAML
// file. The Config struct contains all runtime configuration needed by the
// detector service.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. YAML config file (-config-file or CONFIG_FILE)
//  4. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	// cfg now contains validated configuration
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/HatiCode/latencyguard/cmd/detector/router"
	"github.com/HatiCode/latencyguard/pkg/storage"
	"github.com/HatiCode/latencyguard/pkg/tls"
	"github.com/HatiCode/latencyguard/pkg/training"
)

const (
	DefaultListen    = ":5001"
	DefaultCacheSize = 1024
)

type Config struct {
	Listen       string
	GRPCListen   string
	Artifact     string
	Storage      storage.Options
	CORSOrigins  []string
	MaxBodyBytes int64
	CacheSize    int
	LogFormat    string
	LogLevel     string
	LogFile      string
	ConfigFile   string
	TLS          tls.Config
}

// fileConfig mirrors the YAML config file layout.
type fileConfig struct {
	Listen       string   `yaml:"listen"`
	GRPCListen   string   `yaml:"grpcListen"`
	Artifact     string   `yaml:"artifact"`
	CORSOrigins  []string `yaml:"corsOrigins"`
	MaxBodyBytes int64    `yaml:"maxBodyBytes"`
	CacheSize    *int     `yaml:"cacheSize"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`

	Storage struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			TTL      string `yaml:"ttl"`
		} `yaml:"redis"`
		S3 struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"accessKey"`
			SecretKey string `yaml:"secretKey"`
			Bucket    string `yaml:"bucket"`
			Prefix    string `yaml:"prefix"`
			UseSSL    bool   `yaml:"useSSL"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	TLS struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
		CAFile   string `yaml:"caFile"`
	} `yaml:"tls"`
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

// Parse parses args with fs. It is split from ParseFlags so tests can use a
// private flag set.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	configFile := getEnv("CONFIG_FILE", lookupArg(args, "config-file"))

	fc := &fileConfig{}
	if configFile != "" {
		var err error
		if fc, err = loadFile(configFile); err != nil {
			return nil, err
		}
	}

	redisTTL, err := parseFileDuration("storage.redis.ttl", fc.Storage.Redis.TTL)
	if err != nil {
		return nil, err
	}

	cacheSize := DefaultCacheSize
	if fc.CacheSize != nil {
		cacheSize = *fc.CacheSize
	}

	cfg := &Config{}
	var corsOrigins string

	fs.StringVar(&cfg.ConfigFile, "config-file", configFile, "YAML config file")
	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", or(fc.Listen, DefaultListen)), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", fc.GRPCListen), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.Artifact, "artifact", getEnv("ARTIFACT", or(fc.Artifact, training.DefaultArtifact)), "Model artifact name")
	fs.StringVar(&corsOrigins, "cors-origins", getEnv("CORS_ORIGINS", or(strings.Join(fc.CORSOrigins, ","), "*")), "Comma-separated allowed CORS origins (* for any)")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", getEnvInt64("MAX_BODY_BYTES", orInt64(fc.MaxBodyBytes, router.DefaultMaxBodyBytes)), "Maximum request body size in bytes")
	fs.IntVar(&cfg.CacheSize, "cache-size", getEnvInt("CACHE_SIZE", cacheSize), "Per-sample score cache entries (0 disables)")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", or(fc.Log.Format, "text")), "Log format (text|json)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", or(fc.Log.Level, "info")), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFile, "log-file", getEnv("LOG_FILE", fc.Log.File), "Also write logs to this rotating file")

	fs.StringVar(&cfg.Storage.Backend, "storage", getEnv("STORAGE", or(fc.Storage.Backend, storage.BackendFile)), "Artifact storage backend (file|redis|s3)")
	fs.StringVar(&cfg.Storage.Dir, "artifact-dir", getEnv("ARTIFACT_DIR", or(fc.Storage.Dir, ".")), "Artifact directory for file storage")
	fs.StringVar(&cfg.Storage.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", or(fc.Storage.Redis.Addr, "localhost:6379")), "Redis server address")
	fs.StringVar(&cfg.Storage.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", fc.Storage.Redis.Password), "Redis password")
	fs.IntVar(&cfg.Storage.RedisDB, "redis-db", getEnvInt("REDIS_DB", fc.Storage.Redis.DB), "Redis database number")
	fs.DurationVar(&cfg.Storage.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", redisTTL), "Artifact TTL in Redis (0 keeps forever)")
	fs.StringVar(&cfg.Storage.S3.Endpoint, "s3-endpoint", getEnv("S3_ENDPOINT", fc.Storage.S3.Endpoint), "S3 endpoint (host:port)")
	fs.StringVar(&cfg.Storage.S3.AccessKey, "s3-access-key", getEnv("S3_ACCESS_KEY", fc.Storage.S3.AccessKey), "S3 access key")
	fs.StringVar(&cfg.Storage.S3.SecretKey, "s3-secret-key", getEnv("S3_SECRET_KEY", fc.Storage.S3.SecretKey), "S3 secret key")
	fs.StringVar(&cfg.Storage.S3.Bucket, "s3-bucket", getEnv("S3_BUCKET", fc.Storage.S3.Bucket), "S3 bucket")
	fs.StringVar(&cfg.Storage.S3.Prefix, "s3-prefix", getEnv("S3_PREFIX", fc.Storage.S3.Prefix), "S3 object key prefix")
	fs.BoolVar(&cfg.Storage.S3.UseSSL, "s3-use-ssl", getEnvBool("S3_USE_SSL", fc.Storage.S3.UseSSL), "Use HTTPS for S3")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", fc.TLS.Enabled), "Enable TLS for the HTTP server")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", fc.TLS.CertFile), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", fc.TLS.KeyFile), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", fc.TLS.CAFile), "TLS CA certificate file for client verification")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.CORSOrigins = splitList(corsOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("-listen is required")
	}
	if err := storage.ValidateName(c.Artifact); err != nil {
		return fmt.Errorf("-artifact: %w", err)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("-max-body-bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("-cache-size must be >= 0, got %d", c.CacheSize)
	}
	switch c.Storage.Backend {
	case storage.BackendFile, storage.BackendRedis, storage.BackendS3:
	default:
		return fmt.Errorf("-storage must be one of file, redis, s3, got %q", c.Storage.Backend)
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	fc := &fileConfig{}
	if err := yaml.UnmarshalStrict(data, fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// lookupArg finds the value of -name or --name in args without parsing the
// rest of the command line.
func lookupArg(args []string, name string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == arg || len(arg)-len(trimmed) > 2 {
			continue
		}
		if trimmed == name && i+1 < len(args) {
			return args[i+1]
		}
		if value, ok := strings.CutPrefix(trimmed, name+"="); ok {
			return value
		}
	}
	return ""
}

func parseFileDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config file %s: %w", field, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orInt64(value, fallback int64) int64 {
	if value != 0 {
		return value
	}
	return fallback
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
