package storage

import (
	"context"
	"fmt"
	"time"
)

// Supported backend kinds.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendS3    = "s3"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend string

	// file
	Dir string

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// s3
	S3 S3Config
}

// New creates a store for opts.Backend. This is the single place where
// backends are wired.
//
// Supported kinds:
//   - "file" (default when empty)
//   - "redis"
//   - "s3"
//
// Stores that hold connections implement io.Closer.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisTTL)
	case BackendS3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be file, redis, or s3)", opts.Backend)
	}
}

// Describe returns a human-readable location for an artifact, used in logs
// and the trainer's completion message.
func Describe(s Store, name string) string {
	switch st := s.(type) {
	case *FileStore:
		return st.Path(name)
	case *RedisStore:
		return "redis key " + redisKey(name)
	case *S3Store:
		return fmt.Sprintf("s3://%s/%s", st.bucket, st.key(name))
	default:
		return name
	}
}
