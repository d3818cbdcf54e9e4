package config

// Redis backs three optional features: distributed rate limiting, the
// catalog response cache and reminder de-duplication.  If the server cannot
// be reached at startup NewRedisClient returns nil and callers degrade
// gracefully by disabling those features.

import (
	"context"
	"crypto/tls"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client using environment variables.
// Supported variables are:
//
//	REDIS_HOST and REDIS_PORT, or REDIS_ADDR (host:port)
//	REDIS_PASSWORD (optional)
//	REDIS_DB (default 0)
//	REDIS_TLS ("true" or "1")
//
// The returned client is nil when REDIS_DISABLED is set or the ping fails.
func NewRedisClient() *redis.Client {
	if envBool("REDIS_DISABLED", false) {
		return nil
	}
	addr := os.Getenv("REDIS_ADDR")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	var tlsConf *tls.Config
	if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        envInt("REDIS_DB", 0),
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
