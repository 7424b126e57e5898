package config

// Redis backs the session whitelist/revocation store. The client
// parameters come from environment variables; if the initial ping fails
// the constructor returns nil and the server degrades to the in-memory
// store (acceptable for development, logged loudly at startup).

import (
    "context"
    "crypto/tls"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client using environment variables.
// Supported variables are:
//
//	REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//	REDIS_ADDR – host:port shorthand (takes precedence when set together)
//	REDIS_PASSWORD – optional password
//	REDIS_DB – database number (default 0)
//	REDIS_TLS – enable TLS when "true" or "1"
//	REDIS_TLS_SKIP_VERIFY – disable certificate verification ("true"/"1");
//	  dev-only escape hatch for self-signed brokers, never for production
//
// The returned client is nil if a connection cannot be established.
func NewRedisClient() *redis.Client {
    host := os.Getenv("REDIS_HOST")
    port := os.Getenv("REDIS_PORT")
    addr := os.Getenv("REDIS_ADDR")
    if host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    pwd := os.Getenv("REDIS_PASSWORD")
    dbNum := 0
    if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
        if n, err := strconv.Atoi(dbStr); err == nil {
            dbNum = n
        }
    }
    var tlsConf *tls.Config
    if boolEnv("REDIS_TLS") {
        // Certificates are verified unless explicitly opted out; the
        // session store carries revocation state, so a spoofed server
        // is an account-takeover vector.
        tlsConf = &tls.Config{InsecureSkipVerify: boolEnv("REDIS_TLS_SKIP_VERIFY")}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      addr,
        Password:  pwd,
        DB:        dbNum,
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        return nil
    }
    return client
}

func boolEnv(key string) bool {
    v := os.Getenv(key)
    return strings.EqualFold(v, "true") || v == "1"
}
