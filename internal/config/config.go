package config // loads application configuration from environment variables

import (
    "encoding/base64"
    "log"
    "os"
    "strconv"
    "time"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. Secrets (index key, master key, signing
// key) are required: the service refuses to start without them rather
// than falling back to a weak default.
type Config struct {
    Env  string // application environment (e.g. "dev", "prod")
    Port string // HTTP port to listen on

    DBUser string // database username
    DBPass string // database password (optional)
    DBHost string // database host address
    DBPort string // database port number
    DBName string // database name

    AccessTTL  time.Duration // access token lifetime
    RefreshTTL time.Duration // refresh token lifetime
    BcryptCost int           // bcrypt work factor

    SigningKeyPath string // path to the PEM-encoded RSA private key
    IndexSecret    []byte // HMAC key for the deterministic index
    MasterKey      []byte // 256-bit master key for the local keyring

    MaxFailedLogins      int           // failed logins before lockout
    LockoutDuration      time.Duration // how long a lockout lasts
    UsedRefreshRetention time.Duration // audit window for redeemed refresh records
}

// Load reads configuration from the environment. Required variables are
// enforced by must() and missing values halt startup with a fatal log.
func Load() Config {
    return Config{
        Env:            must("APP_ENV"),
        Port:           must("APP_PORT"),
        DBUser:         must("DB_USER"),
        DBPass:         os.Getenv("DB_PASS"),
        DBHost:         must("DB_HOST"),
        DBPort:         must("DB_PORT"),
        DBName:         must("DB_NAME"),
        AccessTTL:      time.Duration(atoi(getenv("ACCESS_TOKEN_TTL_SEC", "900"))) * time.Second,
        RefreshTTL:     time.Duration(atoi(getenv("REFRESH_TOKEN_TTL_SEC", "604800"))) * time.Second,
        BcryptCost:     mustInt("BCRYPT_COST"),
        SigningKeyPath: must("JWT_SIGNING_KEY_PATH"),
        IndexSecret:    []byte(must("INDEX_HMAC_SECRET")),
        MasterKey:      mustKey("MASTER_KEY_BASE64"),

        MaxFailedLogins:      atoi(getenv("LOGIN_MAX_FAILURES", "5")),
        LockoutDuration:      time.Duration(atoi(getenv("LOGIN_LOCKOUT_MIN", "15"))) * time.Minute,
        UsedRefreshRetention: time.Duration(atoi(getenv("REFRESH_USED_RETENTION_SEC", "3600"))) * time.Second,
    }
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the value into an integer.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}

// mustKey decodes a required base64 key and insists on 256 bits.
func mustKey(key string) []byte {
    raw, err := base64.StdEncoding.DecodeString(must(key))
    if err != nil {
        log.Fatalf("invalid base64 for %s: %v", key, err)
    }
    if len(raw) != 32 {
        log.Fatalf("%s must decode to 32 bytes, got %d", key, len(raw))
    }
    return raw
}

func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func atoi(s string) int {
    i, _ := strconv.Atoi(s)
    return i
}
