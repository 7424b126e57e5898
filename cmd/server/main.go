package main // entry point: wires config, storage, crypto and the HTTP surface

import (
    "log"

    "github.com/joho/godotenv"
    "github.com/labstack/echo/v4"

    "github.com/mkarimova/pet-care-platform/internal/audit"
    "github.com/mkarimova/pet-care-platform/internal/auth"
    "github.com/mkarimova/pet-care-platform/internal/config"
    "github.com/mkarimova/pet-care-platform/internal/crypto"
    "github.com/mkarimova/pet-care-platform/internal/database"
    "github.com/mkarimova/pet-care-platform/internal/handler"
    "github.com/mkarimova/pet-care-platform/internal/kms"
    "github.com/mkarimova/pet-care-platform/internal/repository"
    "github.com/mkarimova/pet-care-platform/internal/router"
    "github.com/mkarimova/pet-care-platform/internal/store"
    "github.com/mkarimova/pet-care-platform/internal/token"
)

func main() {
    // Load .env in development; missing file is fine, real env wins.
    _ = godotenv.Load()
    cfg := config.Load()

    db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    if err != nil {
        log.Fatalf("open database: %v", err)
    }
    accounts := repository.NewAccountRepo(db)

    // Session store: Redis when reachable, otherwise an in-process store.
    // The fallback keeps single-instance dev setups working; it is not
    // suitable for more than one replica.
    var sessions store.SessionStore
    if rdb := config.NewRedisClient(); rdb != nil {
        sessions = store.NewRedis(rdb, cfg.AccessTTL, cfg.RefreshTTL, cfg.UsedRefreshRetention)
    } else {
        log.Printf("redis unavailable, using in-memory session store")
        sessions = store.NewMemory(cfg.AccessTTL, cfg.UsedRefreshRetention)
    }

    signingKey, err := token.LoadPrivateKey(cfg.SigningKeyPath)
    if err != nil {
        log.Fatalf("load signing key: %v", err)
    }
    tokens := token.NewService(signingKey, sessions, cfg.AccessTTL, cfg.RefreshTTL)

    keyring, err := kms.NewLocal(cfg.MasterKey)
    if err != nil {
        log.Fatalf("init keyring: %v", err)
    }
    engine := crypto.NewEngine(keyring)
    indexer := crypto.NewIndexer(cfg.IndexSecret)

    auditor := audit.NewPublisher()
    // Drain audit events into the hash-chained log. Runs for the life of
    // the process, reconnecting to the broker as needed.
    go func() {
        if err := audit.StartConsumer(); err != nil {
            log.Printf("audit consumer stopped: %v", err)
        }
    }()

    authSvc, err := auth.New(auth.Config{
        Accounts:        accounts,
        Sessions:        sessions,
        Tokens:          tokens,
        Engine:          engine,
        Indexer:         indexer,
        Audit:           auditor,
        BcryptCost:      cfg.BcryptCost,
        MaxFailedLogins: cfg.MaxFailedLogins,
        LockoutDuration: cfg.LockoutDuration,
    })
    if err != nil {
        log.Fatalf("init auth service: %v", err)
    }

    e := echo.New()
    router.RegisterRoutes(e)
    router.RegisterAuth(e, handler.NewAuthHandler(authSvc), tokens)

    addr := ":" + cfg.Port
    log.Printf("listening on %s (env=%s)", addr, cfg.Env)
    if err := e.Start(addr); err != nil {
        log.Fatal(err)
    }
}
