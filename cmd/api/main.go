package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studx/internal/auth"
	"studx/internal/buspass"
	"studx/internal/cloudinary"
	"studx/internal/config"
	"studx/internal/httpmiddleware"
	"studx/internal/issuance"
	"studx/internal/logging"
	"studx/internal/objectstore"
	"studx/internal/queue"
	"studx/internal/store"
	"studx/internal/web"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// stores bundles the persistence backends selected by STORE_BACKEND.
type stores struct {
	records  buspass.Store
	audit    issuance.AuditStore
	accounts auth.AccountStore
	db       *store.DB
}

func openStores(ctx context.Context, cfg config.App, logger *slog.Logger) (stores, error) {
	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory stores; data is lost on restart")
		records := buspass.NewMemoryStore()
		return stores{records: records, audit: records, accounts: auth.NewMemoryStore()}, nil
	}

	db, err := openDB(ctx, cfg, logger, store.Migrate)
	if err != nil {
		return stores{}, err
	}
	records := buspass.NewRepository(db.Client)
	return stores{records: records, audit: records, accounts: auth.NewRepository(db.Client), db: db}, nil
}

// openDB connects to Postgres and applies migrations when it is reachable.
// An unreachable database is not fatal: the pool is returned so reads
// degrade per request, and migrations wait for the next start.
func openDB(ctx context.Context, cfg config.App, logger *slog.Logger, migrate func(string, *slog.Logger) error) (*store.DB, error) {
	db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		if db == nil {
			return nil, err
		}
		logger.Warn("db not reachable; skipping migrations", slog.String("error", err.Error()))
		return db, nil
	}
	if cfg.DBMigrate {
		if err := migrate(cfg.DatabaseURL, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func openObjectStore(cfg config.App, logger *slog.Logger) (objectstore.Store, error) {
	switch cfg.StorageBackend {
	case "cloudinary":
		if !cfg.CloudinaryConfigured() {
			return nil, errors.New("cloudinary storage selected but CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set")
		}
		logger.Info("cloudinary configured", slog.String("cloud", cfg.CloudinaryCloudName))
		return cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder), nil
	case "disk":
		return objectstore.NewDisk(cfg.UploadDir, "/uploads")
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.db.Close() }()

	objects, err := openObjectStore(cfg, logger)
	if err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(64)
		q = mem
		// Nothing else can read an in-process queue, so drain it here.
		go func() {
			_ = issuance.NewProcessor(st.audit, cfg.StoreTimeout, logger).Run(ctx, mem)
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	accounts := auth.NewAccounts(st.accounts, auth.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, logger)

	var uploads http.Handler
	if disk, ok := objects.(*objectstore.Disk); ok {
		uploads = disk.Handler()
	}

	handler := web.New(web.Deps{
		Accounts: accounts,
		Gate:     auth.NewSessionGate(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.CookieSecure, logger).WithRefresher(accounts),
		Submitter: buspass.NewSubmitter(st.records, objects, buspass.SubmitterConfig{
			Bucket:        cfg.PhotoBucket,
			UploadTimeout: cfg.UploadTimeout,
			StoreTimeout:  cfg.StoreTimeout,
			Notifier:      issuance.NewNotifier(q),
		}, logger),
		Resolver:       buspass.NewResolver(st.records, cfg.StoreTimeout, logger),
		Dashboard:      buspass.NewDashboard(st.records, cfg.StoreTimeout, logger),
		PublicOrigin:   cfg.PublicOrigin,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Uploads:        uploads,
		Logger:         logger,
	})

	r := gin.New()
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.PublicOrigin)))
	r.Use(httpmiddleware.SecurityHeaders(cfg.Production()))
	r.Use(httpmiddleware.RateLimit(limiter, logger))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		dbHealthy := st.db == nil || st.db.Healthy(hctx)
		redisHealthy := !usesRedis(cfg) || redisClient.Healthy(hctx)
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	if err := handler.Register(r); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.UploadTimeout + cfg.StoreTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", srv.Addr), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", slog.String("error", err.Error()))
	}

	logger.Info("server exited")
	return nil
}

// corsConfig admits credentialed cross-origin calls from publicOrigin only.
// With no public origin configured every cross-origin request is refused;
// same-origin requests never reach the origin check.
func corsConfig(publicOrigin string) cors.Config {
	return cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return publicOrigin != "" && origin == publicOrigin
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
}

func usesRedis(cfg config.App) bool {
	return cfg.QueueBackend != "memory" || cfg.RateLimitBackend == "redis"
}
