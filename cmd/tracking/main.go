package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/open-tracker/internal/config"
	"github.com/ignite/open-tracker/internal/eventlog"
	"github.com/ignite/open-tracker/internal/pkg/logger"
	"github.com/ignite/open-tracker/internal/pkg/retry"
	"github.com/ignite/open-tracker/internal/tracking"
)

// extractHost pulls host:port out of a DSN so it can be logged without credentials.
func extractHost(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	sentLog, err := eventlog.Open[tracking.SentRecord](cfg.Tracking.SentLogPath())
	if err != nil {
		log.Fatalf("Failed to open sent log: %v", err)
	}
	openLog, err := eventlog.Open[tracking.OpenRecord](cfg.Tracking.OpenLogPath())
	if err != nil {
		log.Fatalf("Failed to open open log: %v", err)
	}

	ctx := context.Background()
	var (
		publishers  []tracking.Publisher
		redisClient *redis.Client
		archiveDB   *sql.DB
	)

	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis not reachable, stream publishing disabled", "addr", cfg.Redis.Addr, "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			publishers = append(publishers, tracking.WithRetry(
				tracking.NewRedisPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen), retry.DefaultPolicy))
			logger.Info("Redis stream publisher enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
		}
		cancel()
	}

	if cfg.SQS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SQS.Region))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		publishers = append(publishers, tracking.WithRetry(
			tracking.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.SQS.QueueURL), retry.DefaultPolicy))
		logger.Info("SQS publisher enabled", "queue_url", cfg.SQS.QueueURL)
	}

	if cfg.Archive.Enabled {
		archiveDB, err = sql.Open("postgres", cfg.Archive.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open archive database: %v", err)
		}
		archiveDB.SetMaxOpenConns(5)
		archiveDB.SetMaxIdleConns(2)
		archiveDB.SetConnMaxLifetime(5 * time.Minute)

		archive := tracking.NewArchivePublisher(archiveDB, cfg.Archive.Table)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = archiveDB.PingContext(pingCtx)
		if err == nil {
			err = archive.EnsureSchema(pingCtx)
		}
		cancel()
		if err != nil {
			logger.Warn("Archive database unavailable, archiving disabled", "host", extractHost(cfg.Archive.DatabaseURL), "error", err)
			archiveDB.Close()
			archiveDB = nil
		} else {
			publishers = append(publishers, tracking.WithRetry(archive, retry.DefaultPolicy))
			logger.Info("Postgres archive enabled", "host", extractHost(cfg.Archive.DatabaseURL), "table", cfg.Archive.Table)
		}
	}

	store := tracking.NewStore(sentLog, openLog, tracking.StoreOptions{
		WriteTimeout:      cfg.Tracking.WriteTimeout(),
		ReportRecentLimit: cfg.Tracking.ReportRecentLimit,
		Publishers:        publishers,
	})
	if _, err := store.Load(); err != nil {
		log.Fatalf("Failed to load tracking data: %v", err)
	}

	if cfg.Server.IsProduction() && cfg.Tracking.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, bulk clear is disabled in production")
	}

	handler := tracking.NewHandler(store, tracking.HandlerOptions{
		Environment:    cfg.Server.Environment,
		Production:     cfg.Server.IsProduction(),
		AdminToken:     cfg.Tracking.AdminToken,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		CORSMaxAge:     cfg.CORS.MaxAge,
		RecentWindow:   cfg.Tracking.RecentWindow(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}

	go func() {
		logger.Info("tracking service listening", "addr", srv.Addr, "environment", cfg.Server.Environment,
			"sent_log", sentLog.Path(), "open_log", openLog.Path())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := store.Shutdown(shutdownCtx); err != nil {
		logger.Error("publisher drain", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if archiveDB != nil {
		archiveDB.Close()
	}
	sentLog.Close()
	openLog.Close()
	logger.Info("tracking service stopped")
}
