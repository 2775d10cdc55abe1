package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/generative-ai-go/genai"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/api/option"

	"voltassist/internal/adapter/gemini"
	"voltassist/internal/adapter/s3"
	"voltassist/internal/config"
)

// Dependencies are the external connections the app is built from. Optional
// backends are nil when their configuration is absent.
type Dependencies struct {
	Docs        *s3.Store
	Gemini      *genai.Client
	DB          *sql.DB
	Weaviate    *weaviate.Client
	Redis       *redis.Client
	NSQProducer *nsq.Producer
}

// Readiness is anything that can report whether it accepts requests yet.
type Readiness interface {
	Ready(ctx context.Context) error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	deps := &Dependencies{}

	// Transcript database
	if cfg.TranscriptEnabled {
		db, err := openDB(cfg, retryDelay)
		if err != nil {
			return nil, err
		}
		deps.DB = db
	}

	// Weaviate
	if cfg.IndexBackend == config.IndexBackendWeaviate {
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		if err := WaitReady(ctx, weaviateReadiness{wClient}, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate not ready: %w", err)
		}
		deps.Weaviate = wClient
	}

	// Document store
	docs, err := s3.New(ctx, s3.Options{
		Region:          cfg.AWSRegion,
		Bucket:          cfg.S3Bucket,
		Endpoint:        cfg.S3Endpoint,
		UsePathStyle:    cfg.S3UsePathStyle,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretKey,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("document store error: %w", err)
	}
	deps.Docs = docs

	// Gemini
	var gOpts []option.ClientOption
	if cfg.GeminiEndpoint != "" {
		gOpts = append(gOpts, option.WithEndpoint(cfg.GeminiEndpoint))
	}
	gClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, gOpts...)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("gemini client error: %w", err)
	}
	deps.Gemini = gClient

	// Embedding cache is best effort; the app runs without it.
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis unavailable, embedding cache disabled", "addr", cfg.RedisAddr, "error", err)
			_ = rdb.Close()
		} else {
			deps.Redis = rdb
		}
	}

	// NSQ producer
	if cfg.NSQDHost != "" {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		if cfg.NSQDHTTP != "" {
			createTopics(cfg.NSQDHTTP)
		}
	}

	return deps, nil
}

func openDB(cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return db, nil
}

// Close releases every open connection.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			slog.Warn("failed to close redis", "error", err)
		}
	}
	if d.Gemini != nil {
		if err := d.Gemini.Close(); err != nil {
			slog.Warn("failed to close gemini client", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIndexRebuild)
	}()
}

// WaitReady polls r until it reports ready or attempts run out.
func WaitReady(ctx context.Context, r Readiness, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = r.Ready(ctx); err == nil {
			return nil
		}
		slog.WarnContext(ctx, "dependency not ready, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

type weaviateReadiness struct {
	client *weaviate.Client
}

func (w weaviateReadiness) Ready(ctx context.Context) error {
	ok, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("weaviate reports not ready")
	}
	return nil
}
