package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	indexfeature "voltassist/features/index"
	"voltassist/features/session"
	"voltassist/features/stats"
	"voltassist/internal/adapter/gemini"
	"voltassist/internal/adapter/rediscache"
	"voltassist/internal/adapter/resilience"
	wstore "voltassist/internal/adapter/weaviate"
	"voltassist/internal/chat"
	"voltassist/internal/config"
	"voltassist/internal/forms"
	"voltassist/internal/index"
	"voltassist/internal/ingest"
	"voltassist/internal/metrics"
	"voltassist/internal/middleware"
	"voltassist/internal/rag"
	"voltassist/internal/text"
	"voltassist/internal/transcript"
	"voltassist/internal/worker"
)

// DocumentStore is the bucket holding knowledge documents and forms.
type DocumentStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	IssueDownloadLink(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Options replaces the networked capabilities, mainly for tests.
type Options struct {
	Embedder  rag.Embedder
	Completer rag.Completer
	Docs      DocumentStore
}

type App struct {
	Handler   http.Handler
	Sessions  *chat.Manager
	Index     *index.Ref
	Rebuilder *worker.RebuildConsumer
	Registry  *prometheus.Registry

	cfg *config.Config
}

// New wires the application and loads (or builds) the knowledge index
// before returning, so the first session never waits on a build.
func New(ctx context.Context, cfg *config.Config, deps *Dependencies, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	docs := opts.Docs
	if docs == nil {
		if deps.Docs == nil {
			return nil, errors.New("no document store configured")
		}
		docs = deps.Docs
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = resilience.NewEmbedder(gemini.NewEmbedder(deps.Gemini, cfg.EmbeddingModel), modelGuard(cfg, "embedding"))
	}
	if deps.Redis != nil {
		ttl := time.Duration(cfg.EmbeddingCacheTTLM) * time.Minute
		embedder = rediscache.NewCachingEmbedder(embedder, deps.Redis, ttl)
		slog.InfoContext(ctx, "embedding cache enabled", "ttl", ttl)
	}

	completer := opts.Completer
	if completer == nil {
		completer = resilience.NewCompleter(gemini.NewCompleter(deps.Gemini, cfg.CompletionModel), modelGuard(cfg, "completion"))
	}

	// Knowledge index
	splitter, err := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	open, err := storeOpener(cfg, deps)
	if err != nil {
		return nil, err
	}
	indexes := index.NewManager(open, ingest.NewLoader(docs, cfg.DocPrefix), splitter, embedder, index.ManagerOptions{
		Concurrency:      cfg.EmbedConcurrency,
		RebuildOnCorrupt: cfg.IndexRebuildOnCorrupt,
		Observer:         m,
	})
	idx, err := indexes.Get(ctx, cfg.IndexLocation())
	if err != nil {
		return nil, fmt.Errorf("prepare index: %w", err)
	}
	ref := index.NewRef(idx)

	// Conversation
	queryLogger, err := rag.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = rag.NewQueryLogger(os.Stdout)
	}

	var recorder chat.TurnRecorder
	var transcripts stats.TranscriptRepo
	var lister session.TranscriptLister
	if deps.DB != nil {
		repo := transcript.NewPostgresRepo(deps.DB)
		recorder, transcripts, lister = repo, repo, repo
	}

	svc := chat.NewService(chat.Deps{
		Embedder:  embedder,
		Completer: completer,
		Index:     ref,
		Catalog:   forms.LoadCatalog(ctx, docs, cfg.FormPrefix),
		Links:     docs,
		QueryLog:  queryLogger,
		Recorder:  recorder,
		Observer:  m,
	}, chat.Options{
		Policy: rag.Policy{
			Utility: cfg.UtilityName,
			Refusal: cfg.RefusalMessage,
			NoInfo:  cfg.NoInfoMessage,
		},
		TopK:              cfg.RetrievalTopK,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		CondenseMaxTokens: cfg.CondenseMaxTokens,
		LinkTTL:           cfg.LinkTTL(),
		TurnTimeout:       cfg.TurnTimeout(),
		Greeting:          cfg.GreetingMessage,
	})
	sessions := chat.NewManager(svc)

	// Rebuilds
	rebuilder := worker.NewRebuildConsumer(indexes, ref, &catalogReloader{svc: svc, lister: docs, prefix: cfg.FormPrefix}, cfg.IndexLocation())
	var queue indexfeature.RebuildQueue
	if deps.NSQProducer != nil {
		queue = worker.NewTrigger(deps.NSQProducer)
	}

	sessionHandler := session.NewHandler(sessions, lister)
	indexHandler := indexfeature.NewHandler(queue, rebuilder, ref, cfg.IndexLocation())
	statsHandler := stats.NewHandler(sessions, ref, svc, transcripts)

	route := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /sessions", route(sessionHandler.Create))
	mux.Handle("GET /sessions/{id}", route(sessionHandler.Get))
	mux.Handle("DELETE /sessions/{id}", route(sessionHandler.Delete))
	mux.Handle("POST /sessions/{id}/messages", route(sessionHandler.Message))
	mux.Handle("DELETE /sessions/{id}/messages", route(sessionHandler.Reset))
	mux.Handle("GET /sessions/{id}/transcript", route(sessionHandler.Transcript))
	mux.Handle("GET /forms", route(sessionHandler.Forms))

	mux.Handle("GET /index", route(indexHandler.Get))
	mux.Handle("POST /index/rebuild", route(indexHandler.Rebuild))

	mux.Handle("GET /stats", route(statsHandler.GetStats))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:   corsMiddleware(cfg.CORSOrigin, mux),
		Sessions:  sessions,
		Index:     ref,
		Rebuilder: rebuilder,
		Registry:  reg,
		cfg:       cfg,
	}, nil
}

// Embedding and completion each get their own breaker.
func modelGuard(cfg *config.Config, name string) *resilience.Guard {
	return resilience.NewGuard(resilience.Options{
		Name:              name,
		RequestsPerSecond: cfg.ModelRPS,
		Burst:             cfg.ModelBurst,
		FailureThreshold:  uint32(max(cfg.BreakerFailures, 0)),
		OpenTimeout:       time.Duration(cfg.BreakerOpenSeconds) * time.Second,
	})
}

func storeOpener(cfg *config.Config, deps *Dependencies) (func(string) index.Store, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendWeaviate:
		if deps.Weaviate == nil {
			return nil, errors.New("weaviate index backend selected but no client configured")
		}
		return func(class string) index.Store { return wstore.NewIndexStore(deps.Weaviate, class) }, nil
	default:
		return func(dir string) index.Store { return index.NewDirStore(dir) }, nil
	}
}

// OPTIONS preflight is answered here and never reaches the mux.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves HTTP, consumes rebuild requests and expires idle sessions until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if idle := a.cfg.SessionIdle(); idle > 0 {
		go a.Sessions.RunJanitor(ctx, time.Minute, idle)
	}

	if consumer, err := a.startConsumer(); err != nil {
		slog.Error("failed to start rebuild consumer", "error", err)
	} else if consumer != nil {
		defer consumer.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	if a.cfg.NSQLookupd == "" && a.cfg.NSQDHost == "" {
		return nil, nil
	}
	consumer, err := nsq.NewConsumer(config.TopicIndexRebuild, config.ChannelIndexRebuild, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	consumer.AddHandler(a.Rebuilder)

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, err
	}
	slog.Info("NSQ rebuild consumer connected", "topic", config.TopicIndexRebuild)
	return consumer, nil
}

// catalogReloader re-lists the form prefix after a rebuild.
type catalogReloader struct {
	svc    *chat.Service
	lister forms.Lister
	prefix string
}

func (c *catalogReloader) ReloadCatalog(ctx context.Context) error {
	catalog := forms.LoadCatalog(ctx, c.lister, c.prefix)
	c.svc.SetCatalog(catalog)
	slog.InfoContext(ctx, "form catalog reloaded", "forms", catalog.Len())
	return nil
}
