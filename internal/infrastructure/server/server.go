package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/booksage/bookbuy-agent/internal/config"
	"github.com/booksage/bookbuy-agent/internal/database/bunstore"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/internal/embedding"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/llm"
	qdrantpkg "github.com/booksage/bookbuy-agent/internal/infrastructure/qdrant"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/resilience"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/retailer"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/runstore"
	httpserver "github.com/booksage/bookbuy-agent/internal/interface/http"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/internal/tools"
	"github.com/booksage/bookbuy-agent/internal/usecase/agent"
	"github.com/booksage/bookbuy-agent/internal/usecase/pricing"
	"github.com/booksage/bookbuy-agent/internal/usecase/purchase"
	"github.com/booksage/bookbuy-agent/internal/usecase/recommend"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

// App is the fully wired agent shared by the serve, run and seed commands.
type App struct {
	Config       *config.Config
	Metrics      *metrics.Metrics
	Embedder     repository.EmbeddingClient
	DocEmbedder  repository.EmbeddingClient
	Books        *qdrantpkg.Client
	Reviews      *bunstore.BunStore
	Runs         repository.RunRepository
	Breakers     *resilience.Group
	Prices       *pricing.Aggregator
	Orchestrator *agent.Orchestrator
	Tools        *tools.Set

	closers []func() error
}

// Build initializes every dependency. On error, whatever was opened is closed again.
func Build(ctx context.Context, cfg *config.Config) (app *App, err error) {
	app = &App{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	// ==========================================
	// LLM clients and routing
	// ==========================================

	localLLM := llm.NewLocalOllamaClient(cfg.OllamaHost, cfg.OllamaLLMModel)
	localEmbed := llm.NewLocalOllamaClient(cfg.OllamaHost, cfg.OllamaEmbedModel)

	var cloud repository.LLMClient
	var gemini *llm.GeminiClient
	if !cfg.UseLocalOnlyLLM || cfg.EmbedProvider == "gemini" {
		gemini, err = llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbedModel)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, gemini.Close)
	}
	if cfg.UseLocalOnlyLLM {
		logx.Info().Msg("[System] BB_USE_LOCAL_ONLY_LLM is true, routing all generation to Ollama")
	} else {
		cloud = gemini
	}
	router := llm.NewRouter(localLLM, cloud)

	if cfg.PullModelsOnStartup {
		logx.Info().Str("llm", cfg.OllamaLLMModel).Str("embed", cfg.OllamaEmbedModel).Msg("[System] Ensuring local models are available")
		if err := localLLM.PullModel(ctx, cfg.OllamaLLMModel); err != nil {
			logx.Warn().Err(err).Str("model", cfg.OllamaLLMModel).Msg("[System] Failed to pull LLM model")
		}
		if err := localEmbed.PullModel(ctx, cfg.OllamaEmbedModel); err != nil {
			logx.Warn().Err(err).Str("model", cfg.OllamaEmbedModel).Msg("[System] Failed to pull embed model")
		}
	}

	var embedder repository.EmbeddingClient = localEmbed
	if cfg.EmbedProvider == "gemini" {
		embedder = gemini
	}
	app.DocEmbedder = documentEmbedder(cfg.EmbedProvider, localEmbed, gemini)
	app.Embedder, err = embedding.NewCache(embedder, cfg.EmbedCacheSize)
	if err != nil {
		return nil, err
	}
	logx.Info().Str("embedder", app.Embedder.Name()).Msg("[System] LLM router initialized")

	// ==========================================
	// Stores
	// ==========================================

	app.Books, err = qdrantpkg.NewClient(ctx, cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, cfg.QdrantVectorSize)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Books.Close)

	app.Reviews, err = bunstore.OpenSQLite(ctx, cfg.ReviewsDSN)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Reviews.Close)

	if cfg.RedisURL == "" {
		logx.Info().Msg("[System] BB_REDIS_URL not set, run traces are not persisted")
		app.Runs = runstore.Noop{}
	} else {
		rdb, err := runstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rdb.Close)
		app.Runs = runstore.NewRedisStore(rdb, cfg.RunTTL)
	}

	// ==========================================
	// Usecases
	// ==========================================

	app.Breakers = retailer.NewBreakerGroup(cfg.BreakerThreshold, cfg.BreakerCooldown)
	shops := retailer.NewClient(retailer.Options{
		BaseURL:       cfg.RetailerAPIURL,
		SearchTimeout: cfg.SearchTimeout,
		BuyTimeout:    cfg.BuyTimeout,
		SearchRetries: cfg.SearchRetries,
		Breakers:      app.Breakers,
		Metrics:       app.Metrics,
		LogBodies:     cfg.LogHTTPBodies,
	})

	engine := recommend.NewEngine(app.Embedder, app.Books, app.Reviews, router, recommend.Options{
		TopK:        cfg.TopKBooks,
		TopKReviews: cfg.TopKReviews,
		LLMTimeout:  cfg.LLMTimeout,
	}, app.Metrics)
	// The per-shop budget covers the client's own retries.
	app.Prices = pricing.NewAggregator(shops, cfg.Shops, cfg.SearchTimeout*time.Duration(cfg.SearchRetries+1))
	buyer := purchase.NewExecutor(shops, app.Metrics)

	app.Orchestrator = agent.NewOrchestrator(engine, app.Prices, buyer, agent.Options{
		MaxAttempts: cfg.MaxAttempts,
		Policy:      agent.PolicyFor(cfg.MaxPrice),
		Runs:        app.Runs,
		Metrics:     app.Metrics,
	})

	app.Tools, err = tools.New(engine, app.Prices, buyer, app.Metrics)
	if err != nil {
		return nil, err
	}

	logx.Info().Strs("shops", app.Prices.Shops()).Int("max_attempts", app.Orchestrator.MaxAttempts()).Msg("[System] Agent wired")
	return app, nil
}

// documentEmbedder picks the uncached embedder used to index the catalog.
func documentEmbedder(provider string, local repository.EmbeddingClient, gemini *llm.GeminiClient) repository.EmbeddingClient {
	if provider == "gemini" && gemini != nil {
		return gemini.Documents()
	}
	return local
}

// Close releases everything Build opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("[System] Failed to close dependency")
		}
	}
	a.closers = nil
}

// Handler returns the HTTP routes for the app.
func (a *App) Handler() http.Handler {
	return httpserver.NewServer(httpserver.Deps{
		Agent:   a.Orchestrator,
		Runs:    a.Runs,
		Tools:   a.Tools,
		Health: httpserver.HealthInfo{
			Shops:    a.Prices.Shops(),
			Breakers: a.Breakers,
		},
		Metrics: a.Metrics,
		Team: httpserver.TeamInfo{
			TeamName: a.Config.TeamName,
			Batch:    a.Config.TeamBatch,
			Members:  a.Config.TeamMembers,
		},
		Templates: recommend.Templates(),
	}).RegisterRoutes()
}

type Server struct {
	cfg        *config.Config
	httpServer *http.Server
}

func New(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
	}
}

// Run serves the API until SIGINT or SIGTERM, then drains connections.
func (s *Server) Run() error {
	ctx := context.Background()

	app, err := Build(ctx, s.cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	serveErr := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", s.cfg.HTTPAddr).Msg("[System] Starting REST API server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
		logx.Info().Msg("[System] Shutdown signal received. Draining connections...")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("[System] HTTP shutdown error")
	}

	logx.Info().Msg("[System] Server stopped gracefully")
	return nil
}
