// Package app builds the lead pipeline from configuration. The API server and leadctl share it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/api"
	"github.com/leadflow/backend/internal/api/handlers"
	rediscache "github.com/leadflow/backend/internal/cache/redis"
	"github.com/leadflow/backend/internal/dialer"
	"github.com/leadflow/backend/internal/discovery"
	"github.com/leadflow/backend/internal/drip"
	"github.com/leadflow/backend/internal/email"
	"github.com/leadflow/backend/internal/events"
	"github.com/leadflow/backend/internal/graph/neo4j"
	"github.com/leadflow/backend/internal/llm"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/newsroom"
	"github.com/leadflow/backend/internal/outcome"
	"github.com/leadflow/backend/internal/places"
	"github.com/leadflow/backend/internal/scrape"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/internal/voice"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
)

type App struct {
	Config *config.Config

	Store  *sqlite.Client
	Redis  *rediscache.Client
	Graph  *neo4j.Client
	Locker rediscache.Locker
	Hub    *events.Hub

	Discovery *discovery.Engine
	Newsroom  *newsroom.Scanner
	Drip      *drip.Engine
	Dialer    *dialer.Dialer
	Recorder  *outcome.Recorder

	closers []func()
}

// New opens the store and optional Redis and Neo4j connections and wires every component.
// Redis and Neo4j are only dialled when enabled; a failure to reach an enabled one is an error.
func New(cfg *config.Config) (*App, error) {
	metrics.Init()

	a := &App{Config: cfg, Hub: events.NewHub()}

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	var zipCache newsroom.ZipCache
	if cfg.Redis.Enabled {
		rc, err := rediscache.NewClient(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rc
		a.Locker = rc
		zipCache = rc
		a.closers = append(a.closers, func() { rc.Close() })
	} else {
		logger.Info("Redis disabled, using in-process locks and cache")
		a.Locker = rediscache.NewMemoryLocker()
		zipCache = rediscache.NewMemoryZipCache()
	}

	var graph newsroom.SignalGraph
	if cfg.Neo4j.Enabled {
		gc, err := neo4j.NewClient(cfg.Neo4j)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Graph = gc
		graph = gc
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			gc.Close(ctx)
		})
	}

	placesClient := places.NewClient(cfg.Places)
	scrapeClient := scrape.NewClient(cfg.Scrape)
	fetcher := scrape.NewFetcher(cfg.Scrape.UserAgent, 10*time.Second)

	// websites are small enough to fetch directly when no scrape API key is set
	var siteScraper scrape.Chain
	if scrapeClient.Configured() {
		siteScraper = append(siteScraper, scrapeClient)
	}
	siteScraper = append(siteScraper, fetcher)

	a.Discovery = discovery.NewEngine(store, placesClient, siteScraper, cfg.Discovery)

	resolver := newsroom.NewResolver(placesClient, zipCache)
	a.Newsroom = newsroom.NewScanner(scrapeClient, resolver, store, graph, cfg.Newsroom)

	catalog, err := drip.LoadCatalog()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load drip templates: %w", err)
	}
	a.Drip = drip.NewEngine(store, email.NewClient(cfg.Email), catalog, cfg.Drip)

	voiceClient := voice.NewClient(cfg.Voice)
	a.Dialer = dialer.NewDialer(store, voiceClient, cfg.Dialer)

	var summarizer outcome.Summarizer
	if cfg.LLM.APIKey != "" {
		summarizer = llm.NewClient(cfg.LLM)
	}
	a.Recorder = outcome.NewRecorder(store, voiceClient, summarizer, a.Hub)

	logger.Info("Lead pipeline initialized",
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("neo4j", cfg.Neo4j.Enabled),
		zap.Bool("llm_summaries", summarizer != nil),
	)

	return a, nil
}

func (a *App) LockTTL() time.Duration {
	if a.Config.Redis.LockTTL <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(a.Config.Redis.LockTTL) * time.Second
}

// Handlers builds the HTTP handlers over the wired components.
func (a *App) Handlers() api.Handlers {
	var signals handlers.SignalReader
	if a.Graph != nil {
		signals = a.Graph
	}

	deps := map[string]handlers.Pinger{"sqlite": a.Store}
	if a.Redis != nil {
		deps["redis"] = a.Redis
	}
	if a.Graph != nil {
		deps["neo4j"] = a.Graph
	}

	return api.Handlers{
		Discovery: handlers.NewDiscoveryHandler(a.Discovery, a.Locker, a.LockTTL()),
		Campaign:  handlers.NewCampaignHandler(a.Newsroom, signals, a.Drip, a.Dialer, a.Locker, a.LockTTL()),
		Voice:     handlers.NewVoiceHandler(a.Dialer, a.Recorder),
		Events:    handlers.NewWebSocketHandler(a.Hub),
		Health:    handlers.NewHealthHandler(deps),
	}
}

// RunLocked runs fn under the named run lock, the same lock the HTTP triggers take.
func (a *App) RunLocked(ctx context.Context, name string, fn func() error) error {
	release, err := a.Locker.Acquire(ctx, name, a.LockTTL())
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
