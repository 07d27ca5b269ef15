package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/eduparlema/llmproxy-chatbot/internal/agent"
	"github.com/eduparlema/llmproxy-chatbot/internal/config"
	"github.com/eduparlema/llmproxy-chatbot/internal/fetch"
	"github.com/eduparlema/llmproxy-chatbot/internal/knowledge"
	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
	"github.com/eduparlema/llmproxy-chatbot/internal/metrics"
	"github.com/eduparlema/llmproxy-chatbot/internal/retention"
	"github.com/eduparlema/llmproxy-chatbot/internal/search"
	"github.com/eduparlema/llmproxy-chatbot/internal/session"
)

// app is a fully wired agent and the resources it holds open.
type app struct {
	loop    *agent.Loop
	metrics *metrics.Metrics
	closers []io.Closer
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// loadConfig locates, parses and validates the configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// buildApp constructs every component named in cfg. On error, anything
// already opened is closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	// --- Generation ---
	var (
		client llm.Client
		proxy  *llm.ProxyClient
	)
	switch cfg.Generation.Provider {
	case "ollama":
		oc := llm.NewOllamaClient(cfg.Generation.BaseURL, seconds(cfg.Generation.TimeoutSec))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := oc.Ping(pingCtx); err != nil {
			logger.Warn("ollama not reachable yet", "base_url", cfg.Generation.BaseURL, "error", err)
		}
		cancel()
		client = oc
	default:
		proxy = llm.NewProxyClient(cfg.Generation.BaseURL, cfg.Generation.APIKey, seconds(cfg.Generation.TimeoutSec), logger)
		client = proxy
	}
	logger.Info("generation client initialized",
		"provider", cfg.Generation.Provider,
		"model", cfg.Generation.Model,
		"history_depth", cfg.Generation.HistoryDepth,
	)

	// --- Knowledge store ---
	store, closer, err := openKnowledge(cfg, proxy, logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	// --- Sessions ---
	var (
		sessions session.Store
		locks    session.Locker = session.NewLocks()
	)
	switch cfg.Sessions.Backend {
	case "redis":
		rs, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:     cfg.Sessions.Redis.Addr,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
			Prefix:   cfg.Sessions.Redis.Prefix,
			TTL:      seconds(cfg.Sessions.Redis.TTLSec),
		})
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		a.closers = append(a.closers, rs)
		sessions = rs
		// The lease outlives the longest turn so a live holder never loses it.
		locks = session.NewRedisLocks(rs.Client(), cfg.Sessions.Redis.LockPrefix,
			seconds(cfg.Agent.TurnTimeoutSec)+30*time.Second)
	default:
		sessions = session.NewMemoryStore()
	}
	logger.Info("session store initialized", "backend", cfg.Sessions.Backend)

	deps := agent.Deps{
		Client:    client,
		Knowledge: store,
		Sessions:  sessions,
		Locks:     locks,
		Metrics:   a.metrics,
		Logger:    logger,
	}

	// --- Tools ---
	mgr := search.NewManager(cfg.Search.Provider)
	if g := cfg.Search.Google; g.APIKey != "" && g.EngineID != "" {
		mgr.Register(search.NewGoogle(g.APIKey, g.EngineID))
	}
	if cfg.Search.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if mgr.Configured() {
		var enhancer *search.Enhancer
		if cfg.Search.EnhanceQuery {
			enhancer = search.NewEnhancer(client, cfg.Generation.Model, cfg.Generation.SessionID+"-enhance", logger,
				search.WithRecorder(a.metrics))
		}
		deps.Search = search.NewTool(mgr, enhancer, search.Options{
			Count:    cfg.Search.Count,
			Language: cfg.Search.Language,
			Country:  cfg.Search.Country,
			Site:     cfg.Search.Site,
		}, logger)
		logger.Info("web search enabled",
			"provider", cfg.Search.Provider,
			"fallbacks", len(mgr.Providers())-1,
			"enhance_query", cfg.Search.EnhanceQuery)
	} else {
		logger.Warn("web search disabled (provider not configured)", "provider", cfg.Search.Provider)
	}

	extractor, err := fetch.NewExtractor(cfg.Fetch.Extractor)
	if err != nil {
		return nil, err
	}
	deps.Fetch = fetch.New(
		fetch.WithExtractor(extractor),
		fetch.WithTimeout(seconds(cfg.Fetch.TimeoutSec)),
		fetch.WithMaxChars(cfg.Fetch.MaxChars),
		fetch.WithLogger(logger),
	)

	// --- Retention gate ---
	if cfg.Retention.Enabled {
		m := a.metrics
		deps.Gate = retention.NewGate(client, cfg.Retention.Model,
			retention.WithMaxChars(cfg.Retention.MaxChars),
			retention.WithLogger(logger),
			retention.WithRecorder(m),
			retention.WithDecisionHook(func(d retention.Decision, err error) {
				m.Retention(d.Store, err)
			}),
		)
	}

	a.loop = agent.New(agent.Config{
		Model:            cfg.Generation.Model,
		Temperature:      cfg.Generation.Temperature,
		HistoryDepth:     cfg.Generation.HistoryDepth,
		SessionID:        cfg.Generation.SessionID,
		MaxToolCalls:     cfg.Agent.MaxToolCalls,
		TurnTimeout:      seconds(cfg.Agent.TurnTimeoutSec),
		ClarificationTTL: seconds(cfg.Agent.ClarificationTTLSec),
	}, deps)

	return a, nil
}

// openKnowledge opens the configured knowledge backend. The returned
// closer is nil for backends that hold nothing open. proxy may be nil
// unless the backend is "proxy".
func openKnowledge(cfg *config.Config, proxy *llm.ProxyClient, logger *slog.Logger) (knowledge.Store, io.Closer, error) {
	var (
		store  knowledge.Store
		closer io.Closer
	)
	switch cfg.Knowledge.Backend {
	case "none":
		store = knowledge.None{}
	case "proxy":
		if proxy == nil {
			return nil, nil, errors.New("knowledge backend proxy requires an llmproxy client")
		}
		store = knowledge.NewProxyStore(proxy, cfg.Knowledge.SessionID,
			cfg.Knowledge.SimilarityThreshold, cfg.Knowledge.TopK, cfg.Knowledge.Strategy)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Knowledge.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create knowledge directory: %w", err)
		}
		local, err := knowledge.NewSQLiteStore(cfg.Knowledge.Path, knowledge.SQLiteOptions{
			Threshold: cfg.Knowledge.SimilarityThreshold,
			TopK:      cfg.Knowledge.TopK,
			Strategy:  cfg.Knowledge.Strategy,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open knowledge store: %w", err)
		}
		store, closer = local, local
	}
	logger.Info("knowledge store initialized", "backend", cfg.Knowledge.Backend)
	return store, closer, nil
}
