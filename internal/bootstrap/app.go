package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/bizscraper/internal/adapter/chromedp_crawler"
	"github.com/user/bizscraper/internal/adapter/export"
	"github.com/user/bizscraper/internal/adapter/httpfetch"
	"github.com/user/bizscraper/internal/adapter/memory"
	"github.com/user/bizscraper/internal/adapter/postgres"
	"github.com/user/bizscraper/internal/adapter/profile"
	redis_adapter "github.com/user/bizscraper/internal/adapter/redis"
	"github.com/user/bizscraper/internal/adapter/search"
	"github.com/user/bizscraper/internal/adapter/sqlite"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/proxy"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/internal/retry"
	"github.com/user/bizscraper/internal/usecase"
	"github.com/user/bizscraper/pkg/config"
)

// App holds every long-lived component built from a Config.
type App struct {
	Config      *config.Config
	Rotator     *proxy.Rotator
	Policy      *retry.Policy
	Search      repository.SearchRepository
	Checkpoints repository.CheckpointRepository
	// Runs is set when the sqlite backend is used; it lists stored runs.
	Runs     *sqlite.CheckpointRepoImpl
	Exporter *export.FileExporter
	// HealthChecks ping the external stores in use, keyed by name.
	HealthChecks map[string]func(ctx context.Context) error

	names    usecase.NameExtractor
	contacts usecase.ContactExtractor
	ranker   usecase.Ranker
	sink     repository.Exporter
	logger   *zap.Logger
	closers  []func()
}

// New validates cfg and builds the application. Connections to external
// stores are opened and pinged here.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{
		Config:       cfg,
		HealthChecks: make(map[string]func(ctx context.Context) error),
		logger:       logger,
	}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	identities, userAgents, err := LoadIdentities(cfg)
	if err != nil {
		return err
	}
	a.Rotator = proxy.NewRotator(identities, userAgents, proxy.Options{
		Policy:           proxy.Policy(cfg.RotationPolicy),
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	}, a.logger)
	a.Policy = retry.NewPolicy(retry.Options{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BackoffBase,
		MaxDelay:       cfg.BackoffMax,
		JitterFrac:     cfg.BackoffJitter,
		AttemptTimeout: cfg.RequestTimeout,
		RotateIdentity: cfg.RotateOnRetry,
		AllowDirect:    cfg.AllowDirect,
	}, a.Rotator, a.logger)
	a.logger.Info("identity pool ready",
		zap.Int("proxies", len(identities)),
		zap.Int("user_agents", len(userAgents)),
		zap.String("policy", cfg.RotationPolicy),
		zap.Bool("allow_direct", cfg.AllowDirect),
	)

	static := httpfetch.New(httpfetch.Options{Timeout: cfg.RequestTimeout}, a.logger)
	a.closers = append(a.closers, static.Close)

	var rendered repository.Fetcher
	if cfg.RenderEnabled {
		browser := chromedp_crawler.NewChromedpCrawler(chromedp_crawler.Options{ExecPath: cfg.ChromePath}, a.logger)
		a.closers = append(a.closers, browser.Close)
		rendered = browser
	}

	profiles, err := profile.Load(cfg.ProfilesFile)
	if err != nil {
		return err
	}
	a.names = usecase.NewNameExtractor(static, rendered, a.Policy, profiles, a.logger)
	a.contacts = usecase.NewContactExtractor(static, rendered, a.Policy, usecase.ContactExtractorOptions{
		FollowContactPage: cfg.FollowContactPage,
		RenderFallback:    cfg.RenderFallback,
		Scrolls:           cfg.Scrolls,
	}, a.logger)

	if a.Search, err = a.buildSearch(ctx, static); err != nil {
		return err
	}
	if a.ranker, err = usecase.NewRanker(cfg.SearchRanker); err != nil {
		return err
	}

	if err := a.buildStores(ctx); err != nil {
		return err
	}

	a.Exporter = export.NewFileExporter(cfg.OutputDir, a.logger)
	return nil
}

func (a *App) buildSearch(ctx context.Context, static repository.Fetcher) (repository.SearchRepository, error) {
	cfg := a.Config
	switch cfg.SearchProvider {
	case "customsearch":
		return search.NewCustomSearch(search.CustomSearchConfig{
			APIKey:   cfg.GoogleAPIKey,
			EngineID: cfg.GoogleSearchEngineID,
			Timeout:  cfg.RequestTimeout,
		}, a.logger)
	case "gemini":
		return search.NewGemini(ctx, search.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, a.logger)
	case "html":
		return search.NewHTMLSearch(static, a.Policy, "", a.logger), nil
	}
	return nil, fmt.Errorf("%w: unknown search provider %q", entity.ErrConfiguration, cfg.SearchProvider)
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config

	var pool *pgxpool.Pool
	if cfg.CheckpointBackend == "postgres" || cfg.ExportDatabase {
		var err error
		if pool, err = postgres.Connect(ctx, cfg.PostgresURL); err != nil {
			return fmt.Errorf("unable to connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.HealthChecks["postgres"] = pool.Ping
		a.logger.Info("PostgreSQL connection pool established")
	}
	if cfg.ExportDatabase {
		a.sink = postgres.NewRecordRepo(pool)
	}

	switch cfg.CheckpointBackend {
	case "memory":
		a.Checkpoints = memory.NewCheckpointRepo()
	case "sqlite":
		repo, err := sqlite.NewCheckpointRepo(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		a.Checkpoints = repo
		a.Runs = repo
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("unable to connect to Redis: %w", err)
		}
		a.HealthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		a.Checkpoints = redis_adapter.NewCheckpointRepo(rdb, cfg.CheckpointTTL)
		a.logger.Info("Redis connection established")
	case "postgres":
		a.Checkpoints = postgres.NewCheckpointRepo(pool)
	default:
		return fmt.Errorf("%w: unknown checkpoint backend %q", entity.ErrConfiguration, cfg.CheckpointBackend)
	}
	a.logger.Info("recovery store ready", zap.String("backend", cfg.CheckpointBackend))
	return nil
}

// Pipeline builds a pipeline; Workers and ExportFormat default to the configuration.
func (a *App) Pipeline(opts usecase.PipelineOptions) *usecase.Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = a.Config.Workers
	}
	if opts.ExportFormat == "" {
		opts.ExportFormat = repository.ExportFormat(a.Config.Format())
	}

	var exporter repository.Exporter = a.Exporter
	if a.sink != nil {
		exporter = export.Multi{a.Exporter, a.sink}
	}
	return usecase.NewPipeline(usecase.PipelineDeps{
		Names:    a.names,
		Contacts: a.contacts,
		NewResolver: func() usecase.URLResolver {
			return usecase.NewURLResolver(a.Search, a.ranker, usecase.URLResolverOptions{
				RequestsPerSecond: a.Config.SearchRPS,
			}, a.logger)
		},
		Checkpoints: a.Checkpoints,
		Exporter:    exporter,
		Reports:     a.Exporter,
	}, opts, a.logger)
}

// RunManager builds a run manager over a default pipeline.
func (a *App) RunManager(ctx context.Context) usecase.RunManager {
	return usecase.NewRunManager(ctx, a.Pipeline(usecase.PipelineOptions{}), a.Checkpoints, a.logger)
}

// Close releases browsers, connections and files in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// LoadIdentities collects proxy endpoints and user agents from every
// configured source.
func LoadIdentities(cfg *config.Config) ([]entity.Identity, []string, error) {
	var raws []string
	if cfg.Proxy != "" {
		raws = append(raws, cfg.Proxy)
	}
	raws = append(raws, config.SplitList(cfg.ProxyList)...)
	if cfg.ProxyFile != "" {
		lines, err := proxy.ReadLines(cfg.ProxyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", entity.ErrConfiguration, err)
		}
		raws = append(raws, lines...)
	}

	identities, err := proxy.ParseEndpoints(raws)
	if err != nil {
		return nil, nil, err
	}

	userAgents := config.SplitList(cfg.UserAgents)
	if cfg.UserAgentFile != "" {
		lines, err := proxy.ReadLines(cfg.UserAgentFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", entity.ErrConfiguration, err)
		}
		userAgents = append(userAgents, lines...)
	}
	if len(identities) == 0 && cfg.HasProxies() {
		return nil, nil, fmt.Errorf("%w: proxy sources are set but contain no endpoint", entity.ErrConfiguration)
	}
	return identities, userAgents, nil
}
