package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/user/bizscraper/internal/adapter/input"
	"github.com/user/bizscraper/internal/bootstrap"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/usecase"
	"github.com/user/bizscraper/pkg/config"
	"github.com/user/bizscraper/pkg/logger"
)

type options struct {
	configPath string
	targets    string
	names      string
	urls       []string
	businesses []string
	location   string
	runID      string
	stopAfter  string
	listRuns   bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flags := pflag.NewFlagSet("scraper", pflag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "path to a config file (yaml or .env)")
	flags.StringVar(&opts.targets, "targets", "", "CSV/XLSX file with a url column of directory pages")
	flags.StringVar(&opts.names, "names", "", "CSV/XLSX file with a business_name column; skips name extraction")
	flags.StringSliceVar(&opts.urls, "url", nil, "directory page to extract business names from (repeatable)")
	flags.StringSliceVar(&opts.businesses, "business", nil, "business name to enrich (repeatable)")
	flags.StringVar(&opts.location, "location", "", "default location used in searches")
	flags.StringVar(&opts.runID, "run-id", "", "resume the run with this id from its checkpoints")
	flags.StringVar(&opts.stopAfter, "stop-after", "", "stop after this stage is checkpointed (names, urls, contacts)")
	flags.BoolVar(&opts.listRuns, "list-runs", false, "list runs stored in the sqlite recovery store and exit")

	// Configuration overrides; names map onto config keys.
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "json", "log format: json or console")
	flags.String("proxy", "", "single proxy endpoint")
	flags.String("proxy-list", "", "comma separated proxy endpoints")
	flags.String("proxy-file", "", "file with one proxy endpoint per line")
	flags.String("user-agent-file", "", "file with one user agent per line")
	flags.String("rotation-policy", "round_robin", "round_robin or weighted_random")
	flags.Int("workers", 5, "businesses processed concurrently")
	flags.Int("max-attempts", 3, "fetch attempts per URL")
	flags.String("search-provider", "customsearch", "customsearch, gemini or html")
	flags.String("search-ranker", "directory_filter", "directory_filter or top")
	flags.String("checkpoint-backend", "sqlite", "memory, sqlite, redis or postgres")
	flags.String("sqlite-path", "checkpoints.db", "sqlite recovery store file")
	flags.String("output-dir", "output", "directory for exported files")
	flags.String("export-format", "all", "csv, xlsx, json or all")
	flags.Bool("export-database", false, "also upsert records into postgres")
	flags.Bool("render-enabled", false, "use headless Chrome for rendered profiles")
	flags.Bool("render-fallback", false, "re-fetch rendered when a static page yields nothing")
	flags.String("profiles-file", "", "YAML file with per-host extraction profiles")
	return flags
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts options
	flags := newFlagSet(&opts)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(opts.configPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed, err := buildSeed(opts)
	if err != nil {
		log.Error("invalid input", zap.Error(err))
		return 2
	}
	stopAfter := entity.Stage(opts.stopAfter)
	if stopAfter != "" && stopAfter.Index() < 0 {
		log.Error("invalid --stop-after", zap.String("stage", opts.stopAfter))
		return 2
	}
	if !opts.listRuns && opts.runID == "" && seed.Empty() {
		log.Error("nothing to do: pass --targets, --names, --url, --business or --run-id")
		return 2
	}

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", zap.Error(err))
		if errors.Is(err, entity.ErrConfiguration) {
			return 2
		}
		return 1
	}
	defer app.Close()

	if opts.listRuns {
		return listRuns(ctx, app)
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	pipeline := app.Pipeline(usecase.PipelineOptions{
		StopAfter: stopAfter,
		OnStage: func(runID string, stage entity.Stage) {
			log.Info("stage checkpointed", zap.String("run_id", runID), zap.String("stage", string(stage)))
		},
	})

	result, err := pipeline.Run(ctx, entity.NewPipelineRun(runID, seed))
	if result != nil {
		report(log, runID, result)
	}
	for _, st := range app.Rotator.Stats() {
		log.Debug("identity health",
			zap.String("identity", st.Key),
			zap.Bool("healthy", st.Healthy),
			zap.Int("successes", st.Successes),
			zap.Int("failures", st.Failures),
		)
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, entity.ErrConfiguration):
		log.Error("run rejected", zap.String("run_id", runID), zap.Error(err))
		return 2
	default:
		log.Error("run failed", zap.String("run_id", runID), zap.Error(err))
		return 1
	}
}

func buildSeed(opts options) (entity.RunSeed, error) {
	seed := entity.RunSeed{Location: opts.location}
	if opts.targets != "" {
		targets, err := input.ReadTargets(opts.targets)
		if err != nil {
			return seed, fmt.Errorf("targets file: %w", err)
		}
		seed.Targets = append(seed.Targets, targets...)
	}
	if opts.names != "" {
		names, err := input.ReadNames(opts.names)
		if err != nil {
			return seed, fmt.Errorf("names file: %w", err)
		}
		seed.Names = append(seed.Names, names...)
	}
	for _, u := range opts.urls {
		seed.Targets = append(seed.Targets, entity.SeedTarget{URL: u})
	}
	for _, name := range opts.businesses {
		if name = entity.NormalizeName(name); name != "" {
			seed.Names = append(seed.Names, entity.SeedName{Name: name})
		}
	}
	return seed, nil
}

func report(log *zap.Logger, runID string, result *usecase.RunResult) {
	if result.Stopped {
		log.Info("run stopped after checkpoint; resume with --run-id", zap.String("run_id", runID))
	}
	if r := result.Report; r != nil {
		log.Info("run finished",
			zap.String("run_id", runID),
			zap.Int("businesses", r.TotalBusinesses),
			zap.Int("with_website", r.WithWebsite),
			zap.Int("with_contacts", r.WithContacts),
			zap.Int("unresolved", r.Unresolved),
			zap.String("success_rate", r.SuccessRate),
		)
	}
	for _, f := range result.Files {
		log.Info("exported", zap.String("path", f))
	}
}

func listRuns(ctx context.Context, app *bootstrap.App) int {
	if app.Runs == nil {
		fmt.Fprintln(os.Stderr, "--list-runs needs the sqlite checkpoint backend")
		return 2
	}
	ids, err := app.Runs.Runs(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return 0
}
