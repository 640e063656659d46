package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"speakquery/internal/config"
	"speakquery/internal/home"
	"speakquery/internal/jobstore"
	"speakquery/internal/logging"
	"speakquery/internal/lookup"
	"speakquery/internal/query"
	"speakquery/internal/resolver"
)

// env is everything a command needs, built from the persistent flags and
// the config file.
type env struct {
	home    home.Dir
	cfg     *config.Config
	logger  *slog.Logger
	engine  *query.Engine
	jobs    *jobstore.Store
	lookups *lookup.Registry
}

func setup(cmd *cobra.Command) (*env, error) {
	homeFlag, _ := cmd.Flags().GetString("home")
	configFlag, _ := cmd.Flags().GetString("config")
	levelFlag, _ := cmd.Flags().GetString("log-level")
	formatFlag, _ := cmd.Flags().GetString("log-format")

	level, err := logging.ParseLevel(levelFlag)
	if err != nil {
		return nil, err
	}
	handler, err := logging.NewHandler(cmd.ErrOrStderr(), formatFlag, level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(handler)

	hd := home.New(homeFlag)
	if homeFlag == "" {
		if hd, err = home.Default(); err != nil {
			return nil, err
		}
	}
	if err := hd.EnsureExists(); err != nil {
		return nil, err
	}

	path := configFlag
	if path == "" {
		path = hd.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(hd)
	levels, err := cfg.Levels()
	if err != nil {
		return nil, err
	}
	for component, lvl := range levels {
		handler.SetLevel(component, lvl)
	}

	jobs, err := jobstore.Open(cfg.JobRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	lookups := lookup.NewRegistry(lookup.RegistryConfig{
		Root: cfg.LookupRoot,
		RDNS: []lookup.RDNSOption{
			lookup.WithRateLimit(cfg.ReverseDNS.RatePerSecond, cfg.ReverseDNS.Burst),
			lookup.WithCacheSize(cfg.ReverseDNS.CacheSize),
		},
		Logger: logger,
	})
	res := resolver.New(resolver.Config{
		Root:            cfg.IndexRoot,
		Extensions:      cfg.IndexExtensions,
		Concurrency:     cfg.LoadConcurrency,
		MaxFileBytes:    cfg.MaxFileBytes(),
		AddSourceColumn: cfg.AddSourceColumn,
		Logger:          logger,
	})
	engine := query.New(query.Config{
		Resolver:  res,
		Lookups:   lookups,
		Jobs:      jobs,
		Macros:    cfg.Macros,
		MaxGroups: cfg.MaxGroups,
		Logger:    logger,
	})

	logger.Debug("environment ready", "home", hd.Root(), "config", path, "index", cfg.IndexRoot)
	return &env{home: hd, cfg: cfg, logger: logger, engine: engine, jobs: jobs, lookups: lookups}, nil
}
