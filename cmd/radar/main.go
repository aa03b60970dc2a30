// Command radar runs the technology radar engine: importing the source
// registry, running ingestion cycles and serving the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"techradar/engine/internal/collector"
	"techradar/engine/internal/config"
	"techradar/engine/internal/database"
	"techradar/engine/internal/digest"
	"techradar/engine/internal/ingest"
	importsources "techradar/engine/internal/import"
	"techradar/engine/internal/lifecycle"
	"techradar/engine/internal/models"
	"techradar/engine/internal/process"
	"techradar/engine/internal/scoring"
	"techradar/engine/internal/server"
	"techradar/engine/internal/server/api"
	"techradar/engine/internal/server/storage"
	"techradar/engine/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(os.Args[2:])
	case "run":
		err = runCycles(os.Args[2:])
	case "server":
		err = runServer(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: radar <command> [options]

Commands:
  import   Load the source registry from the YAML config into the database
  run      Execute ingestion cycles (one-shot or periodic)
  server   Serve the HTTP API

Run 'radar <command> -h' for command options.
`)
}

func setupLogger(levelStr string) error {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelStr, err)
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

func runImport(args []string) error {
	cfg := config.DefaultConfig()

	fs := flag.NewFlagSet("import", flag.ExitOnError)
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to the YAML config file")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database")
	fresh := fs.Bool("fresh", false, "Delete the existing database before importing")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level (trace, debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := setupLogger(*logLevel); err != nil {
		return err
	}

	if *fresh {
		log.Warn().Str("db", cfg.DBPath).Msg("Removing existing database")
		if err := database.DeleteDB(cfg.DBPath); err != nil {
			return fmt.Errorf("failed to delete database: %w", err)
		}
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	importer := importsources.NewImporter(store.New(db))
	return importer.ImportSources(context.Background(), cfg.ConfigPath)
}

func runCycles(args []string) error {
	cfg := config.DefaultConfig()

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to the YAML config file")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Interval between ingestion cycles")
	fs.IntVar(&cfg.RetentionDays, "retention", cfg.RetentionDays, "Days to keep discarded items before purging")
	once := fs.Bool("once", false, "Run a single cycle and exit")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level (trace, debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := setupLogger(*logLevel); err != nil {
		return err
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	processor, _, _ := buildEngine(db, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		return runOneCycle(ctx, processor, cfg.RunTimeout)
	}

	log.Info().Dur("interval", cfg.Interval).Msg("Starting periodic ingestion")

	// First cycle runs immediately; later ones on the ticker.
	if err := runOneCycle(ctx, processor, cfg.RunTimeout); err != nil {
		log.Error().Err(err).Msg("Ingestion cycle failed")
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic ingestion")
			return nil
		case <-ticker.C:
			if err := runOneCycle(ctx, processor, cfg.RunTimeout); err != nil {
				log.Error().Err(err).Msg("Ingestion cycle failed")
			}
		}
	}
}

func runOneCycle(ctx context.Context, processor *process.Processor, timeout time.Duration) error {
	cycleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := processor.RunCycle(cycleCtx)
	return err
}

func runServer(args []string) error {
	cfg := config.DefaultConfig()

	fs := flag.NewFlagSet("server", flag.ExitOnError)
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to the YAML config file")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database")
	fs.StringVar(&cfg.ServerHost, "host", cfg.ServerHost, "Host interface to bind to")
	fs.IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "Port to listen on")
	fs.IntVar(&cfg.RetentionDays, "retention", cfg.RetentionDays, "Days to keep discarded items before purging")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level (trace, debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := setupLogger(*logLevel); err != nil {
		return err
	}

	if cfg.APIKey == "" {
		log.Warn().Msg("RADAR_API_KEY not set, API authentication disabled")
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	processor, st, view := buildEngine(db, cfg)

	ctx := context.Background()
	if err := view.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("Initial digest refresh failed")
	}

	handler := api.NewHandler(
		storage.NewRepository(db),
		view,
		lifecycle.New(st),
		processor,
		st,
	)
	return server.RunServer(ctx, cfg, handler)
}

// buildEngine wires the ingestion pipeline. The scoring section of the config
// file is optional; a missing file falls back to the stock scoring weights.
func buildEngine(db *database.DB, cfg *config.Config) (*process.Processor, *store.Store, *digest.View) {
	scoringCfg := scoring.Default()
	if file, err := config.LoadFile(cfg.ConfigPath); err != nil {
		log.Warn().Err(err).Str("config", cfg.ConfigPath).Msg("Config file not loaded, using default scoring")
	} else {
		scoringCfg = file.ScoringConfig()
	}

	st := store.New(db)
	engine := ingest.New(st, scoringCfg)

	fetchers := map[models.SourceKind]collector.Fetcher{
		models.KindRSS:         collector.NewRSSFetcher(0),
		models.KindGitHub:      collector.NewJSONFetcher(0),
		models.KindHuggingFace: collector.NewJSONFetcher(0),
	}
	runner := collector.New(st, engine, fetchers, collector.DefaultConfig())

	view := digest.New(st)
	return process.New(st, runner, view, cfg.RetentionDays), st, view
}
