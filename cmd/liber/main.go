// Command liber serves the book corpus: HTTP API, background embedding
// pipeline, hybrid search.
//
// Usage:
//
//	liber -config liber.yaml          # run with config file
//	liber -db liber.db                # run with defaults
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liber/bookembed"
	"github.com/hazyhaar/liber/bookpipe"
	"github.com/hazyhaar/liber/dbopen"
	"github.com/hazyhaar/liber/indexer"
	"github.com/hazyhaar/liber/ingest"
	"github.com/hazyhaar/liber/query"
	"github.com/hazyhaar/liber/reconstruct"
	"github.com/hazyhaar/liber/server"
	"github.com/hazyhaar/liber/store"
)

func main() {
	configPath := flag.String("config", "", "path to liber.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *listen); err != nil {
		logger.Error("liber: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, listen string) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema))
	if err != nil {
		return err
	}
	defer db.Close()

	s := store.NewStore(db)

	embCfg := cfg.Embedder
	embCfg.Logger = logger
	emb := bookembed.New(embCfg)

	qCfg := cfg.Query
	qCfg.Logger = logger
	engine := query.New(s, emb, qCfg)

	ingCfg := cfg.Ingest
	ingCfg.Logger = logger
	ingester := ingest.New(bookpipe.New(bookpipe.Config{}), s, ingCfg)

	ixCfg := cfg.Indexer
	ixCfg.Logger = logger
	ix := indexer.New(s, emb, ixCfg)
	go ix.Run(ctx)

	srv := server.New(cfg, s, engine, reconstruct.New(s), ingester, emb, logger)

	logger.Info("liber: running",
		"db", cfg.DBPath, "listen", cfg.Listen,
		"embedder", emb.Model())
	return srv.Run(ctx)
}

func resolveConfig(configPath, dbPath string) (*server.Config, error) {
	if configPath != "" {
		return server.LoadConfig(configPath)
	}

	cfg := server.DefaultConfig()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, cfg.Validate()
}
