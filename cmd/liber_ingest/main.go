// Command liber_ingest runs batch ingestion without the server: walk a
// library directory, ingest every source found, print the report as JSON.
//
// Usage:
//
//	liber_ingest -db liber.db -dir /data/library
//	liber_ingest -config liber.yaml -dir /data/library -embed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
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
	"github.com/hazyhaar/liber/server"
	"github.com/hazyhaar/liber/store"
)

func main() {
	configPath := flag.String("config", "", "path to liber.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	dir := flag.String("dir", "", "library directory to ingest (defaults to config library_dir)")
	embed := flag.Bool("embed", false, "drain the embedding queue after ingesting")
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

	if err := run(ctx, logger, *configPath, *dbPath, *dir, *embed); err != nil {
		logger.Error("liber_ingest: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, dir string, embed bool) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.LibraryDir
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "usage: liber_ingest -db <path> -dir <library> [-embed]")
		os.Exit(1)
	}

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema))
	if err != nil {
		return err
	}
	defer db.Close()

	s := store.NewStore(db)

	ingCfg := cfg.Ingest
	ingCfg.Logger = logger
	ingester := ingest.New(bookpipe.New(bookpipe.Config{}), s, ingCfg)

	report, err := ingester.IngestDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", dir, err)
	}

	if embed {
		embCfg := cfg.Embedder
		embCfg.Logger = logger
		ixCfg := cfg.Indexer
		ixCfg.Logger = logger
		ix := indexer.New(s, bookembed.New(embCfg), ixCfg)
		embedded := ix.Drain(ctx)
		logger.Info("embedding queue drained", "chunks", embedded)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
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
