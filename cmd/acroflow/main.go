package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/acroflow/acroflow/internal/completed"
	"github.com/acroflow/acroflow/internal/config"
	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/fill"
	"github.com/acroflow/acroflow/internal/jobs"
	"github.com/acroflow/acroflow/internal/logger"
	"github.com/acroflow/acroflow/internal/mapping"
	"github.com/acroflow/acroflow/internal/mcp"
	"github.com/acroflow/acroflow/internal/render"
	"github.com/acroflow/acroflow/internal/server"
	"github.com/acroflow/acroflow/internal/store"
	"github.com/acroflow/acroflow/internal/vision"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

func printVersion() {
	fmt.Printf("acroflow %s\n", version)
	fmt.Printf("  build time: %s\n", buildTime)
	fmt.Printf("  git commit: %s\n", gitCommit)
	fmt.Printf("  go version: %s\n", runtime.Version())
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	// A .env next to the binary is a convenience for local runs; its
	// absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if version != "dev" {
		cfg.Version = version
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.ScratchDir, 0o750); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	blobs, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}

	raster := render.NewPopplerRasterizer(cfg.Rasterizer, log)
	locator := fields.NewLocator(log)
	annotator := render.NewAnnotator(raster, cfg.RenderDPI, cfg.ScratchDir, log)
	extractor := mapping.NewDocumentExtractor(locator, annotator)

	var enricher mapping.Enricher
	var planner jobs.Planner
	if cfg.GeminiAPIKey != "" {
		labeler, err := vision.NewGeminiLabeler(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			return fmt.Errorf("create labeler: %w", err)
		}
		enricher = labeler

		p, err := vision.NewGeminiPlanner(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			return fmt.Errorf("create planner: %w", err)
		}
		planner = p
	} else {
		log.Warn().Msg("no Gemini API key configured; mappings will need manual review and jobs cannot plan fills")
	}

	cache := mapping.NewCache(blobs, extractor, enricher, log)
	flattener := fill.NewRasterFlattener(raster, cfg.RenderDPI, cfg.ScratchDir, log)
	filler := fill.NewFiller(flattener, log)
	jobStore := jobs.NewStore(blobs, log)
	archive := completed.NewArchive(blobs, log)
	queue := jobs.NewQueue(cfg.QueueSize, log)
	runner := jobs.NewRunner(jobStore, cache, planner, filler, archive, cfg.StageTimeout, log)

	queue.Start(ctx, cfg.Workers, runner.Handle)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("queue did not drain")
		}
	}()

	if cfg.IsStdioMode() {
		mcpSrv, err := mcp.NewServer(cfg.ServerName, cfg.Version, jobStore, queue, cache, log)
		if err != nil {
			return err
		}
		return mcpSrv.Run(ctx)
	}

	library := server.NewLibrary(blobs, log)
	httpSrv := server.New(jobStore, queue, cache, archive, library, cfg.MaxFileSize, cfg.Version, log)
	return httpSrv.Run(ctx, cfg.Address())
}
