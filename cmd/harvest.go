package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pattadon/sitemark/internal/api"
	"github.com/pattadon/sitemark/internal/config"
	"github.com/pattadon/sitemark/internal/fetcher"
	collyfetcher "github.com/pattadon/sitemark/internal/fetcher/colly"
	"github.com/pattadon/sitemark/internal/fetcher/headless"
	"github.com/pattadon/sitemark/internal/logging"
	"github.com/pattadon/sitemark/internal/native"
	"github.com/pattadon/sitemark/internal/persist"
	"github.com/pattadon/sitemark/internal/pipeline"
	"github.com/pattadon/sitemark/internal/progress"
	"github.com/pattadon/sitemark/internal/progress/sinks"
	"github.com/pattadon/sitemark/internal/render"
)

// newHarvestCmd creates the 'harvest' subcommand, which runs the whole
// pipeline for one domain.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest <domain>",
		Short: "Harvest one domain into Markdown files",
		Long: `Resolves the domain's sitemaps via robots.txt, fetches every listed
page, converts it to Markdown, and writes the files into the output
directory. Domains without any sitemap fall back to a bounded link-following
crawl.`,
		Args: cobra.ExactArgs(1),
		RunE: runHarvestCommand,
	}
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfgFile != "" && cfg.FileUsed == "" {
		logger.Warn("Config file not found; using defaults and environment",
			zap.String("path", cfgFile))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator, closeFn, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	hub, err := buildProgressHub(logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("Progress hub close failed", zap.Error(err))
		}
	}()
	orchestrator.SetProgress(hub)

	if cfg.Server.Enabled {
		startOpsServer(ctx, cfg.Server.Port, logger)
	}

	stats, err := orchestrator.Run(ctx, args[0])
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("harvest %s: %w", args[0], err)
	}

	logger.Info("Harvest complete",
		zap.String("domain", args[0]),
		zap.Int("total", stats.TotalURLs),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("files_saved", stats.FilesSaved),
	)
	return nil
}

func buildPipeline(cfg config.Config, logger *zap.Logger) (*pipeline.Orchestrator, func(), error) {
	closeFn := func() {}

	store, err := persist.NewStore(cfg.OutputDir, logger)
	if err != nil {
		return nil, closeFn, fmt.Errorf("init output store: %w", err)
	}

	renderer := render.New(logger)

	raw := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.HTTPTimeout(),
		RespectRobots: cfg.HTTP.RespectRobots,
	}, logger)

	var rendered fetcher.Transport
	if cfg.Headless.Enabled {
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			return nil, closeFn, fmt.Errorf("init headless fetcher: %w", err)
		}
		rendered = chrome
		closeFn = chrome.Close
	}

	transportSwitch := fetcher.NewSwitch(raw, rendered, cfg.RequestDelay(), logger)

	classifier := pipeline.NewDomainClassifier(
		cfg.WhitelistRules(logger),
		cfg.DefaultStrategy(),
		logger,
	)
	resolver := pipeline.NewSitemapResolver(
		transportSwitch,
		cfg.Sitemap.MaxURLs,
		cfg.Sitemap.MaxDepth,
		logger,
	)
	fallback := native.New(native.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		MaxDepth:      cfg.Native.MaxDepth,
		MaxPages:      cfg.Native.MaxPages,
		Concurrency:   cfg.Native.Concurrency,
		Delay:         cfg.RequestDelay(),
	}, renderer, store, logger)

	orchestrator := pipeline.NewOrchestrator(
		classifier,
		resolver,
		transportSwitch,
		renderer,
		store,
		fallback,
		pipeline.NewFetchRetryPolicy(),
		pipeline.NewWriteRetryPolicy(),
		logger,
	)
	return orchestrator, closeFn, nil
}

func buildProgressHub(logger *zap.Logger) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
	)
	return hub, nil
}

// startOpsServer serves health and metrics in the background for the life of
// the run.
func startOpsServer(ctx context.Context, port int, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Ops server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ops server shutdown failed", zap.Error(err))
		}
	}()
}
