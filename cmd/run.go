package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/quill/internal/agent"
	"github.com/xkilldash9x/quill/internal/browser"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/journal"
	"github.com/xkilldash9x/quill/internal/metrics"
	"github.com/xkilldash9x/quill/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	headless    bool
	remoteURL   string
	metricsAddr string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [start-url]",
		Short: "Open the editor in Chrome and serve publish tasks",
		Long: `Launches Chrome, or attaches to a running one with --remote-url, and injects
the publishing agent into every watched document. Tasks arrive from the
window that opened the editor tab; results are posted back to it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			applyRunOptions(cmd, cfg, opts, args)
			return runAgent(cmd.Context(), cfg, observability.GetLogger())
		},
	}
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Run Chrome without a window. (Overrides config/env)")
	cmd.Flags().StringVar(&opts.remoteURL, "remote-url", "", "DevTools websocket URL of a running Chrome to attach to. (Overrides config/env)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address. (Overrides config/env)")
	return cmd
}

// applyRunOptions layers explicitly set flags over the loaded configuration.
func applyRunOptions(cmd *cobra.Command, cfg config.Interface, opts runOptions, args []string) {
	if cmd.Flags().Changed("headless") {
		cfg.SetBrowserHeadless(opts.headless)
	}
	if cmd.Flags().Changed("remote-url") {
		cfg.SetBrowserRemoteURL(opts.remoteURL)
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.SetMetricsAddr(opts.metricsAddr)
	}
	if len(args) == 1 {
		cfg.SetBrowserStartURL(args[0])
	}
}

func runAgent(ctx context.Context, cfg config.Interface, logger *zap.Logger) error {
	var (
		m   *metrics.Metrics
		reg *prometheus.Registry
	)
	if cfg.Metrics().Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.MustNewMetrics(reg)
	}

	var rec journal.Recorder
	if jc := cfg.Journal(); jc.Enabled {
		store, err := journal.Open(jc.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer store.Close()
		rec = store
	}

	a := agent.New(cfg, m, rec, logger)
	manager := browser.NewManager(cfg, a, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	if reg != nil {
		srv := &http.Server{
			Addr:              cfg.Metrics().Addr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics.", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil {
		return err
	}
	logger.Info("Agent stopped.")
	return ctx.Err()
}
