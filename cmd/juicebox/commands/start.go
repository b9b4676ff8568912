package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/config"
	"github.com/marmos91/juicebox/pkg/httpapi"
	"github.com/marmos91/juicebox/pkg/juicebox"
	"github.com/marmos91/juicebox/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the juicebox server",
	Long: `Start the juicebox HTTP server with the specified configuration,
running until SIGINT/SIGTERM triggers a graceful shutdown.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("juicebox: configuration loaded", logger.ConfigSource(getConfigSource(GetConfigFile())))

	opts := []juicebox.Option{
		juicebox.WithTrustedProxyPolicy(httpapi.NewTrustedProxyPolicy(cfg.HTTP.TrustedProxyCIDRs)),
	}

	var reg *prometheus.Registry
	if cfg.Telemetry.MetricsEnabled {
		reg = prometheus.NewRegistry()
		opts = append(opts, juicebox.WithMetrics(metrics.New(reg)))
	}

	svc, err := juicebox.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewRouter(svc, nil))
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("juicebox: metrics enabled", logger.Path("/metrics"))
	}

	server := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: mux,
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("juicebox: listening", logger.ListenAddr(cfg.HTTP.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("juicebox: shutdown signal received, initiating graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("juicebox: server shutdown error", logger.Err(err))
		}
		<-serverDone
		logger.Info("juicebox: server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("juicebox: server stopped")
	}

	return nil
}

func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
