package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/logger"
	"github.com/eternalApril/moonkv/internal/server"
	"github.com/eternalApril/moonkv/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "moonkv-server",
	Short: "Start the moonkv server",
	Long: `Start the moonkv key-value server. Settings are read from config.yaml, .env files,
environment variables (MOONKV_<SECTION>_<KEY>, e.g. MOONKV_SERVER_PORT=7000) and flags,
later sources overriding earlier ones.`,
	SilenceUsage: true,
	PreRunE:      bindFlags,
	RunE:         run,
}

// flag name to config key
var flagKeys = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"max-clients":  "server.max_clients",
	"shards":       "storage.shards",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics":      "metrics.enabled",
	"metrics-addr": "metrics.addr",
}

func init() {
	flags := rootCmd.Flags()
	flags.String("config", ".", "directory searched for config.yaml")
	flags.String("host", "127.0.0.1", "listen host")
	flags.String("port", "31337", "listen port")
	flags.Int("max-clients", server.DefaultMaxClients, "connections served at once, further clients wait at the listener")
	flags.Uint("shards", 32, "storage shards, a power of two up to 64 (1 uses a single lock)")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-format", "json", "json or console")
	flags.Bool("metrics", false, "serve Prometheus metrics over HTTP")
	flags.String("metrics-addr", "127.0.0.1:9121", "metrics listen address")
}

// bindFlags lets explicitly set flags override file and environment values
func bindFlags(cmd *cobra.Command, _ []string) error {
	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	dir, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("moonkv starting",
		zap.String("address", cfg.Server.Address()),
		zap.Uint("shards", cfg.Storage.Shards),
		zap.Int("max_clients", cfg.Server.MaxClients),
	)

	db, err := storage.New(cfg.Storage.Shards)
	if err != nil {
		log.Error("cant initialize storage", zap.Error(err))
		return err
	}

	m := server.NewMetrics()
	srv := server.NewServer(
		server.NewEngine(db, m, log),
		server.Options{MaxClients: cfg.Server.MaxClients, Limits: cfg.Protocol.Limits()},
		m,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = serveMetrics(cfg.Metrics.Addr, m, log)
	}

	served := make(chan error, 1)
	go func() {
		served <- srv.ListenAndServe(cfg.Server.Address())
	}()

	select {
	case err = <-served:
		if err != nil {
			log.Error("listener error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}

	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
	} else {
		log.Info("All connections closed gracefully")
	}

	log.Info("moonkv stopped")
	return nil
}

// serveMetrics exposes server and process metrics in Prometheus text format
func serveMetrics(addr string, m *server.Metrics, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		m.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics listening on", zap.String("address", addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener error", zap.Error(err))
		}
	}()

	return hs
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
