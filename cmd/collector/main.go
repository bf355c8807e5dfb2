package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/admission"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/config"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/metrics"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/server"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/snapshot"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/storage"
)

func main() {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Admits, stores, and serves signed log batches.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindCollectorFlags(cmd, v)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.LoadCollector(v)
	if err != nil {
		return err
	}
	lg := logger.New(cfg.LogLevel)

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		lg.Fatal().Err(err).Msg("storage: open failed")
	}
	defer store.Close()

	m := metrics.New()
	pipeline := admission.New(store.DB(), admission.Config{
		RequireAgentRegistration: cfg.RequireAgentRegistration,
		BearerToken:              cfg.SubmitBearerToken,
		RateLimitMax:             cfg.RateLimitMax,
		RateLimitWindow:          cfg.RateLimitWindow,
	})

	if n, err := pipeline.Registry().Count(context.Background()); err != nil {
		lg.Warn().Err(err).Msg("failed to seed agents-registered gauge")
	} else {
		m.SetAgentsRegistered(float64(n))
	}

	var snap *snapshot.Task
	if cfg.SQLiteBackupPath != "" && cfg.SQLiteBackupInterval > 0 {
		snap = snapshot.New(store.DB(), cfg.SQLiteBackupPath, lg)
		if err := snap.Start(snapshot.EveryDescriptor(cfg.SQLiteBackupInterval)); err != nil {
			lg.Error().Err(err).Msg("snapshot: failed to schedule")
		} else {
			defer snap.Stop()
		}
	}

	router := server.NewRouter(&server.Context{
		Pipeline:      pipeline,
		Store:         store,
		Metrics:       m,
		Log:           lg,
		MetricsEnable: cfg.MetricsEnable,
		MetricsPath:   cfg.MetricsPath,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		lg.Info().Str("addr", cfg.ServerAddr).Msg("collector listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	lg.Info().Msg("collector shutting down")
	return srv.Shutdown(ctx)
}
