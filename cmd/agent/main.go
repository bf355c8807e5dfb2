package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/agentloop"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/agentstate"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/config"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
)

func main() {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Tails a log file and emits signed, hash-chained batches to a collector.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindAgentFlags(cmd, v)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.LoadAgent(v)
	if err != nil {
		return err
	}
	lg := logger.New(cfg.LogLevel)

	store, err := agentstate.Open(cfg.StateDir)
	if err != nil {
		lg.Fatal().Err(err).Msg("agentstate: open failed")
	}
	st, err := store.Load()
	if err != nil {
		lg.Fatal().Err(err).Msg("agentstate: load failed")
	}
	logger.WithAgent(lg, st.AgentID).Info().Msg("agent starting")

	tailer, err := agentloop.NewTailer(cfg.LogPath)
	if err != nil {
		lg.Fatal().Err(err).Msg("agentloop: tailer failed")
	}

	client := agentloop.NewClient(cfg.ServerURL, lg)
	loop := agentloop.New(store, client, tailer, agentloop.Config{
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.MaxRetries,
		RetryBase:  cfg.RetryBaseMs,
		PollEvery:  time.Second,
	}, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Reconcile(ctx, st)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		lg.Info().Msg("agent shutting down")
		cancel()
	}()

	loop.Run(ctx, st)
	return nil
}
