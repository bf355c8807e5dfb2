package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/auditor"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/config"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
)

func main() {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "auditor",
		Short: "Independently re-verifies every batch a collector claims to have stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindAuditorFlags(cmd, v)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.LoadAuditor(v)
	if err != nil {
		return err
	}
	lg := logger.New(cfg.LogLevel)

	client := auditor.NewClient(cfg.ServerURL, lg)
	report, err := client.Run(context.Background())
	if err != nil {
		lg.Fatal().Err(err).Msg("auditor: run failed")
		return err
	}

	auditor.WriteText(os.Stdout, report)
	if !report.OK() {
		os.Exit(1)
	}
	return nil
}
