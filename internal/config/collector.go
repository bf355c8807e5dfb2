// Package config loads the three binaries' configuration with the same
// precedence rule throughout: flag > environment variable > default, bound
// through spf13/viper with spf13/cobra supplying the flags.
package config

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Collector holds everything cmd/collector needs to run.
type Collector struct {
	ServerAddr               string
	DatabaseURL              string
	RequireAgentRegistration bool
	RateLimitMax             int
	RateLimitWindow          time.Duration
	SubmitBearerToken        string
	SQLiteBackupPath         string
	SQLiteBackupInterval     time.Duration
	LogLevel                 string
	MetricsEnable            bool
	MetricsPath              string
}

// BindCollectorFlags registers the collector's flags on cmd and binds them
// into v with matching environment variable names, so viper resolves
// flag > env > default without the caller touching precedence logic.
func BindCollectorFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String("server-addr", "127.0.0.1:3000", "address the collector listens on")
	flags.String("database-url", "collector.db", "path to the SQLite database file")
	flags.Bool("require-agent-registration", false, "reject submissions from agents that have not been registered")
	flags.Int("rate-limit-max", 200, "max submissions per source address per window")
	flags.Int("rate-limit-window-secs", 60, "fixed-window duration in seconds for the rate limiter")
	flags.String("submit-bearer-token", "", "shared bearer token required on /submit; empty disables auth")
	flags.String("sqlite-backup-path", "", "destination for periodic VACUUM INTO snapshots; empty disables snapshotting")
	flags.Int("sqlite-backup-interval-secs", 0, "interval in seconds between snapshot runs")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("metrics-enable", true, "serve /metrics")
	flags.String("metrics-path", "/metrics", "path the Prometheus handler is mounted on")

	bindEnv(v, flags, map[string]string{
		"server-addr":                  "SERVER_ADDR",
		"database-url":                 "DATABASE_URL",
		"require-agent-registration":   "REQUIRE_AGENT_REGISTRATION",
		"rate-limit-max":               "RATE_LIMIT_MAX",
		"rate-limit-window-secs":       "RATE_LIMIT_WINDOW_SECS",
		"submit-bearer-token":          "SUBMIT_BEARER_TOKEN",
		"sqlite-backup-path":           "SQLITE_BACKUP_PATH",
		"sqlite-backup-interval-secs":  "SQLITE_BACKUP_INTERVAL_SECS",
		"log-level":                    "LOG_LEVEL",
		"metrics-enable":               "METRICS_ENABLE",
		"metrics-path":                 "METRICS_PATH",
	})
}

// LoadCollector reads the bound values out of v into a validated Collector.
func LoadCollector(v *viper.Viper) (*Collector, error) {
	c := &Collector{
		ServerAddr:               v.GetString("server-addr"),
		DatabaseURL:              v.GetString("database-url"),
		RequireAgentRegistration: v.GetBool("require-agent-registration"),
		RateLimitMax:             v.GetInt("rate-limit-max"),
		RateLimitWindow:          time.Duration(v.GetInt("rate-limit-window-secs")) * time.Second,
		SubmitBearerToken:        v.GetString("submit-bearer-token"),
		SQLiteBackupPath:         v.GetString("sqlite-backup-path"),
		SQLiteBackupInterval:     time.Duration(v.GetInt("sqlite-backup-interval-secs")) * time.Second,
		LogLevel:                 v.GetString("log-level"),
		MetricsEnable:            v.GetBool("metrics-enable"),
		MetricsPath:              v.GetString("metrics-path"),
	}
	applyCollectorDefaults(c)
	if err := validateCollector(c); err != nil {
		return nil, err
	}
	return c, nil
}

func applyCollectorDefaults(c *Collector) {
	if c.ServerAddr == "" {
		c.ServerAddr = "127.0.0.1:3000"
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = "collector.db"
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = 200
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
}

func validateCollector(c *Collector) error {
	if c.ServerAddr == "" {
		return errors.New("server-addr is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("database-url is required")
	}
	if c.SQLiteBackupPath != "" && c.SQLiteBackupInterval <= 0 {
		return errors.New("sqlite-backup-interval-secs must be positive when sqlite-backup-path is set")
	}
	return nil
}
