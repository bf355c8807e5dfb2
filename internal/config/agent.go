package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// defaultStateDir returns $HOME/.logagent, per spec.md §6. Falling back to
// "./state" only if the home directory cannot be resolved.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./state"
	}
	return filepath.Join(home, ".logagent")
}

// Agent holds everything cmd/agent needs to run.
type Agent struct {
	LogPath      string
	ServerURL    string
	StateDir     string
	MaxRetries   int
	RetryBaseMs  time.Duration
	BatchSize    int
	LogLevel     string
}

// BindAgentFlags registers the agent's flags on cmd and binds them into v
// under the LOGAGENT_ prefix.
func BindAgentFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String("log-path", "/var/log/dpkg.log", "path to the log file the agent tails")
	flags.String("server-url", "http://127.0.0.1:3000", "base URL of the collector")
	flags.String("state-dir", defaultStateDir(), "writable directory for the agent's key, seq, and prev_hash")
	flags.Int("max-retries", 5, "maximum send attempts before a batch is dropped as failed")
	flags.Int("retry-base-ms", 500, "base delay in milliseconds for exponential backoff between send attempts")
	flags.Int("batch-size", 5, "number of log lines per batch")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	bindEnv(v, flags, map[string]string{
		"log-path":      "LOGAGENT_LOG_PATH",
		"server-url":    "LOGAGENT_SERVER_URL",
		"state-dir":     "LOGAGENT_STATE_DIR",
		"max-retries":   "LOGAGENT_MAX_RETRIES",
		"retry-base-ms": "LOGAGENT_RETRY_BASE_MS",
		"batch-size":    "LOGAGENT_BATCH_SIZE",
		"log-level":     "LOGAGENT_LOG_LEVEL",
	})
}

// LoadAgent reads the bound values out of v into a validated Agent.
func LoadAgent(v *viper.Viper) (*Agent, error) {
	a := &Agent{
		LogPath:     v.GetString("log-path"),
		ServerURL:   v.GetString("server-url"),
		StateDir:    v.GetString("state-dir"),
		MaxRetries:  v.GetInt("max-retries"),
		RetryBaseMs: time.Duration(v.GetInt("retry-base-ms")) * time.Millisecond,
		BatchSize:   v.GetInt("batch-size"),
		LogLevel:    v.GetString("log-level"),
	}
	applyAgentDefaults(a)
	if err := validateAgent(a); err != nil {
		return nil, err
	}
	return a, nil
}

func applyAgentDefaults(a *Agent) {
	if a.LogPath == "" {
		a.LogPath = "/var/log/dpkg.log"
	}
	if a.ServerURL == "" {
		a.ServerURL = "http://127.0.0.1:3000"
	}
	if a.StateDir == "" {
		a.StateDir = defaultStateDir()
	}
	if a.MaxRetries <= 0 {
		a.MaxRetries = 5
	}
	if a.RetryBaseMs <= 0 {
		a.RetryBaseMs = 500 * time.Millisecond
	}
	if a.BatchSize <= 0 {
		a.BatchSize = 5
	}
	if a.LogLevel == "" {
		a.LogLevel = "info"
	}
}

func validateAgent(a *Agent) error {
	if a.LogPath == "" {
		return errors.New("log-path is required")
	}
	if a.ServerURL == "" {
		return errors.New("server-url is required")
	}
	return nil
}
