package config

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Auditor holds everything cmd/auditor needs to run.
type Auditor struct {
	ServerURL string
	LogLevel  string
}

// BindAuditorFlags registers the auditor's flags on cmd and binds them into
// v under the AUDITOR_ prefix.
func BindAuditorFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String("server-url", "http://127.0.0.1:3000", "base URL of the collector to audit")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	bindEnv(v, flags, map[string]string{
		"server-url": "AUDITOR_SERVER_URL",
		"log-level":  "AUDITOR_LOG_LEVEL",
	})
}

// LoadAuditor reads the bound values out of v into a validated Auditor.
func LoadAuditor(v *viper.Viper) (*Auditor, error) {
	a := &Auditor{
		ServerURL: v.GetString("server-url"),
		LogLevel:  v.GetString("log-level"),
	}
	if a.LogLevel == "" {
		a.LogLevel = "info"
	}
	if a.ServerURL == "" {
		return nil, errors.New("server-url is required")
	}
	return a, nil
}
