package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindEnv binds each cobra flag to v under its own name and to the listed
// environment variable, then binds the flag itself so an explicit
// --flag=value always wins — giving the flag > env > default precedence
// every binary in this module shares.
func bindEnv(v *viper.Viper, flags *pflag.FlagSet, envByFlag map[string]string) {
	for flag, env := range envByFlag {
		_ = v.BindEnv(flag, env)
	}
	_ = v.BindPFlags(flags)
}

// EnsureCommand attaches RunE to cmd if it has none, so callers that only
// need flag parsing (no subcommands) still get a usable *cobra.Command.
func EnsureCommand(cmd *cobra.Command, run func(cmd *cobra.Command, args []string) error) {
	if cmd.RunE == nil {
		cmd.RunE = run
	}
}
