// Package cli provides utility functions for the command line interface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/registry-fetch/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InitViperConfig initializes the Viper configuration for a command.
//
// Values are resolved from flags, then CMDNAME_* environment variables
// (dashes in keys become underscores), then a cmdName.yaml config file
// found in the working directory, /etc/cmdName or next to the binary.
func InitViperConfig(cmdName string, cmd *cobra.Command, vip *viper.Viper) error {
	// Flag also finds persistent flags before cobra has merged them.
	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		vip.SetConfigFile(f.Value.String())
	} else {
		vip.SetConfigName(cmdName)
		vip.AddConfigPath(".")
		vip.AddConfigPath("/etc/" + cmdName)

		if binPath, err := os.Executable(); err != nil {
			log.Warn().Err(err).Msg("Failed to get current executable path, not adding it as a config dir")
		} else {
			vip.AddConfigPath(filepath.Dir(binPath))
		}
	}
	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if errors.As(err, &e) {
			log.Debug().Msg("No configuration file, using defaults, env variables and flags")
		} else {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
	} else {
		log.Info().Str("file", vip.ConfigFileUsed()).Msg("Using configuration file")
	}

	// Handle environment.
	vip.SetEnvPrefix(EnvPrefix(cmdName))
	vip.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vip.AutomaticEnv()

	return nil
}

// EnvPrefix returns the environment variable prefix for cmdName, without
// the trailing underscore.
func EnvPrefix(cmdName string) string {
	return strings.ToUpper(strings.ReplaceAll(cmdName, "-", "_"))
}

// InstallConfigFlag adds a config flag to the command.
func InstallConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().String("config", "", "use a specific configuration file")
}

// SetVerbosity configures the global logger for the given -v count.
func SetVerbosity(level int, pretty bool) {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelFromVerbosity(level)
	cfg.Pretty = pretty
	logging.Setup(cfg)
}
