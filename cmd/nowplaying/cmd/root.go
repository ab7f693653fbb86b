// Package cmd implements the nowplaying CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "nowplaying",
	Short:   "Now-playing media session bridge",
	Version: version.Short(),
	Long: `nowplaying tracks the media sessions on this machine and keeps a
browser widget in sync with them over a WebSocket.

Sessions come from a pluggable source (mock, process, scenario). Every
change is applied to a single in-memory registry and broadcast to
connected clients as an ordered delta.`,
	SilenceUsage: true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		initLogging()
		return nil
	}

	// Not bound to viper: they only override file and env values when set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./nowplaying.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("NP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loggingConfig resolves logging settings. Flags win over env, env over
// file, file over defaults.
func loggingConfig(base config.LoggingConfig) config.LoggingConfig {
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		base.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		base.Format, _ = flags.GetString("log-format")
	}
	base.Level = strings.ToLower(base.Level)
	if base.Level == "warning" {
		base.Level = "warn"
	}
	base.Format = strings.ToLower(base.Format)
	return base
}

func initLogging() {
	cfg := loggingConfig(config.LoggingConfig{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	})
	slog.SetDefault(observability.NewLoggerWithWriter(cfg, os.Stderr))
}

// loadConfig reads the full configuration through the shared viper
// instance, so bound command flags take effect.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Logging = loggingConfig(cfg.Logging)
	return cfg, nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
