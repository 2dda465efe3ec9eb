// Package cmd wires the crew CLI: planning, fleet runs, the status
// surface and queue maintenance.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devcrewhq/crew/internal/config"
	"github.com/devcrewhq/crew/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	debugMode bool

	// Version info, set via SetVersion().
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Multi-agent development crew over isolated git workspaces",
	Long: `crew decomposes a project brief into a dependency-ordered task plan,
then executes it with a fleet of specialist LLM agents. Each agent works
on its own branch in an isolated workspace, coordinates file access
through distributed locks, and hands finished work to a merge funnel
that validates it before integration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// SetVersion injects build-time version information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .crew/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"enable debug output")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

// loadConfig loads and validates configuration from flags, environment
// and the optional .crew/config.yaml.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Debug = true
		cfg.Log.Level = "debug"
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the CLI logger. Logs go to stderr so command output
// stays pipeable.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
