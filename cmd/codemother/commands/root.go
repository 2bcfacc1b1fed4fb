package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codemother/codemother/pkg/config"
)

var (
	// Global flags
	configPath string
	devMode    bool
	jsonOutput bool
	envFiles   []string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codemother",
		Short: "Codemother - AI web application generator",
		Long: `Codemother turns natural-language requests into runnable web projects.

A request is routed through a workflow graph:
  - Vue, LeetCode and interview projects are created from scratch
  - Existing projects are modified or answered questions about
  - Every generated project is built and repaired until it compiles
  - Output streams to the caller as it is produced`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.yaml or .cue)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "use development defaults")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// loadConfig loads the dotenv files and the configuration selected by the
// global flags.
func loadConfig(ctx context.Context) (*config.AppConfig, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	if configPath == "" && devMode {
		cfg := config.DevelopmentConfig()
		return cfg, cfg.Validate()
	}
	return config.Load(ctx, configPath)
}
