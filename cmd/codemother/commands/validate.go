package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codemother/codemother/pkg/config"
	"github.com/codemother/codemother/pkg/policy"
)

type validationReport struct {
	Config   string   `json:"config"`
	Policies []string `json:"policies,omitempty"`
	Hook     string   `json:"hook,omitempty"`
	Models   []string `json:"models"`
	Warnings []string `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a YAML or CUE configuration file.

This command checks:
  - Syntax and CUE constraints
  - Field constraints of every section
  - That the policy directory compiles
  - That the prompt hook script defines enhance
  - Which model backends have an API key`,
		Example: `  # Validate the defaults
  codemother validate

  # Validate a specific file
  codemother validate ./codemother.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) > 0 {
				configPath = args[0]
			}

			log.Info().Str("path", configPath).Bool("dev", devMode).Msg("Validating configuration")

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			report := validationReport{Config: configPath}
			if report.Config == "" {
				report.Config = "defaults"
			}

			if dir := cfg.Policy.Directory; cfg.Policy.Enabled && dir != "" {
				eng, err := policy.NewEngine(log.Logger)
				if err != nil {
					return err
				}
				if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
					return fmt.Errorf("policies: %w", err)
				}
				for _, p := range eng.ListPolicies() {
					report.Policies = append(report.Policies, p.Name)
				}
			}

			if script := cfg.Hooks.PromptScript; script != "" {
				if _, err := config.LoadPromptHook(script, cfg.Hooks.Timeout); err != nil {
					return fmt.Errorf("prompt hook: %w", err)
				}
				report.Hook = script
			}

			for _, m := range cfg.Models {
				name := m.Provider + "/" + m.Model
				report.Models = append(report.Models, name)
				if m.ResolvedAPIKey(os.Getenv) == "" {
					report.Warnings = append(report.Warnings, "no API key for "+name)
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Printf("%s: ok\n", report.Config)
			fmt.Printf("  models: %v\n", report.Models)
			if len(report.Policies) > 0 {
				fmt.Printf("  policies: %v\n", report.Policies)
			}
			if report.Hook != "" {
				fmt.Printf("  prompt hook: %s\n", report.Hook)
			}
			for _, w := range report.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			return nil
		},
	}

	return cmd
}
