package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codemother/codemother/pkg/server"
)

func newServeCommand(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generation API",
		Long: `Serve the HTTP API.

Endpoints:
  - GET /api/v1/app/chat/gen/code   server-sent event generation stream
  - GET /ws/gen                     WebSocket generation stream
  - GET /api/v1/app/:appId/history  recent chat history of an app
  - GET /api/v1/executions          recorded workflow executions
  - GET /api/v1/workflow/graph      the workflow graph (mermaid or dot)
  - GET /healthz and /metrics`,
		Example: `  # Serve with production defaults
  codemother serve

  # Serve a config file on another port
  codemother serve -c codemother.yaml --addr :9000

  # Local development
  codemother serve --dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := newApp(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := server.New(server.Options{
				Config:       cfg.Server,
				Generator:    a.runner,
				Graph:        a.graph,
				History:      a.history,
				Executions:   a.store,
				Health:       a.store,
				Telemetry:    a.tel,
				HistoryLimit: cfg.Stores.HistoryLimit,
			})
			if err != nil {
				return err
			}

			log.Info().
				Str("addr", cfg.Server.Addr).
				Str("output_root", cfg.Workflow.OutputRoot).
				Int("max_fix_retries", cfg.Workflow.MaxFixRetries).
				Msg("Starting server")
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")

	return cmd
}
