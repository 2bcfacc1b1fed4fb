package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codemother/codemother/pkg/codegen"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/workflow"
)

func newRunCommand(version string) *cobra.Command {
	var (
		appID          int64
		generationType string
		element        string
		dbEnabled      bool
		dbSchema       string
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one generation from the command line",
		Long: `Run the workflow once and stream its output to stdout.

When the project of the app already exists the request modifies it or
answers a question about it; otherwise a new project is created.`,
		Example: `  # Create a Vue project for app 42
  codemother run --app-id 42 "a todo app with dark mode"

  # Modify a selected element of an existing project
  codemother run --app-id 42 --element '{"tagName":"button","selector":"#save"}' "make it green"

  # Raw stream chunks
  codemother run --app-id 7 --type leetcode_project --json "two sum"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := codegen.Request{
				AppID:           appID,
				Prompt:          strings.Join(args, " "),
				GenerationType:  workflow.GenerationType(generationType),
				DatabaseEnabled: dbEnabled,
				DatabaseSchema:  dbSchema,
			}
			if element != "" {
				req.ElementInfo = &workflow.ElementInfo{}
				if err := json.Unmarshal([]byte(element), req.ElementInfo); err != nil {
					return fmt.Errorf("invalid --element: %w", err)
				}
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().
				Int64("app_id", appID).
				Str("generation_type", generationType).
				Bool("element", req.ElementInfo != nil).
				Msg("Running workflow")

			chunks, err := a.chat(ctx, req)
			if err != nil {
				return err
			}
			runErr := streamRun(os.Stdout, chunks, jsonOutput)

			execs, err := a.store.ListExecutions(ctx, appID, 1, 0)
			if err == nil && len(execs) > 0 {
				last := execs[0]
				log.Info().
					Str("execution_id", last.ID).
					Str("status", string(last.Status)).
					Int("fix_retries", last.FixRetryCount).
					Bool("forced_pass", last.ForcedPass).
					Msg("Workflow finished")
			}
			return runErr
		},
	}

	cmd.Flags().Int64Var(&appID, "app-id", 0, "application id (required)")
	cmd.Flags().StringVarP(&generationType, "type", "t", string(workflow.GenerationVue), "generation type: vue_project, leetcode_project or interview_project")
	cmd.Flags().StringVar(&element, "element", "", "selected element as JSON")
	cmd.Flags().BoolVar(&dbEnabled, "database", false, "allow the workflow to change the app database")
	cmd.Flags().StringVar(&dbSchema, "schema", "", "current database schema description")
	_ = cmd.MarkFlagRequired("app-id")

	return cmd
}

// chat runs req with the app's telemetry in the context, so nodes report
// spans, metrics and events as they do behind the server.
func (a *app) chat(ctx context.Context, req codegen.Request) (<-chan string, error) {
	if a.tel != nil {
		ctx = a.tel.WithContext(ctx)
	}
	return a.runner.Chat(ctx, req)
}

// streamRun writes chunks to w, raw or as plain text, and returns the error
// of a run the engine aborted.
func streamRun(w io.Writer, chunks <-chan string, raw bool) error {
	var runErr error
	for chunk := range chunks {
		msg, failed := llm.ErrorChunk(chunk)
		if failed {
			runErr = fmt.Errorf("workflow failed: %s", msg)
		}
		if raw {
			fmt.Fprintln(w, chunk)
			continue
		}
		if failed {
			continue
		}
		var c llm.ClientChunk
		if err := json.Unmarshal([]byte(chunk), &c); err != nil {
			c.D = chunk
		}
		fmt.Fprint(w, c.D)
	}
	fmt.Fprintln(w)
	return runErr
}
