// Package builder runs the real bundler over a generated project. Its
// output drives the build-check/fix loop.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults taken when NpmConfig leaves a field zero.
const (
	DefaultInstallTimeout = 300 * time.Second
	DefaultBuildTimeout   = 180 * time.Second

	// ErrorSummaryMaxLength bounds BuildResult.ErrorSummary. Vite reports the
	// failing module at the end of stderr, so the tail is kept.
	ErrorSummaryMaxLength = 2000
)

// BuildResult is the outcome of one build.
type BuildResult struct {
	Success      bool          `json:"success"`
	Stdout       string        `json:"stdout,omitempty"`
	Stderr       string        `json:"stderr,omitempty"`
	ErrorSummary string        `json:"errorSummary,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// RawOutput is the diagnostic text shown to the fixer.
func (r BuildResult) RawOutput() string {
	return r.Stderr
}

func failure(stderr, summary string) BuildResult {
	return BuildResult{Stderr: stderr, ErrorSummary: summary}
}

// Builder builds a project directory.
type Builder interface {
	Build(ctx context.Context, dir string) BuildResult
}

// CommandRunner runs name with args in dir and returns its output. A non-zero
// exit is reported as an *exec.ExitError.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// NpmConfig configures an NpmBuilder.
type NpmConfig struct {
	// NPM is the npm executable, "npm" by default.
	NPM            string
	InstallTimeout time.Duration
	BuildTimeout   time.Duration

	// Runner replaces ExecRunner, mostly for tests.
	Runner CommandRunner
}

// NpmBuilder runs npm install (when node_modules is missing) followed by
// npm run build and checks that dist/ was produced.
type NpmBuilder struct {
	cfg    NpmConfig
	logger zerolog.Logger
}

// NewNpmBuilder creates a builder, filling defaults into cfg.
func NewNpmBuilder(cfg NpmConfig) *NpmBuilder {
	if cfg.NPM == "" {
		cfg.NPM = "npm"
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = DefaultInstallTimeout
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner
	}
	return &NpmBuilder{
		cfg:    cfg,
		logger: log.With().Str("component", "builder").Logger(),
	}
}

// Build never returns an error: every failure, including a missing project,
// is described by the result so the fix loop can consume it.
func (b *NpmBuilder) Build(ctx context.Context, dir string) BuildResult {
	start := time.Now()
	res := b.build(ctx, dir)
	res.Duration = time.Since(start)
	return res
}

func (b *NpmBuilder) build(ctx context.Context, dir string) BuildResult {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return failure("", "project directory does not exist: "+dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err != nil {
		return failure("", "package.json does not exist")
	}

	logger := b.logger.With().Str("dir", dir).Logger()

	if _, err := os.Stat(filepath.Join(dir, "node_modules")); err == nil {
		logger.Debug().Msg("node_modules present, skipping npm install")
	} else {
		res := b.run(ctx, dir, b.cfg.InstallTimeout, "install")
		if !res.Success {
			logger.Error().Str("summary", res.ErrorSummary).Msg("npm install failed")
			res.ErrorSummary = "npm install failed: " + res.ErrorSummary
			return res
		}
	}

	res := b.run(ctx, dir, b.cfg.BuildTimeout, "run", "build")
	if !res.Success {
		logger.Warn().Str("summary", res.ErrorSummary).Msg("npm run build failed")
		res.ErrorSummary = "npm run build failed: " + res.ErrorSummary
		return res
	}

	if info, err := os.Stat(filepath.Join(dir, "dist")); err != nil || !info.IsDir() {
		return failure(res.Stderr, "build finished but dist was not produced")
	}

	logger.Info().Msg("project built")
	return res
}

func (b *NpmBuilder) run(ctx context.Context, dir string, timeout time.Duration, args ...string) BuildResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := b.cfg.NPM + " " + strings.Join(args, " ")
	stdout, stderr, err := b.cfg.Runner(runCtx, dir, b.cfg.NPM, args...)
	if err == nil {
		return BuildResult{Success: true, Stdout: stdout, Stderr: stderr}
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failure(stderr, fmt.Sprintf("command timed out after %s: %s", timeout, command))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res := failure(stderr, ErrorSummary(stderr))
		res.Stdout = stdout
		return res
	}
	return failure(err.Error(), fmt.Sprintf("failed to run %s: %v", command, err))
}

// ErrorSummary returns the trimmed tail of stderr, at most
// ErrorSummaryMaxLength bytes.
func ErrorSummary(stderr string) string {
	if strings.TrimSpace(stderr) == "" {
		return "unknown error"
	}
	if len(stderr) > ErrorSummaryMaxLength {
		stderr = stderr[len(stderr)-ErrorSummaryMaxLength:]
	}
	return strings.TrimSpace(stderr)
}

// Prebuild installs packageJSON's dependencies once into dir/node_modules so
// scaffolded projects can link to them. It is a no-op when node_modules
// already exists.
func (b *NpmBuilder) Prebuild(ctx context.Context, dir string, packageJSON []byte) error {
	if _, err := os.Stat(filepath.Join(dir, "node_modules")); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), packageJSON, 0o644); err != nil {
		return fmt.Errorf("write package.json: %w", err)
	}

	res := b.run(ctx, dir, b.cfg.InstallTimeout, "install")
	if !res.Success {
		return fmt.Errorf("prebuild node_modules: %s", res.ErrorSummary)
	}
	b.logger.Info().Str("dir", dir).Msg("shared node_modules installed")
	return nil
}
