package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codemother/codemother/pkg/assets"
	"github.com/codemother/codemother/pkg/builder"
	"github.com/codemother/codemother/pkg/codegen"
	"github.com/codemother/codemother/pkg/config"
	"github.com/codemother/codemother/pkg/database"
	"github.com/codemother/codemother/pkg/engine"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/nodes"
	"github.com/codemother/codemother/pkg/policy"
	"github.com/codemother/codemother/pkg/stores"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workspace"
)

const shutdownTimeout = 10 * time.Second

// app holds the components built from one configuration.
type app struct {
	cfg      *config.AppConfig
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	history  stores.ChatHistory
	policies *policy.Engine
	executor *engine.Executor
	graph    *codegen.Compiled
	runner   *codegen.Runner

	closers []func() error
}

// newApp wires every component. Optional integrations that are not
// configured are left out and the nodes backed by them degrade.
func newApp(ctx context.Context, cfg *config.AppConfig, version string) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.tel, err = telemetry.NewTelemetry(telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	log.Logger = a.tel.Logger.Zerolog()

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	chat, streamer, err := a.models(ctx)
	if err != nil {
		return nil, err
	}

	var (
		fileGuard llm.FileGuard
		sqlGuard  database.SQLGuard
	)
	if cfg.Policy.Enabled {
		if a.policies, err = a.loadPolicies(ctx); err != nil {
			return nil, err
		}
		fileGuard, sqlGuard = a.policies, a.policies
	}

	db, err := a.database(ctx, sqlGuard)
	if err != nil {
		return nil, err
	}

	deps := nodes.Deps{
		Chat:          chat,
		Streamer:      streamer,
		Builder:       builder.NewNpmBuilder(builder.NpmConfig{}),
		Database:      db,
		Guard:         fileGuard,
		Schemas:       config.NewSchemaRegistry(),
		MaxFixRetries: cfg.Workflow.MaxFixRetries,
		MaxTurns:      cfg.Workflow.MaxTurns,
	}
	if len(cfg.Models) > 0 {
		deps.MaxTokens = cfg.Models[0].MaxTokens
	}
	if err := a.workspace(&deps); err != nil {
		return nil, err
	}
	if err := a.assets(ctx, &deps); err != nil {
		return nil, err
	}
	if cfg.Hooks.PromptScript != "" {
		hook, err := config.LoadPromptHook(cfg.Hooks.PromptScript, cfg.Hooks.Timeout)
		if err != nil {
			return nil, err
		}
		deps.Hook = hook
	}

	catalog, err := nodes.New(deps)
	if err != nil {
		return nil, err
	}

	a.executor = codegen.NewImageExecutor(cfg.Workflow.CoreWorkers, cfg.Workflow.MaxWorkers, cfg.Workflow.QueueSize)
	a.graph, err = codegen.Compile(catalog, a.executor)
	if err != nil {
		return nil, fmt.Errorf("compile workflow: %w", err)
	}

	a.runner = codegen.NewRunner(a.graph, codegen.Options{
		Recorder:    a.store,
		History:     a.history,
		MaxSteps:    cfg.Workflow.MaxSteps,
		NodeTimeout: cfg.Workflow.NodeTimeout,
	})
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	path := a.cfg.Stores.SQLitePath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.history = store

	if a.cfg.Stores.RedisURL == "" {
		return nil
	}
	client, err := stores.OpenRedis(ctx, a.cfg.Stores.RedisURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	memory := stores.NewRedisChatMemory(client, a.cfg.Stores.HistoryLimit, 0)
	a.history = stores.NewTieredHistory(memory, store)
	return nil
}

// models builds the failover chains in configured order. Backends that
// cannot be created, usually for a missing key, are skipped.
func (a *app) models(ctx context.Context) (llm.ChatModel, llm.StreamingChatModel, error) {
	var (
		chats   []llm.ChatModel
		streams []llm.StreamingChatModel
	)
	for _, mc := range a.cfg.Models {
		bc := llm.BackendConfig{
			Model:     mc.Model,
			APIKey:    mc.ResolvedAPIKey(os.Getenv),
			BaseURL:   mc.BaseURL,
			MaxTokens: mc.MaxTokens,
		}
		var (
			chat   llm.ChatModel
			stream llm.StreamingChatModel
			err    error
		)
		switch mc.Provider {
		case "anthropic":
			var m *llm.AnthropicModel
			if m, err = llm.NewAnthropicModel(bc); err == nil {
				chat, stream = m, m
			}
		case "openai":
			var m *llm.OpenAIModel
			if m, err = llm.NewOpenAIModel(bc); err == nil {
				chat, stream = m, m
			}
		case "gemini":
			var m *llm.GeminiModel
			if m, err = llm.NewGeminiModel(ctx, bc); err == nil {
				chat, stream = m, m
			}
		default:
			err = fmt.Errorf("unknown provider %q", mc.Provider)
		}
		if err != nil {
			log.Warn().Err(err).Str("provider", mc.Provider).Str("model", mc.Model).Msg("Skipping model backend")
			continue
		}
		chats = append(chats, chat)
		streams = append(streams, stream)
	}
	if len(chats) == 0 {
		return nil, nil, errors.New("no usable model backend configured")
	}

	metrics := a.tel.Metrics
	opts := []llm.FailoverOption{
		llm.WithFailoverLogger(log.With().Str("component", "llm.failover").Logger()),
		llm.WithFailoverHook(func(from string, _ error) { metrics.RecordModelFailover(from) }),
	}
	return llm.NewFailoverChatModel(chats, opts...), llm.NewFailoverStreamingModel(streams, opts...), nil
}

func (a *app) loadPolicies(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(log.With().Str("component", "policy").Logger())
	if err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}
	dir := a.cfg.Policy.Directory
	if dir == "" {
		return eng, nil
	}
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		return nil, err
	}
	if a.cfg.Policy.Watch {
		if err := eng.Watch(ctx); err != nil {
			log.Warn().Err(err).Str("directory", dir).Msg("Policy hot reload disabled")
		}
	}
	return eng, nil
}

func (a *app) database(ctx context.Context, guard database.SQLGuard) (database.Service, error) {
	if !a.cfg.Database.Enabled {
		return database.DisabledService{}, nil
	}
	db, err := database.Open(ctx, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return database.NewPostgresSchemaService(db, guard), nil
}

func (a *app) workspace(deps *nodes.Deps) error {
	wf := a.cfg.Workflow
	deps.Layout = workspace.NewLayout(wf.OutputRoot)
	deps.Scaffolder = workspace.NewScaffolder(deps.Layout)
	walker, err := workspace.NewWalker()
	if err != nil {
		return err
	}
	deps.Walker = walker
	if wf.SnapshotProjects {
		deps.Snapshotter = workspace.NewSnapshotter("", "")
	}
	return nil
}

// assets wires the collectors. A collector left nil is skipped by its node.
func (a *app) assets(ctx context.Context, deps *nodes.Deps) error {
	ac := a.cfg.Assets

	var uploader assets.Uploader
	if ac.S3Bucket != "" {
		s3, err := assets.NewS3Uploader(ctx, assets.S3Config{
			Bucket:          ac.S3Bucket,
			Region:          ac.S3Region,
			Endpoint:        ac.S3Endpoint,
			AccessKeyID:     ac.S3AccessKeyID,
			SecretAccessKey: ac.S3SecretAccessKey,
			PublicBaseURL:   ac.S3PublicBaseURL,
		})
		if err != nil {
			return err
		}
		uploader = s3
	}

	if ac.PexelsAPIKey != "" {
		pexels := assets.NewPexelsSearcher(ac.PexelsURL, ac.PexelsAPIKey, ac.ImagesPerTask, nil)
		cached, err := assets.NewCachedSearcher(pexels, "pexels", ac.CacheMaxEntries, ac.CacheTTL)
		if err != nil {
			return err
		}
		deps.ContentImages = cached
	}
	if ac.IllustrationURL != "" {
		illos := assets.NewIllustrationSearcher(ac.IllustrationURL, ac.ImagesPerTask, nil)
		cached, err := assets.NewCachedSearcher(illos, "illustrations", ac.CacheMaxEntries, ac.CacheTTL)
		if err != nil {
			return err
		}
		deps.Illustrations = cached
	}
	if ac.MermaidRendererURL != "" {
		deps.Diagrams = assets.NewMermaidRenderer(ac.MermaidRendererURL, uploader, nil)
	}
	if uploader != nil && ac.LogoAPIKeyEnv != "" {
		images, err := assets.NewOpenAIImages(os.Getenv(ac.LogoAPIKeyEnv), ac.LogoModel, "")
		if err != nil {
			log.Warn().Err(err).Msg("Logo generation disabled")
		} else {
			deps.Logos = assets.NewLogos(images, uploader)
		}
	}
	return nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.executor != nil {
		a.executor.Shutdown()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close component")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}
}
