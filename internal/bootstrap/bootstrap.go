// Package bootstrap wires the lifecycle engine from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/Lllllllleong/drawingmigration/internal/drafts"
	"github.com/Lllllllleong/drawingmigration/internal/gcp"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/Lllllllleong/drawingmigration/internal/search"
	"github.com/Lllllllleong/drawingmigration/internal/services"
	"github.com/Lllllllleong/drawingmigration/internal/vocabulary"
)

var _ services.Repository = (*gcp.Repository)(nil)

// Engine bundles the services exposed by the API and the CLI.
type Engine struct {
	Config     *config.Config
	Repository services.Repository
	Vocabulary *vocabulary.Vocabulary
	Drafts     *drafts.RedisStore
	Workspace  *services.Workspace
	Resolver   *services.RevisionResolver
	Gate       *services.UploadGate
	Lifecycle  services.PageLifecycle
	Mover      *services.FolderMover
	Approvals  *services.ApprovalWorkflow
	Logger     *slog.Logger

	closers []func() error
}

// NewEngine builds the services on top of repo. store may be nil, which
// disables drafts.
func NewEngine(cfg *config.Config, repo services.Repository, vocab *vocabulary.Vocabulary, store *drafts.RedisStore, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if vocab == nil {
		vocab = vocabulary.Empty()
	}
	successor, err := services.SuccessorByName(cfg.RevisionSuccessor)
	if err != nil {
		return nil, err
	}

	resolver := services.NewRevisionResolver(repo, services.ResolverConfig{
		RowLimit: cfg.SearchRowLimit,
		Scope: models.SearchScope{
			Value:   cfg.DistributionMarker,
			Exclude: cfg.DistributionExclude,
		},
	}, successor, vocab, logger)
	coordinator := services.NewSplitJobCoordinator(repo, services.SplitCoordinatorConfig{
		PollInterval: cfg.SplitPollInterval,
	}, logger)
	mover := services.NewFolderMover(repo, services.FolderMoverConfig{
		PollInterval: cfg.CopyJobPollInterval,
		Timeout:      cfg.CopyJobTimeout,
	}, logger)

	approvals := services.NewApprovalWorkflow(repo, repo, mover, logger)
	gate := services.NewUploadGate(repo, vocab, logger)
	gate.Guard = approvals

	return &Engine{
		Config:     cfg,
		Repository: repo,
		Vocabulary: vocab,
		Drafts:     store,
		Workspace: services.NewWorkspace(coordinator, resolver, services.WorkspaceConfig{
			PropagationQuietPeriod: cfg.PropagationQuietPeriod,
			RevisionDebounce:       cfg.RevisionDebounce,
		}, logger),
		Resolver:  resolver,
		Gate:      gate,
		Mover:     mover,
		Approvals: approvals,
		Logger:    logger,
	}, nil
}

// New connects to GCP, the search backend and Redis, then builds the engine.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.RequireGCP(); err != nil {
		return nil, err
	}
	vocab, err := vocabulary.Load(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}
	index, err := NewIndex(cfg)
	if err != nil {
		return nil, err
	}
	repo, err := gcp.NewRepository(ctx, gcp.RepositoryConfigFrom(cfg), index, logger)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	var store *drafts.RedisStore
	if cfg.RedisURL != "" {
		store, err = drafts.NewRedisStore(cfg.RedisURL)
		if err != nil {
			// Drafts are optional; the rest of the engine still works.
			logger.Warn("Drafts disabled", "error", err)
			store = nil
		}
	}

	engine, err := NewEngine(cfg, repo, vocab, store, logger)
	if err != nil {
		_ = repo.Close()
		_ = index.Close()
		return nil, err
	}
	engine.closers = append(engine.closers, repo.Close, index.Close)
	if store != nil {
		engine.closers = append(engine.closers, store.Close)
	}
	return engine, nil
}

// NewIndex opens the configured search backend.
func NewIndex(cfg *config.Config) (search.Index, error) {
	switch cfg.SearchBackend {
	case "meili", "meilisearch":
		return search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.MeiliIndex), nil
	case "", "bleve":
		return search.NewBleveIndex(cfg.BleveIndexPath)
	default:
		return nil, fmt.Errorf("unknown SEARCH_BACKEND %q", cfg.SearchBackend)
	}
}

// Close closes every open document and the backing clients.
func (e *Engine) Close() error {
	e.Workspace.CloseAll()
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
