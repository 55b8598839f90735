package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// SplitCoordinatorConfig holds the poll timing.
type SplitCoordinatorConfig struct {
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

// SplitJobCoordinator starts the external split and OCR job for a document
// and polls its status into the document handle.
type SplitJobCoordinator struct {
	Config    SplitCoordinatorConfig
	Source    SplitSource
	Lifecycle PageLifecycle
	Logger    *slog.Logger
}

// NewSplitJobCoordinator fills in default timings.
func NewSplitJobCoordinator(source SplitSource, cfg SplitCoordinatorConfig, logger *slog.Logger) *SplitJobCoordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SplitJobCoordinator{Config: cfg, Source: source, Logger: logger}
}

// StartOrResume kicks off the split job and starts the background poll
// loop bound to the handle. On resumed navigation the document must already
// be known to the repository; no new job is started for an unknown name.
func (c *SplitJobCoordinator) StartOrResume(h *DocumentHandle, resumed bool) error {
	ctx := h.Context()
	logCtx := c.Logger.With("documentName", h.Name(), "resumed", resumed)

	if resumed {
		names, err := c.Source.ListDocumentNames(ctx)
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		if !slices.Contains(names, h.Name()) {
			logCtx.Warn("Resumed document is not known to the repository")
			return domainError(ErrNotFound, fmt.Sprintf("document %s not found", h.Name()), h.Name())
		}
	} else {
		// Polling is the source of truth; a failed request is not fatal.
		if err := c.Source.StartSplitJob(ctx, h.Name()); err != nil {
			logCtx.Warn("Split request failed, continuing with polling", "error", err)
		} else {
			logCtx.Info("Split job requested")
		}
	}

	go c.pollLoop(h, logCtx)
	return nil
}

// Sync performs a single poll tick and reports whether polling is complete.
func (c *SplitJobCoordinator) Sync(ctx context.Context, h *DocumentHandle) (bool, error) {
	status, err := c.Source.GetSplitStatus(ctx, h.Name())
	if err != nil {
		return false, err
	}
	// A handle closed while the request was in flight rejects the snapshot.
	if err := c.Lifecycle.ApplySnapshot(h, status); err != nil {
		return false, err
	}
	return splitComplete(status), nil
}

func (c *SplitJobCoordinator) pollLoop(h *DocumentHandle, logCtx *slog.Logger) {
	ctx := h.Context()
	delay := c.Config.PollInterval
	for {
		done, err := c.Sync(ctx, h)
		switch {
		case errors.Is(err, ErrClosed) || ctx.Err() != nil:
			logCtx.Info("Poll loop cancelled")
			return
		case err != nil:
			delay *= 2
			if delay > c.Config.MaxBackoff {
				delay = c.Config.MaxBackoff
			}
			logCtx.Warn("Split status poll failed, keeping last snapshot", "error", err, "retryIn", delay)
		case done:
			counts := h.Counts()
			logCtx.Info("Split job settled", "ready", counts.Ready, "uploaded", counts.Uploaded, "skipped", counts.Skipped)
			return
		default:
			delay = c.Config.PollInterval
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logCtx.Info("Poll loop cancelled")
			return
		}
	}
}

// splitComplete is true once the repository reports pages and none of them
// is still being split or read.
func splitComplete(status models.SplitStatus) bool {
	if len(status.Pages) == 0 {
		return false
	}
	for _, p := range status.Pages {
		switch p.Status {
		case models.PageStatusNew, models.PageStatusSplit, models.PageStatusInOCR:
			return false
		}
	}
	return true
}
