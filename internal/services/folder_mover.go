package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// FolderMoverConfig bounds copy-job polling.
type FolderMoverConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// FolderMover ensures folder paths exist and moves items between them with
// asynchronous copy jobs.
type FolderMover struct {
	Config FolderMoverConfig
	Target FolderTarget
	Logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewFolderMover fills in default timings.
func NewFolderMover(target FolderTarget, cfg FolderMoverConfig, logger *slog.Logger) *FolderMover {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderMover{Config: cfg, Target: target, Logger: logger, inFlight: make(map[string]struct{})}
}

// EnsureFolder creates every missing folder of segments, parent first. An
// existing folder counts as success. A failure part way leaves the parents
// in place; the next call picks up from there. New folders are approved
// when autoApprove is set.
func (m *FolderMover) EnsureFolder(ctx context.Context, segments []string, autoApprove bool) (models.Folder, error) {
	clean := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(strings.TrimSpace(s), "/"); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return models.Folder{}, domainError(ErrValidationFailed, "folder path is empty", segments)
	}

	var leaf models.Folder
	created := false
	for i := range clean {
		folder, err := m.Target.EnsureFolder(ctx, clean[:i+1])
		if err != nil {
			return models.Folder{}, fmt.Errorf("failed to ensure folder %s: %w", strings.Join(clean[:i+1], "/"), err)
		}
		if folder.Created {
			created = true
			m.Logger.Info("Created folder", "path", strings.Join(folder.Segments, "/"))
			if autoApprove {
				if err := m.Target.SetModerationStatus(ctx, folder.ID, models.ModerationApproved, "auto-approved folder"); err != nil {
					return models.Folder{}, err
				}
			}
		}
		leaf = folder
	}
	leaf.Segments = clean
	leaf.Created = created
	return leaf, nil
}

// Move relocates source to dest. Moves within one parent container are a
// no-op. Warnings and errors logged by the copy job are returned as
// warnings; the move still happened.
func (m *FolderMover) Move(ctx context.Context, source, dest string) ([]models.JobLogEntry, error) {
	if sameParent(source, dest) {
		return nil, nil
	}
	logCtx := m.Logger.With("source", source, "destination", dest)

	m.mu.Lock()
	if _, busy := m.inFlight[source]; busy {
		m.mu.Unlock()
		return nil, domainError(ErrConflict, fmt.Sprintf("%s is already being moved", source), source)
	}
	m.inFlight[source] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, source)
		m.mu.Unlock()
	}()

	job, err := m.Target.StartCopyJob(ctx, source, dest, models.CopyJobOptions{
		IsMoveMode:           true,
		IgnoreVersionHistory: false,
		AllowSchemaMismatch:  true,
	})
	if err != nil {
		logCtx.Error("Failed to start copy job", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("jobId", job.JobID)
	logCtx.Info("Copy job started")

	logs, err := m.pollJob(ctx, job)
	if err != nil {
		logCtx.Error("Copy job did not complete", "error", err)
		return nil, err
	}

	var warnings []models.JobLogEntry
	for _, entry := range logs {
		switch entry.Event {
		case models.JobWarning, models.JobError:
			warnings = append(warnings, entry)
		case models.JobFatalError:
			return warnings, fmt.Errorf("copy job %s failed: %s", job.JobID, entry.Message)
		case models.JobCancelled:
			return warnings, fmt.Errorf("copy job %s was cancelled", job.JobID)
		}
	}
	if len(warnings) > 0 {
		logCtx.Warn("Move completed with issues", "warnings", len(warnings))
	} else {
		logCtx.Info("Move completed")
	}
	return warnings, nil
}

func (m *FolderMover) pollJob(ctx context.Context, job models.CopyJob) ([]models.JobLogEntry, error) {
	deadline := time.NewTimer(m.Config.Timeout)
	defer deadline.Stop()
	for {
		logs, err := m.Target.PollCopyJob(ctx, job)
		if err != nil {
			return nil, err
		}
		for _, entry := range logs {
			if entry.Event.Terminal() {
				return logs, nil
			}
		}
		select {
		case <-time.After(m.Config.PollInterval):
		case <-deadline.C:
			return nil, domainError(ErrStalled,
				fmt.Sprintf("copy job %s reported no completion within %s", job.JobID, m.Config.Timeout), job.JobID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func sameParent(a, b string) bool {
	return path.Dir(path.Clean("/"+a)) == path.Dir(path.Clean("/"+b))
}

func baseName(location string) string {
	return path.Base(path.Clean("/" + location))
}

func joinLocation(segments []string, name string) string {
	return "/" + path.Join(append(append([]string(nil), segments...), name)...)
}
