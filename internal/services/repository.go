package services

import (
	"context"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// SplitSource is the part of the repository the split coordinator polls.
type SplitSource interface {
	ListDocumentNames(ctx context.Context) ([]string, error)
	StartSplitJob(ctx context.Context, docName string) error
	GetSplitStatus(ctx context.Context, docName string) (models.SplitStatus, error)
}

// VersionSource answers revision lookups.
type VersionSource interface {
	// SearchItems runs an exact-match filter expression against the search index.
	SearchItems(ctx context.Context, filter string, selectFields []string, rowLimit int) ([]models.SearchRow, error)
	// ListItemVersions returns the item's history, newest first.
	ListItemVersions(ctx context.Context, itemID string) ([]models.ItemVersion, error)
}

// CommitTarget receives page and document submissions.
type CommitTarget interface {
	CommitPage(ctx context.Context, docName, pageKey string, fields models.Fields) (string, error)
	SaveDocument(ctx context.Context, docName string, fields models.Fields) (string, error)
}

// ModerationTarget records approval decisions.
type ModerationTarget interface {
	SetModerationStatus(ctx context.Context, itemID string, status models.ModerationStatus, comment string) error
}

// FolderTarget creates folders and runs copy jobs.
type FolderTarget interface {
	// EnsureFolder creates the single folder at segments; the parent must
	// exist. An already existing folder is returned with Created=false.
	EnsureFolder(ctx context.Context, segments []string) (models.Folder, error)
	StartCopyJob(ctx context.Context, sourceURI, destURI string, opts models.CopyJobOptions) (models.CopyJob, error)
	// PollCopyJob returns the job's complete log stream so far.
	PollCopyJob(ctx context.Context, job models.CopyJob) ([]models.JobLogEntry, error)
	ModerationTarget
}

// Repository is the full external content system the engine orchestrates.
type Repository interface {
	SplitSource
	VersionSource
	CommitTarget
	FolderTarget
}
