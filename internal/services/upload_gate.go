package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// FieldValidator checks field values against the term store.
type FieldValidator interface {
	Validate(fields models.Fields) []models.FieldKey
}

// ValidationDetails lists what made a submission invalid.
type ValidationDetails struct {
	Missing []models.FieldKey `json:"missing,omitempty"`
	Invalid []models.FieldKey `json:"invalid,omitempty"`
}

// OverwriteDetails is attached to the Conflict returned for an unconfirmed
// submission that would add a version to an existing drawing.
type OverwriteDetails struct {
	ItemID            string `json:"itemId"`
	NextRevisionToken string `json:"nextRevisionToken,omitempty"`
	WarningText       string `json:"warningText"`
}

// EditGuard refuses new versions of an item whose latest version is still
// under moderation.
type EditGuard interface {
	EnsureEditable(ctx context.Context, itemID string) error
}

// UploadGate is the only path that commits fields to the repository.
type UploadGate struct {
	Target    CommitTarget
	Validator FieldValidator
	// Guard re-reads the matched item's history before a new version is
	// added. Without it only the candidate's versions are checked.
	Guard     EditGuard
	Lifecycle PageLifecycle
	Logger    *slog.Logger
}

// NewUploadGate builds a gate. validator may be nil.
func NewUploadGate(target CommitTarget, validator FieldValidator, logger *slog.Logger) *UploadGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadGate{Target: target, Validator: validator, Logger: logger}
}

// Submit validates and commits one page (pageKey set) or the whole document
// (pageKey empty). When fields is nil the page's or document's current
// fields are used. A match found by the revision tracker must be confirmed.
func (g *UploadGate) Submit(ctx context.Context, h *DocumentHandle, pageKey string, fields models.Fields, confirmed bool) (string, error) {
	logCtx := g.Logger.With("documentName", h.Name(), "pageKey", pageKey)

	if pageKey != "" {
		page, ok := h.Page(pageKey)
		if !ok {
			return "", domainError(ErrNotFound, fmt.Sprintf("page %s not found in %s", pageKey, h.Name()), pageKey)
		}
		if page.Status == models.PageStatusProcessed {
			logCtx.Info("Page already uploaded, nothing to do", "repositoryId", page.RepositoryID)
			return page.RepositoryID, nil
		}
		if page.Status != models.PageStatusReady {
			return "", invalidTransition(pageKey, page.Status, models.PageStatusProcessed)
		}
		if fields == nil {
			fields = page.Fields()
		}
	} else if fields == nil {
		fields = h.Snapshot().CommonFields
	}

	if err := g.validate(fields, pageKey); err != nil {
		logCtx.Warn("Submission rejected by validation", "error", err)
		return "", err
	}

	if candidate := h.Candidate(); candidate.MatchFound {
		if !confirmed {
			return "", domainError(ErrConflict, candidate.OverwriteWarningText, OverwriteDetails{
				ItemID:            candidate.ItemID,
				NextRevisionToken: candidate.NextRevisionToken,
				WarningText:       candidate.OverwriteWarningText,
			})
		}
		if err := g.ensureEditable(ctx, candidate); err != nil {
			logCtx.Warn("Matched item is locked for editing", "itemId", candidate.ItemID, "error", err)
			return "", err
		}
	}

	committed, claimed, err := h.beginSubmit(pageKey)
	if err != nil {
		return "", err
	}
	if !claimed {
		logCtx.Info("Page uploaded by another submission, nothing to do", "repositoryId", committed)
		return committed, nil
	}
	defer h.endSubmit(pageKey)

	if pageKey == "" {
		id, err := g.Target.SaveDocument(ctx, h.Name(), fields.Clone())
		if err != nil {
			logCtx.Error("Document save failed", "error", err)
			return "", err
		}
		logCtx.Info("Document saved", "repositoryId", id)
		return id, nil
	}

	id, err := g.Target.CommitPage(ctx, h.Name(), pageKey, fields.Clone())
	if err != nil {
		logCtx.Error("Page upload failed", "error", err)
		return "", err
	}
	if err := g.Lifecycle.MarkProcessed(h, pageKey, id); err != nil {
		// The write happened; the handle may have been closed meanwhile.
		logCtx.Warn("Uploaded page could not be marked processed", "repositoryId", id, "error", err)
		return id, nil
	}
	logCtx.Info("Page uploaded", "repositoryId", id)
	return id, nil
}

func (g *UploadGate) ensureEditable(ctx context.Context, candidate models.RevisionCandidate) error {
	if len(candidate.ExistingVersions) > 0 && !CanEdit(candidate.ExistingVersions) {
		latest := candidate.ExistingVersions[0]
		return domainError(ErrConflict,
			fmt.Sprintf("item %s is locked while its latest version is %s", candidate.ItemID, latest.ModerationStatus),
			latest.ModerationStatus)
	}
	if g.Guard == nil {
		return nil
	}
	return g.Guard.EnsureEditable(ctx, candidate.ItemID)
}

func (g *UploadGate) validate(fields models.Fields, pageKey string) error {
	scope := ScopePage
	if pageKey == "" {
		scope = ScopeDocument
	}
	details := ValidationDetails{Missing: MissingRequiredFields(fields, scope)}
	if g.Validator != nil {
		details.Invalid = g.Validator.Validate(fields)
	}
	for _, k := range models.DateFields {
		if fields.Has(k) {
			if _, err := models.ParseDate(fields.Get(k)); err != nil {
				details.Invalid = append(details.Invalid, k)
			}
		}
	}
	if len(details.Missing) == 0 && len(details.Invalid) == 0 {
		return nil
	}
	return domainError(ErrValidationFailed, describeValidation(details), details)
}

func describeValidation(d ValidationDetails) string {
	msg := ""
	if len(d.Missing) > 0 {
		msg = fmt.Sprintf("missing required fields %v", d.Missing)
	}
	if len(d.Invalid) > 0 {
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("invalid values for %v", d.Invalid)
	}
	return msg
}
