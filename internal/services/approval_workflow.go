package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// ApprovalAction names a moderation transition.
type ApprovalAction string

const (
	ActionRequestApproval ApprovalAction = "request_approval"
	ActionApprove         ApprovalAction = "approve"
	ActionReject          ApprovalAction = "reject"
	ActionSchedule        ApprovalAction = "schedule"
)

// SiteRole is an actor's relationship to a destination site.
type SiteRole string

const (
	RoleViewer   SiteRole = "viewer"
	RoleMember   SiteRole = "member"
	RoleApprover SiteRole = "approver"
	RoleOwner    SiteRole = "owner"
)

var roleRank = map[SiteRole]int{
	RoleViewer:   1,
	RoleMember:   2,
	RoleApprover: 3,
	RoleOwner:    4,
}

// Actor is the user on whose behalf a transition runs.
type Actor struct {
	Name      string              `json:"name"`
	SiteRoles map[string]SiteRole `json:"siteRoles,omitempty"`
}

// AutoApproveEligible reports whether actor may bypass moderation on site.
func AutoApproveEligible(actor Actor, site string) bool {
	return roleRank[actor.SiteRoles[site]] >= roleRank[RoleApprover]
}

// VersionRef locates the committed version a transition applies to.
type VersionRef struct {
	ItemID          string   `json:"itemId"`
	Site            string   `json:"site"`
	Location        string   `json:"location,omitempty"`
	CanonicalFolder []string `json:"canonicalFolder,omitempty"`
}

// ApprovalPayload carries the inputs of a transition.
type ApprovalPayload struct {
	Actor        Actor  `json:"actor"`
	Comment      string `json:"comment,omitempty"`
	Reason       string `json:"reason,omitempty"`
	MinorVersion bool   `json:"minorVersion,omitempty"`
}

// ApprovalResult is the new state plus anything the move side effect reported.
type ApprovalResult struct {
	State    models.ApprovalState `json:"state"`
	Location string               `json:"location,omitempty"`
	Warnings []models.JobLogEntry `json:"warnings,omitempty"`
}

// ApprovalWorkflow governs the moderation status of committed versions.
type ApprovalWorkflow struct {
	Target   ModerationTarget
	Versions VersionSource
	Mover    *FolderMover
	Logger   *slog.Logger
}

// NewApprovalWorkflow builds a workflow. mover may be nil when no canonical
// relocation is wanted.
func NewApprovalWorkflow(target ModerationTarget, versions VersionSource, mover *FolderMover, logger *slog.Logger) *ApprovalWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalWorkflow{Target: target, Versions: versions, Mover: mover, Logger: logger}
}

// Transition applies action to a version currently in state current.
func (w *ApprovalWorkflow) Transition(ctx context.Context, ref VersionRef, current models.ModerationStatus, action ApprovalAction, payload ApprovalPayload) (ApprovalResult, error) {
	eligible := AutoApproveEligible(payload.Actor, ref.Site)
	logCtx := w.Logger.With("itemId", ref.ItemID, "action", action, "from", current.String(), "actor", payload.Actor.Name)

	next, comment, err := nextModeration(current, action, payload, eligible)
	if err != nil {
		logCtx.Warn("Moderation transition rejected", "error", err)
		return ApprovalResult{}, err
	}

	result := ApprovalResult{
		State: models.ApprovalState{
			ModerationStatus:    next,
			Comment:             comment,
			AutoApproveEligible: eligible,
		},
		Location: ref.Location,
	}

	// Auto-approval bypass relocates the item into its canonical folder,
	// approving the folder when it did not exist yet.
	relocate := action == ActionApprove && current == models.ModerationDraft && w.Mover != nil && len(ref.CanonicalFolder) > 0
	if relocate && strings.TrimSpace(ref.Location) == "" {
		return ApprovalResult{}, domainError(ErrValidationFailed, "a canonical relocation needs the item's current location", "location")
	}

	if err := w.Target.SetModerationStatus(ctx, ref.ItemID, next, comment); err != nil {
		logCtx.Error("Failed to record moderation status", "error", err)
		return ApprovalResult{}, err
	}
	logCtx.Info("Moderation status changed", "to", next.String())

	if relocate {
		// The status stands even when the move fails; callers get the
		// recorded state back with the relocation error.
		folder, err := w.Mover.EnsureFolder(ctx, ref.CanonicalFolder, true)
		if err != nil {
			logCtx.Error("Approved but canonical folder unavailable", "error", err)
			return result, fmt.Errorf("approved %s but could not prepare its folder: %w", ref.ItemID, err)
		}
		dest := joinLocation(folder.Segments, baseName(ref.Location))
		warnings, err := w.Mover.Move(ctx, ref.Location, dest)
		if err != nil {
			logCtx.Error("Approved but relocation failed", "destination", dest, "error", err)
			return result, fmt.Errorf("approved %s but could not move it to %s: %w", ref.ItemID, dest, err)
		}
		result.Location = dest
		result.Warnings = warnings
	}
	return result, nil
}

func nextModeration(current models.ModerationStatus, action ApprovalAction, p ApprovalPayload, eligible bool) (models.ModerationStatus, string, error) {
	comment := strings.TrimSpace(p.Comment)
	switch action {
	case ActionRequestApproval:
		if current != models.ModerationDraft {
			return 0, "", moderationConflict(current, action)
		}
		if p.MinorVersion && comment == "" {
			return 0, "", domainError(ErrValidationFailed, "a minor version request needs a comment", "comment")
		}
		return models.ModerationPending, comment, nil
	case ActionApprove:
		switch {
		case current == models.ModerationPending:
			return models.ModerationApproved, comment, nil
		case current == models.ModerationDraft && eligible:
			return models.ModerationApproved, comment, nil
		}
		return 0, "", moderationConflict(current, action)
	case ActionReject:
		reason := strings.TrimSpace(p.Reason)
		if reason == "" {
			return 0, "", domainError(ErrValidationFailed, "a rejection needs a reason", "reason")
		}
		if current != models.ModerationPending {
			return 0, "", moderationConflict(current, action)
		}
		return models.ModerationRejected, reason, nil
	case ActionSchedule:
		if current != models.ModerationDraft || !eligible {
			return 0, "", moderationConflict(current, action)
		}
		return models.ModerationScheduled, comment, nil
	default:
		return 0, "", domainError(ErrValidationFailed, fmt.Sprintf("unknown action %q", action), action)
	}
}

func moderationConflict(current models.ModerationStatus, action ApprovalAction) error {
	return domainError(ErrConflict, fmt.Sprintf("cannot %s a version that is %s", action, current), current)
}

// CanEdit reports whether versions (newest first) may be edited.
func CanEdit(versions []models.ItemVersion) bool {
	return len(versions) > 0 && versions[0].ModerationStatus == models.ModerationApproved
}

// EnsureEditable fails with Conflict unless the item's latest version is approved.
func (w *ApprovalWorkflow) EnsureEditable(ctx context.Context, itemID string) error {
	versions, err := w.Versions.ListItemVersions(ctx, itemID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return domainError(ErrNotFound, fmt.Sprintf("item %s has no versions", itemID), itemID)
	}
	if !CanEdit(versions) {
		return domainError(ErrConflict,
			fmt.Sprintf("item %s is locked while its latest version is %s", itemID, versions[0].ModerationStatus),
			versions[0].ModerationStatus)
	}
	return nil
}
