package services

import (
	"fmt"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// statusRank orders the forward path. IGNORE sits outside it.
var statusRank = map[models.PageStatus]int{
	models.PageStatusNew:       0,
	models.PageStatusSplit:     1,
	models.PageStatusInOCR:     2,
	models.PageStatusReady:     3,
	models.PageStatusProcessed: 4,
}

var transitions = map[models.PageStatus][]models.PageStatus{
	models.PageStatusNew:       {models.PageStatusSplit, models.PageStatusIgnore},
	models.PageStatusSplit:     {models.PageStatusInOCR, models.PageStatusIgnore},
	models.PageStatusInOCR:     {models.PageStatusReady, models.PageStatusIgnore},
	models.PageStatusReady:     {models.PageStatusProcessed, models.PageStatusIgnore},
	models.PageStatusIgnore:    {models.PageStatusReady},
	models.PageStatusProcessed: nil,
}

// Transitions returns a copy of the allowed page transition table.
func Transitions() map[models.PageStatus][]models.PageStatus {
	out := make(map[models.PageStatus][]models.PageStatus, len(transitions))
	for from, to := range transitions {
		out[from] = append([]models.PageStatus(nil), to...)
	}
	return out
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to models.PageStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RequirementScope selects which required-field rule set applies.
type RequirementScope int

const (
	ScopePage RequirementScope = iota
	ScopeDocument
)

// MissingRequiredFields returns the required fields that are blank in fields.
func MissingRequiredFields(fields models.Fields, scope RequirementScope) []models.FieldKey {
	var required []models.FieldKey
	switch scope {
	case ScopeDocument:
		required = []models.FieldKey{
			models.FieldDocumentType,
			models.FieldBusinessUnit,
			models.FieldDepartment,
			models.FieldSite,
		}
	default:
		required = []models.FieldKey{models.FieldTitle, models.FieldDrawingNumber}
		if fields.Get(models.FieldDocumentType) == models.DocumentTypeDrawing {
			required = append(required,
				models.FieldRevision,
				models.FieldDrawingDate,
				models.FieldReceivedDate,
			)
		}
	}

	var missing []models.FieldKey
	for _, k := range required {
		if !fields.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// PageLifecycle applies transitions to the pages of an open document.
type PageLifecycle struct{}

// Transition moves a page along the table. Moving to PROCESSED is reserved
// for MarkProcessed and moving to IGNORE for Skip.
func (PageLifecycle) Transition(h *DocumentHandle, pageKey string, to models.PageStatus) error {
	switch to {
	case models.PageStatusProcessed:
		return domainError(ErrConflict, "pages are only marked processed by a successful upload", pageKey)
	case models.PageStatusIgnore:
		return PageLifecycle{}.Skip(h, pageKey)
	}
	return h.update(func(doc *models.SplitDocument) error {
		page, err := lookupPage(doc, pageKey)
		if err != nil {
			return err
		}
		if page.Status == to {
			return nil
		}
		if !CanTransition(page.Status, to) {
			return invalidTransition(pageKey, page.Status, to)
		}
		page.Status = to
		return nil
	})
}

// CanSkip reports whether the page may move to IGNORE.
func CanSkip(page *models.Page) bool {
	if page.Status == models.PageStatusProcessed {
		return false
	}
	for _, k := range models.SkipBlockingFields {
		if page.UniqueFields.Has(k) {
			return false
		}
	}
	return true
}

// Skip moves a page to IGNORE when nothing has been entered on it yet.
func (PageLifecycle) Skip(h *DocumentHandle, pageKey string) error {
	return h.update(func(doc *models.SplitDocument) error {
		page, err := lookupPage(doc, pageKey)
		if err != nil {
			return err
		}
		if page.Status == models.PageStatusIgnore {
			return nil
		}
		if page.Status == models.PageStatusProcessed {
			return invalidTransition(pageKey, page.Status, models.PageStatusIgnore)
		}
		if !CanSkip(page) {
			return domainError(ErrConflict, "page already has data entered; clear it before skipping", pageKey)
		}
		page.Status = models.PageStatusIgnore
		return nil
	})
}

// Reopen returns a skipped page to READY so data can be re-entered.
func (PageLifecycle) Reopen(h *DocumentHandle, pageKey string) error {
	return h.update(func(doc *models.SplitDocument) error {
		page, err := lookupPage(doc, pageKey)
		if err != nil {
			return err
		}
		if page.Status != models.PageStatusIgnore {
			return invalidTransition(pageKey, page.Status, models.PageStatusReady)
		}
		page.Status = models.PageStatusReady
		return nil
	})
}

// MarkProcessed records a successful upload. It is only valid from READY;
// a page already PROCESSED is left alone.
func (PageLifecycle) MarkProcessed(h *DocumentHandle, pageKey, repositoryID string) error {
	return h.update(func(doc *models.SplitDocument) error {
		page, err := lookupPage(doc, pageKey)
		if err != nil {
			return err
		}
		switch page.Status {
		case models.PageStatusProcessed:
			return nil
		case models.PageStatusReady:
			page.Status = models.PageStatusProcessed
			page.RepositoryID = repositoryID
			return nil
		default:
			return invalidTransition(pageKey, page.Status, models.PageStatusProcessed)
		}
	})
}

// ApplySnapshot replaces the page map with the repository's view. The page
// set and server-owned attributes come from the snapshot; user fields and
// local terminal states survive, and no page status moves backwards.
func (PageLifecycle) ApplySnapshot(h *DocumentHandle, status models.SplitStatus) error {
	return h.update(func(doc *models.SplitDocument) error {
		applySnapshot(doc, status)
		return nil
	})
}

func applySnapshot(doc *models.SplitDocument, status models.SplitStatus) {
	next := make(map[string]*models.Page, len(status.Pages))
	for key, remote := range status.Pages {
		page := &models.Page{
			Key:             key,
			PageNumber:      remote.PageNumber,
			Status:          remote.Status,
			SuggestedValues: remote.SuggestedValues,
			RenderedImage:   remote.RenderedImage,
			DocumentURI:     remote.DocumentURI,
			RepositoryID:    remote.RepositoryID,
			CommonFields:    doc.CommonFields.Clone(),
			UniqueFields:    models.Fields{},
		}
		if local, ok := doc.Pages[key]; ok {
			page.UniqueFields = local.UniqueFields.Clone()
			page.Status = mergeStatus(local.Status, remote.Status)
			if page.RepositoryID == "" {
				page.RepositoryID = local.RepositoryID
			}
			if page.RenderedImage == "" {
				page.RenderedImage = local.RenderedImage
			}
		}
		next[key] = page
	}
	doc.Pages = next
	if status.PageCount > 0 {
		doc.TotalPages = status.PageCount
	} else {
		doc.TotalPages = len(next)
	}
}

// mergeStatus combines the locally known status with a polled one.
func mergeStatus(local, remote models.PageStatus) models.PageStatus {
	switch local {
	case models.PageStatusProcessed, models.PageStatusIgnore:
		return local
	}
	if remote == models.PageStatusIgnore {
		return remote
	}
	lr, lok := statusRank[local]
	rr, rok := statusRank[remote]
	if !rok {
		return local
	}
	if !lok || rr > lr {
		// Only a local write may mark a page processed.
		if remote == models.PageStatusProcessed && local != models.PageStatusReady {
			return models.PageStatusReady
		}
		return remote
	}
	return local
}

// Interactive reports whether the page can be expanded for data entry.
// READY and IGNORE pages need a rendered image first.
func Interactive(page *models.Page) bool {
	switch page.Status {
	case models.PageStatusReady, models.PageStatusIgnore:
		return page.RenderedImage != ""
	default:
		return false
	}
}

func lookupPage(doc *models.SplitDocument, pageKey string) (*models.Page, error) {
	page, ok := doc.Pages[pageKey]
	if !ok {
		return nil, domainError(ErrNotFound, fmt.Sprintf("page %s not found in %s", pageKey, doc.Name), pageKey)
	}
	return page, nil
}

func invalidTransition(pageKey string, from, to models.PageStatus) error {
	return domainError(ErrConflict,
		fmt.Sprintf("page %s cannot move from %s to %s", pageKey, from, to),
		map[string]models.PageStatus{"from": from, "to": to})
}
