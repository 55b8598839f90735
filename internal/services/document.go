package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// DocumentHandle is the single owner of an open SplitDocument. Every
// mutation goes through update, which serializes pollers, debounced
// propagation and submissions on one lock. Close cancels everything bound
// to the handle.
type DocumentHandle struct {
	mu         sync.Mutex
	doc        models.SplitDocument
	counts     models.PageCounts
	candidate  models.RevisionCandidate
	submitting map[string]struct{}
	closed     bool
	closeHooks []func()

	ctx    context.Context
	cancel context.CancelFunc
}

// OpenDocument creates a handle for the named document with an empty page map.
func OpenDocument(name string) *DocumentHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &DocumentHandle{
		doc: models.SplitDocument{
			Name:         name,
			Pages:        make(map[string]*models.Page),
			CommonFields: models.Fields{},
		},
		submitting: make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Name returns the document name.
func (h *DocumentHandle) Name() string {
	return h.doc.Name
}

// Context is cancelled when the handle is closed.
func (h *DocumentHandle) Context() context.Context {
	return h.ctx
}

// Done is closed when the handle is closed.
func (h *DocumentHandle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Close cancels in-flight polls and pending debounces. It is idempotent.
func (h *DocumentHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	hooks := h.closeHooks
	h.closeHooks = nil
	h.mu.Unlock()

	h.cancel()
	for _, hook := range hooks {
		hook()
	}
}

// Closed reports whether Close has been called.
func (h *DocumentHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// OnClose registers fn to run when the handle closes. When the handle is
// already closed fn runs immediately.
func (h *DocumentHandle) OnClose(fn func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		fn()
		return
	}
	h.closeHooks = append(h.closeHooks, fn)
	h.mu.Unlock()
}

// Snapshot returns a deep copy of the document.
func (h *DocumentHandle) Snapshot() models.SplitDocument {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Clone()
}

// Page returns a copy of one page.
func (h *DocumentHandle) Page(key string) (models.Page, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.doc.Pages[key]
	if !ok {
		return models.Page{}, false
	}
	return *p.Clone(), true
}

// Counts returns the derived page counts of the latest state.
func (h *DocumentHandle) Counts() models.PageCounts {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts
}

// Candidate returns the latest revision candidate computed for the document.
func (h *DocumentHandle) Candidate() models.RevisionCandidate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.candidate
}

func (h *DocumentHandle) setCandidate(c models.RevisionCandidate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.candidate = c
}

// Submitting reports whether a submission for pageKey is in flight.
// The whole-document submission uses the empty key.
func (h *DocumentHandle) Submitting(pageKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.submitting[pageKey]
	return ok
}

// update runs fn under the document lock and recomputes the derived counts.
// It fails with ErrClosed once the handle is closed so that late pollers and
// timers never write into an abandoned document.
func (h *DocumentHandle) update(fn func(doc *models.SplitDocument) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if err := fn(&h.doc); err != nil {
		return err
	}
	h.counts = countPages(h.doc.Pages)
	return nil
}

// beginSubmit claims the submission slot for pageKey. A page's status is
// re-read under the lock: a PROCESSED page returns its repository id without
// claiming, and any other status than READY is refused.
func (h *DocumentHandle) beginSubmit(pageKey string) (committedID string, claimed bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", false, ErrClosed
	}
	if pageKey != "" {
		p, ok := h.doc.Pages[pageKey]
		if !ok {
			return "", false, domainError(ErrNotFound, fmt.Sprintf("page %s not found in %s", pageKey, h.doc.Name), pageKey)
		}
		switch p.Status {
		case models.PageStatusProcessed:
			return p.RepositoryID, false, nil
		case models.PageStatusReady:
		default:
			return "", false, invalidTransition(pageKey, p.Status, models.PageStatusProcessed)
		}
	}
	if _, busy := h.submitting[pageKey]; busy {
		return "", false, domainError(ErrConflict, "a submission is already in progress", pageKey)
	}
	h.submitting[pageKey] = struct{}{}
	return "", true, nil
}

func (h *DocumentHandle) endSubmit(pageKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.submitting, pageKey)
}

func countPages(pages map[string]*models.Page) models.PageCounts {
	var c models.PageCounts
	for _, p := range pages {
		switch p.Status {
		case models.PageStatusNew, models.PageStatusSplit:
			c.Pending++
		case models.PageStatusInOCR:
			c.Processing++
		case models.PageStatusReady:
			c.Ready++
		case models.PageStatusProcessed:
			c.Uploaded++
		case models.PageStatusIgnore:
			c.Skipped++
		}
	}
	return c
}
