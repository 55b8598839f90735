package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// WorkspaceConfig holds the per-document timings.
type WorkspaceConfig struct {
	PropagationQuietPeriod time.Duration
	RevisionDebounce       time.Duration
}

// Session is everything bound to one open document.
type Session struct {
	Handle     *DocumentHandle
	Propagator *MetadataPropagator
	Tracker    *RevisionTracker
}

// SetCommonField changes a document-level field and re-runs the revision
// lookup against the document fields.
func (s *Session) SetCommonField(field models.FieldKey, value string) error {
	if err := s.Propagator.OnFieldChanged(field, value); err != nil {
		return err
	}
	s.Tracker.FieldsChanged(s.Handle.Snapshot().CommonFields)
	return nil
}

// SetPageField changes one page's field and re-runs the revision lookup
// against that page's effective fields.
func (s *Session) SetPageField(pageKey string, field models.FieldKey, value string) error {
	if err := s.Propagator.SetPageField(pageKey, field, value); err != nil {
		return err
	}
	page, ok := s.Handle.Page(pageKey)
	if ok {
		s.Tracker.FieldsChanged(page.Fields())
	}
	return nil
}

// Workspace tracks the documents open in this process.
type Workspace struct {
	Config      WorkspaceConfig
	Coordinator *SplitJobCoordinator
	Resolver    *RevisionResolver
	Logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewWorkspace creates an empty workspace.
func NewWorkspace(coordinator *SplitJobCoordinator, resolver *RevisionResolver, cfg WorkspaceConfig, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		Config:      cfg,
		Coordinator: coordinator,
		Resolver:    resolver,
		Logger:      logger,
		sessions:    make(map[string]*Session),
	}
}

// Open returns the session for name, opening it and starting the split job
// poll when it is not open yet.
func (w *Workspace) Open(name string, resumed bool) (*Session, error) {
	w.mu.Lock()
	if s, ok := w.sessions[name]; ok {
		w.mu.Unlock()
		return s, nil
	}
	h := OpenDocument(name)
	s := &Session{
		Handle:     h,
		Propagator: NewMetadataPropagator(h, w.Config.PropagationQuietPeriod, w.Logger),
		Tracker:    NewRevisionTracker(w.Resolver, h, w.Config.RevisionDebounce),
	}
	w.sessions[name] = s
	w.mu.Unlock()

	if err := w.Coordinator.StartOrResume(h, resumed); err != nil {
		w.Close(name)
		return nil, err
	}
	w.Logger.Info("Document opened", "documentName", name, "resumed", resumed)
	return s, nil
}

// Get returns an open session.
func (w *Workspace) Get(name string) (*Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[name]
	if !ok {
		return nil, domainError(ErrNotFound, fmt.Sprintf("document %s is not open", name), name)
	}
	return s, nil
}

// Close cancels everything bound to the document and forgets it.
func (w *Workspace) Close(name string) bool {
	w.mu.Lock()
	s, ok := w.sessions[name]
	delete(w.sessions, name)
	w.mu.Unlock()
	if !ok {
		return false
	}
	s.Handle.Close()
	w.Logger.Info("Document closed", "documentName", name)
	return true
}

// CloseAll closes every open document.
func (w *Workspace) CloseAll() {
	w.mu.Lock()
	names := make([]string, 0, len(w.sessions))
	for name := range w.sessions {
		names = append(names, name)
	}
	w.mu.Unlock()
	for _, name := range names {
		w.Close(name)
	}
}
