package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Lllllllleong/drawingmigration/internal/drafts"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/Lllllllleong/drawingmigration/internal/services"
	"github.com/go-chi/chi/v5"
)

type documentView struct {
	Name         string                   `json:"name"`
	TotalPages   int                      `json:"totalPages"`
	Pages        []models.Page            `json:"pages"`
	CommonFields models.Fields            `json:"commonFields,omitempty"`
	Counts       models.PageCounts        `json:"counts"`
	Candidate    models.RevisionCandidate `json:"candidate"`
}

func viewOf(session *services.Session) documentView {
	doc := session.Handle.Snapshot()
	view := documentView{
		Name:         doc.Name,
		TotalPages:   doc.TotalPages,
		Pages:        make([]models.Page, 0, len(doc.Pages)),
		CommonFields: doc.CommonFields,
		Counts:       session.Handle.Counts(),
		Candidate:    session.Handle.Candidate(),
	}
	for _, key := range doc.SortedPageKeys() {
		view.Pages = append(view.Pages, *doc.Pages[key])
	}
	return view
}

type openRequest struct {
	Resumed bool `json:"resumed"`
}

type fieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type transitionRequest struct {
	Status models.PageStatus `json:"status"`
}

type submitRequest struct {
	Fields    map[string]string `json:"fields,omitempty"`
	Confirmed bool              `json:"confirmed"`
}

type moderationRequest struct {
	Action          services.ApprovalAction `json:"action"`
	Site            string                  `json:"site"`
	Location        string                  `json:"location"`
	CanonicalFolder []string                `json:"canonicalFolder,omitempty"`
	services.ApprovalPayload
}

type folderRequest struct {
	Segments    []string `json:"segments"`
	AutoApprove bool     `json:"autoApprove"`
}

type moveRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func fieldKey(label string) (models.FieldKey, error) {
	k, ok := models.FieldKeyForLabel(label)
	if !ok {
		return "", fmt.Errorf("unknown field %q", label)
	}
	return k, nil
}

func parseFields(in map[string]string) (models.Fields, error) {
	if in == nil {
		return nil, nil
	}
	out := make(models.Fields, len(in))
	for label, v := range in {
		k, err := fieldKey(label)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*services.Session, bool) {
	session, err := s.engine.Workspace.Get(documentName(r))
	if err != nil {
		s.respondDomainError(w, r, err)
		return nil, false
	}
	return session, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.engine.Drafts != nil {
		if err := s.engine.Drafts.Ping(r.Context()); err != nil {
			resp["drafts"] = "unavailable"
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.Repository.ListDocumentNames(r.Context())
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": names})
}

func (s *Server) handleOpenDocument(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.engine.Workspace.Open(documentName(r), req.Resumed)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleCloseDocument(w http.ResponseWriter, r *http.Request) {
	name := documentName(r)
	if !s.engine.Workspace.Close(name) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("document %s is not open", name))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleSyncDocument(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	done, err := s.engine.Workspace.Coordinator.Sync(r.Context(), session.Handle)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"complete": done, "document": viewOf(session)})
}

func (s *Server) handleSetCommonField(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req fieldRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k, err := fieldKey(req.Field)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := session.SetCommonField(k, req.Value); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleSetPageField(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req fieldRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k, err := fieldKey(req.Field)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := session.SetPageField(chi.URLParam(r, "page"), k, req.Value); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleTransitionPage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil || req.Status == "" {
		s.respondError(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := s.engine.Lifecycle.Transition(session.Handle, chi.URLParam(r, "page"), req.Status); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleSkipPage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.engine.Lifecycle.Skip(session.Handle, chi.URLParam(r, "page")); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleReopenPage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.engine.Lifecycle.Reopen(session.Handle, chi.URLParam(r, "page")); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

// handleEvaluateRevision runs the lookup now instead of waiting for the
// debounce. ?page= selects a page's fields; otherwise the document's.
func (s *Server) handleEvaluateRevision(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	fields := session.Handle.Snapshot().CommonFields
	if key := r.URL.Query().Get("page"); key != "" {
		page, found := session.Handle.Page(key)
		if !found {
			s.respondError(w, http.StatusNotFound, fmt.Sprintf("page %s not found", key))
			return
		}
		fields = page.Fields()
	}
	candidate, err := session.Tracker.Refresh(r.Context(), fields)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, candidate)
}

func (s *Server) handleSubmitPage(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, chi.URLParam(r, "page"))
}

func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "")
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, pageKey string) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fields, err := parseFields(req.Fields)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	// Settle pending propagation and lookups so the gate sees current state.
	session.Propagator.Flush()
	session.Tracker.Flush()

	id, err := s.engine.Gate.Submit(r.Context(), session.Handle, pageKey, fields, req.Confirmed)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"repositoryId": id, "document": viewOf(session)})
}

func (s *Server) drafts(w http.ResponseWriter) (*drafts.RedisStore, bool) {
	if s.engine.Drafts == nil {
		s.respondError(w, http.StatusServiceUnavailable, "drafts are not configured")
		return nil, false
	}
	return s.engine.Drafts, true
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	store, ok := s.drafts(w)
	if !ok {
		return
	}
	names, err := store.List(r.Context())
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"drafts": names})
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	store, ok := s.drafts(w)
	if !ok {
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	session.Propagator.Flush()
	if err := store.Save(r.Context(), session.Handle.Snapshot()); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleRestoreDraft(w http.ResponseWriter, r *http.Request) {
	store, ok := s.drafts(w)
	if !ok {
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	saved, err := store.Load(r.Context(), session.Handle.Name())
	if errors.Is(err, drafts.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if err := session.Propagator.Restore(saved); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	session.Tracker.FieldsChanged(session.Handle.Snapshot().CommonFields)
	s.respondJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	store, ok := s.drafts(w)
	if !ok {
		return
	}
	if err := store.Delete(r.Context(), documentName(r)); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	versions, err := s.engine.Repository.ListItemVersions(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"itemId":   id,
		"versions": versions,
		"editable": services.CanEdit(versions),
	})
}

// handleModeration applies an action to the item's latest version.
func (s *Server) handleModeration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req moderationRequest
	if err := decodeBody(r, &req); err != nil || req.Action == "" {
		s.respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	versions, err := s.engine.Repository.ListItemVersions(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if len(versions) == 0 {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("item %s has no versions", id))
		return
	}
	ref := services.VersionRef{
		ItemID:          id,
		Site:            req.Site,
		Location:        req.Location,
		CanonicalFolder: req.CanonicalFolder,
	}
	result, err := s.engine.Approvals.Transition(r.Context(), ref, versions[0].ModerationStatus, req.Action, req.ApprovalPayload)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleEnsureFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	folder, err := s.engine.Mover.EnsureFolder(r.Context(), req.Segments, req.AutoApprove)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if folder.Created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, folder)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeBody(r, &req); err != nil || req.Source == "" || req.Destination == "" {
		s.respondError(w, http.StatusBadRequest, "source and destination are required")
		return
	}
	warnings, err := s.engine.Mover.Move(r.Context(), req.Source, req.Destination)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "moved", "warnings": warnings})
}
