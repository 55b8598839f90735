package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/bootstrap"
	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/Lllllllleong/drawingmigration/internal/drafts"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/alicebob/miniredis/v2"
)

type stubRepository struct {
	mu         sync.Mutex
	matchID    string
	commits    []string
	moderation map[string]models.ModerationStatus
	versions   map[string][]models.ItemVersion
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		moderation: make(map[string]models.ModerationStatus),
		versions:   make(map[string][]models.ItemVersion),
	}
}

func (s *stubRepository) ListDocumentNames(ctx context.Context) ([]string, error) {
	return []string{"roof.pdf"}, nil
}

func (s *stubRepository) StartSplitJob(ctx context.Context, docName string) error {
	return nil
}

func (s *stubRepository) GetSplitStatus(ctx context.Context, docName string) (models.SplitStatus, error) {
	return models.SplitStatus{
		PageCount: 2,
		Pages: map[string]models.SplitPageStatus{
			models.PageKey(1): {Status: models.PageStatusReady, PageNumber: 1},
			models.PageKey(2): {Status: models.PageStatusReady, PageNumber: 2},
		},
	}, nil
}

func (s *stubRepository) SearchItems(ctx context.Context, filter string, selectFields []string, rowLimit int) ([]models.SearchRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchID == "" {
		return nil, nil
	}
	return []models.SearchRow{{Cells: []models.SearchCell{{Key: "id", Value: s.matchID}}}}, nil
}

func (s *stubRepository) ListItemVersions(ctx context.Context, itemID string) ([]models.ItemVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[itemID], nil
}

func (s *stubRepository) CommitPage(ctx context.Context, docName, pageKey string, fields models.Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, pageKey)
	return "item-" + pageKey, nil
}

func (s *stubRepository) SaveDocument(ctx context.Context, docName string, fields models.Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, docName)
	return "item-doc", nil
}

func (s *stubRepository) SetModerationStatus(ctx context.Context, itemID string, status models.ModerationStatus, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderation[itemID] = status
	return nil
}

func (s *stubRepository) EnsureFolder(ctx context.Context, segments []string) (models.Folder, error) {
	return models.Folder{ID: "folder", Segments: segments, Created: true}, nil
}

func (s *stubRepository) StartCopyJob(ctx context.Context, sourceURI, destURI string, opts models.CopyJobOptions) (models.CopyJob, error) {
	return models.CopyJob{JobID: "job-1", SourceURI: sourceURI, DestinationURI: destURI}, nil
}

func (s *stubRepository) PollCopyJob(ctx context.Context, job models.CopyJob) ([]models.JobLogEntry, error) {
	return []models.JobLogEntry{{Event: models.JobStart}, {Event: models.JobEnd}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		RevisionSuccessor:      "first-char",
		SearchRowLimit:         5,
		SplitPollInterval:      10 * time.Millisecond,
		PropagationQuietPeriod: 5 * time.Millisecond,
		RevisionDebounce:       5 * time.Millisecond,
		CopyJobPollInterval:    5 * time.Millisecond,
		CopyJobTimeout:         time.Second,
	}
}

func setupServer(t *testing.T) (*httptest.Server, *stubRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := drafts.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create drafts store: %v", err)
	}
	repo := newStubRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := bootstrap.NewEngine(testConfig(), repo, nil, store, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ts := httptest.NewServer(NewServer(engine, logger).Routes())
	t.Cleanup(func() {
		ts.Close()
		engine.Workspace.CloseAll()
		store.Close()
	})
	return ts, repo
}

func call(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func openReady(t *testing.T, ts *httptest.Server) {
	t.Helper()
	if code, body := call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/open", nil); code != http.StatusOK {
		t.Fatalf("open: %d %v", code, body)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := call(t, ts, http.MethodGet, "/api/v1/documents/roof.pdf", nil)
		if counts, ok := body["counts"].(map[string]interface{}); ok && counts["ready"] == float64(2) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pages never became ready")
}

func TestHealth(t *testing.T) {
	ts, _ := setupServer(t)
	code, body := call(t, ts, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}
}

func TestGetUnopenedDocument(t *testing.T) {
	ts, _ := setupServer(t)
	code, body := call(t, ts, http.MethodGet, "/api/v1/documents/roof.pdf", nil)
	if code != http.StatusNotFound || body["kind"] != "not_found" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestPageSubmission(t *testing.T) {
	ts, repo := setupServer(t)
	openReady(t, ts)
	page := "/api/v1/documents/roof.pdf/pages/page-00001"

	code, body := call(t, ts, http.MethodPost, page+"/submit", map[string]interface{}{})
	if code != http.StatusUnprocessableEntity || body["kind"] != "validation_failed" {
		t.Fatalf("submit without fields: %d %v", code, body)
	}

	for label, value := range map[string]string{"Title": "Roof Plan", "drawingNumber": "A-1"} {
		if code, body := call(t, ts, http.MethodPut, page+"/fields", map[string]string{"field": label, "value": value}); code != http.StatusOK {
			t.Fatalf("set %s: %d %v", label, code, body)
		}
	}
	if code, _ := call(t, ts, http.MethodPut, page+"/fields", map[string]string{"field": "Colour", "value": "red"}); code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown field accepted: %d", code)
	}

	code, body = call(t, ts, http.MethodPost, page+"/submit", map[string]interface{}{})
	if code != http.StatusOK || body["repositoryId"] != "item-page-00001" {
		t.Fatalf("submit: %d %v", code, body)
	}
	code, body = call(t, ts, http.MethodPost, page+"/submit", map[string]interface{}{})
	if code != http.StatusOK || body["repositoryId"] != "item-page-00001" {
		t.Fatalf("second submit: %d %v", code, body)
	}
	repo.mu.Lock()
	commits := len(repo.commits)
	repo.mu.Unlock()
	if commits != 1 {
		t.Fatalf("commits = %d, want 1", commits)
	}

	if code, body := call(t, ts, http.MethodPost, page+"/skip", nil); code != http.StatusConflict {
		t.Fatalf("skip of processed page: %d %v", code, body)
	}
	if code, _ := call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/pages/page-00009/skip", nil); code != http.StatusNotFound {
		t.Fatalf("skip of unknown page: %d", code)
	}
	if code, body := call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/pages/page-00002/skip", nil); code != http.StatusOK {
		t.Fatalf("skip: %d %v", code, body)
	}
}

func TestDocumentSubmitNeedsConfirmationOnMatch(t *testing.T) {
	ts, repo := setupServer(t)
	repo.matchID = "item-9"
	repo.versions["item-9"] = []models.ItemVersion{{RevisionMarker: "B", ModerationStatus: models.ModerationApproved}}
	openReady(t, ts)

	fields := map[string]string{
		"Document Type":  "Drawing",
		"Title":          "Roof Plan",
		"Business Unit":  "B1",
		"Department":     "Civil",
		"Site":           "North",
		"Drawing Number": "A-1",
		"Area":           "Zone 1",
	}
	for label, value := range fields {
		if code, body := call(t, ts, http.MethodPut, "/api/v1/documents/roof.pdf/fields", map[string]string{"field": label, "value": value}); code != http.StatusOK {
			t.Fatalf("set %s: %d %v", label, code, body)
		}
	}

	code, body := call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/revision", nil)
	if code != http.StatusOK || body["matchFound"] != true || body["nextRevisionToken"] != "C" {
		t.Fatalf("revision: %d %v", code, body)
	}

	code, body = call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/submit", map[string]interface{}{"confirmed": false})
	if code != http.StatusConflict {
		t.Fatalf("unconfirmed submit: %d %v", code, body)
	}
	details, _ := body["details"].(map[string]interface{})
	if details["itemId"] != "item-9" || details["nextRevisionToken"] != "C" {
		t.Fatalf("details = %v", details)
	}

	code, body = call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/submit", map[string]interface{}{"confirmed": true})
	if code != http.StatusOK || body["repositoryId"] != "item-doc" {
		t.Fatalf("confirmed submit: %d %v", code, body)
	}
}

func TestDraftRoundTrip(t *testing.T) {
	ts, _ := setupServer(t)
	openReady(t, ts)

	if code, body := call(t, ts, http.MethodPut, "/api/v1/documents/roof.pdf/fields", map[string]string{"field": "Site", "value": "North"}); code != http.StatusOK {
		t.Fatalf("set site: %d %v", code, body)
	}
	if code, body := call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/drafts", nil); code != http.StatusOK {
		t.Fatalf("save draft: %d %v", code, body)
	}
	code, body := call(t, ts, http.MethodGet, "/api/v1/drafts", nil)
	if names, _ := body["drafts"].([]interface{}); code != http.StatusOK || len(names) != 1 || names[0] != "roof.pdf" {
		t.Fatalf("list drafts: %d %v", code, body)
	}

	if code, _ := call(t, ts, http.MethodDelete, "/api/v1/documents/roof.pdf", nil); code != http.StatusOK {
		t.Fatalf("close: %d", code)
	}
	openReady(t, ts)
	code, body = call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/drafts/restore", nil)
	if code != http.StatusOK {
		t.Fatalf("restore: %d %v", code, body)
	}
	common, _ := body["commonFields"].(map[string]interface{})
	if common["site"] != "North" {
		t.Fatalf("restored common fields = %v", common)
	}

	if code, _ := call(t, ts, http.MethodDelete, "/api/v1/documents/roof.pdf/drafts", nil); code != http.StatusOK {
		t.Fatalf("delete draft: %d", code)
	}
	if code, _ := call(t, ts, http.MethodPost, "/api/v1/documents/roof.pdf/drafts/restore", nil); code != http.StatusNotFound {
		t.Fatalf("restore after delete: %d", code)
	}
}

func TestModeration(t *testing.T) {
	ts, repo := setupServer(t)
	repo.versions["item-1"] = []models.ItemVersion{{RevisionMarker: "A", ModerationStatus: models.ModerationDraft}}

	code, body := call(t, ts, http.MethodPost, "/api/v1/items/item-1/moderation", map[string]interface{}{
		"action": "approve",
		"site":   "North",
		"actor":  map[string]interface{}{"name": "sam", "siteRoles": map[string]string{"North": "member"}},
	})
	if code != http.StatusConflict {
		t.Fatalf("member approving a draft: %d %v", code, body)
	}

	code, body = call(t, ts, http.MethodPost, "/api/v1/items/item-1/moderation", map[string]interface{}{
		"action":          "approve",
		"site":            "North",
		"location":        "/drafts/item-1.pdf",
		"canonicalFolder": []string{"North", "Civil"},
		"actor":           map[string]interface{}{"name": "ana", "siteRoles": map[string]string{"North": "approver"}},
	})
	if code != http.StatusOK || body["location"] != "/North/Civil/item-1.pdf" {
		t.Fatalf("auto-approve: %d %v", code, body)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if st, ok := repo.moderation["item-1"]; !ok || st != models.ModerationApproved {
		t.Fatalf("moderation = %v, %v", st, ok)
	}

	if code, _ := call(t, ts, http.MethodPost, "/api/v1/items/unknown/moderation", map[string]interface{}{"action": "approve"}); code != http.StatusNotFound {
		t.Fatalf("unknown item: %d", code)
	}
}

func TestFolderAndMove(t *testing.T) {
	ts, _ := setupServer(t)
	code, body := call(t, ts, http.MethodPost, "/api/v1/folders", map[string]interface{}{"segments": []string{"North", "Civil"}})
	if code != http.StatusCreated || body["created"] != true {
		t.Fatalf("ensure folder: %d %v", code, body)
	}
	if code, _ := call(t, ts, http.MethodPost, "/api/v1/folders", map[string]interface{}{"segments": []string{" "}}); code != http.StatusUnprocessableEntity {
		t.Fatalf("empty folder path: %d", code)
	}
	code, body = call(t, ts, http.MethodPost, "/api/v1/moves", map[string]string{"source": "/a/x.pdf", "destination": "/b/x.pdf"})
	if code != http.StatusOK || body["status"] != "moved" {
		t.Fatalf("move: %d %v", code, body)
	}
}
