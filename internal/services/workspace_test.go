package services

import (
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

func testWorkspace(repo *fakeRepository) *Workspace {
	return NewWorkspace(
		testCoordinator(repo),
		NewRevisionResolver(repo, ResolverConfig{}, nil, nil, discardLogger()),
		WorkspaceConfig{PropagationQuietPeriod: time.Hour, RevisionDebounce: time.Hour},
		discardLogger(),
	)
}

func TestWorkspaceOpenGetClose(t *testing.T) {
	repo := repoWithRoofPlan()
	repo.setStatuses(splitStatus(models.PageStatusReady))
	w := testWorkspace(repo)
	defer w.CloseAll()

	s, err := w.Open("doc.pdf", false)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := w.Open("doc.pdf", false)
	if again != s {
		t.Fatalf("second Open returned a new session")
	}
	if !waitFor(func() bool { return s.Handle.Counts().Ready == 1 }) {
		t.Fatalf("poll never applied")
	}

	for k, v := range roofPlanFields() {
		if err := s.SetCommonField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	s.Tracker.Flush()
	if !s.Handle.Candidate().MatchFound {
		t.Fatalf("revision match not tracked")
	}

	if !w.Close("doc.pdf") {
		t.Fatalf("Close reported nothing to close")
	}
	if _, err := w.Get("doc.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closed document still open: %v", err)
	}
	if !s.Handle.Closed() {
		t.Fatalf("handle not closed")
	}
}

func TestWorkspaceResumeUnknownIsNotOpened(t *testing.T) {
	repo := newFakeRepository()
	w := testWorkspace(repo)
	if _, err := w.Open("ghost.pdf", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	if _, err := w.Get("ghost.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed open left a session behind")
	}
}
