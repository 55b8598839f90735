package services

import (
	"errors"
	"testing"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

func TestTransitionsNeverSkipForward(t *testing.T) {
	table := Transitions()
	for from, targets := range table {
		for _, to := range targets {
			if to == models.PageStatusIgnore || from == models.PageStatusIgnore {
				continue
			}
			if statusRank[to] != statusRank[from]+1 {
				t.Fatalf("transition %s -> %s skips a step", from, to)
			}
		}
	}
	if CanTransition(models.PageStatusNew, models.PageStatusProcessed) {
		t.Fatalf("NEW -> PROCESSED must not be allowed")
	}
	if len(table[models.PageStatusProcessed]) != 0 {
		t.Fatalf("PROCESSED must be terminal, got %v", table[models.PageStatusProcessed])
	}
	// Mutating the copy must not affect the table.
	table[models.PageStatusNew] = append(table[models.PageStatusNew], models.PageStatusProcessed)
	if CanTransition(models.PageStatusNew, models.PageStatusProcessed) {
		t.Fatalf("Transitions returned the live table")
	}
}

func TestTransitionPath(t *testing.T) {
	h := openWith("doc.pdf", splitStatus(models.PageStatusNew))
	key := models.PageKey(1)
	var lc PageLifecycle

	for _, to := range []models.PageStatus{models.PageStatusSplit, models.PageStatusInOCR, models.PageStatusReady} {
		if err := lc.Transition(h, key, to); err != nil {
			t.Fatalf("Transition to %s: %v", to, err)
		}
	}
	if err := lc.Transition(h, key, models.PageStatusProcessed); !errors.Is(err, ErrConflict) {
		t.Fatalf("direct PROCESSED transition: want conflict, got %v", err)
	}
	if err := lc.MarkProcessed(h, key, "item-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := lc.MarkProcessed(h, key, "item-2"); err != nil {
		t.Fatalf("second MarkProcessed should be a no-op: %v", err)
	}
	page, _ := h.Page(key)
	if page.Status != models.PageStatusProcessed || page.RepositoryID != "item-1" {
		t.Fatalf("page = %s/%s, want PROCESSED/item-1", page.Status, page.RepositoryID)
	}
	if err := lc.Transition(h, key, models.PageStatusReady); !errors.Is(err, ErrConflict) {
		t.Fatalf("PROCESSED -> READY: want conflict, got %v", err)
	}
}

func TestMarkProcessedOnlyFromReady(t *testing.T) {
	for _, st := range []models.PageStatus{models.PageStatusNew, models.PageStatusSplit, models.PageStatusInOCR, models.PageStatusIgnore} {
		h := openWith("doc.pdf", splitStatus(st))
		if err := (PageLifecycle{}).MarkProcessed(h, models.PageKey(1), "x"); !errors.Is(err, ErrConflict) {
			t.Fatalf("MarkProcessed from %s: want conflict, got %v", st, err)
		}
	}
}

func TestUnknownPage(t *testing.T) {
	h := openWith("doc.pdf", splitStatus(models.PageStatusReady))
	if err := (PageLifecycle{}).Skip(h, "page-99999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestSkipDisabledOnceDataEntered(t *testing.T) {
	h := openWith("doc.pdf", splitStatus(models.PageStatusReady))
	key := models.PageKey(1)
	p := NewMetadataPropagator(h, 0, discardLogger())
	var lc PageLifecycle

	if err := p.SetPageField(key, models.FieldTitle, "Roof Plan"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetPageField(key, models.FieldDrawingNumber, "D-100"); err != nil {
		t.Fatal(err)
	}
	if err := lc.Skip(h, key); !errors.Is(err, ErrConflict) {
		t.Fatalf("skip with title and number set: want conflict, got %v", err)
	}

	_ = p.SetPageField(key, models.FieldTitle, "")
	_ = p.SetPageField(key, models.FieldDrawingNumber, "")
	if err := lc.Skip(h, key); err != nil {
		t.Fatalf("skip after clearing fields: %v", err)
	}
	if got := h.Counts().Skipped; got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}
	if err := lc.Reopen(h, key); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	page, _ := h.Page(key)
	if page.Status != models.PageStatusReady {
		t.Fatalf("reopened status = %s", page.Status)
	}
}

func TestSkipFromEveryNonProcessedState(t *testing.T) {
	for _, st := range []models.PageStatus{models.PageStatusNew, models.PageStatusSplit, models.PageStatusInOCR, models.PageStatusReady} {
		h := openWith("doc.pdf", splitStatus(st))
		if err := (PageLifecycle{}).Skip(h, models.PageKey(1)); err != nil {
			t.Fatalf("skip from %s: %v", st, err)
		}
	}
	h := openWith("doc.pdf", splitStatus(models.PageStatusReady))
	_ = (PageLifecycle{}).MarkProcessed(h, models.PageKey(1), "x")
	if err := (PageLifecycle{}).Skip(h, models.PageKey(1)); !errors.Is(err, ErrConflict) {
		t.Fatalf("skip from PROCESSED: want conflict, got %v", err)
	}
}

func TestMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		fields models.Fields
		scope  RequirementScope
		want   int
	}{
		{"empty page", models.Fields{}, ScopePage, 2},
		{"drawing page", models.Fields{models.FieldDocumentType: "Drawing"}, ScopePage, 5},
		{"complete drawing", models.Fields{
			models.FieldDocumentType:  "Drawing",
			models.FieldTitle:         "Roof",
			models.FieldDrawingNumber: "D-1",
			models.FieldRevision:      "A",
			models.FieldDrawingDate:   "2024-01-02",
			models.FieldReceivedDate:  "2024-01-03",
		}, ScopePage, 0},
		{"blank values count as missing", models.Fields{models.FieldTitle: "  ", models.FieldDrawingNumber: "D-1"}, ScopePage, 1},
		{"document", models.Fields{models.FieldDocumentType: "Report"}, ScopeDocument, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MissingRequiredFields(tt.fields, tt.scope)
			if len(got) != tt.want {
				t.Fatalf("missing = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestApplySnapshotIsMonotonicOrReset(t *testing.T) {
	h := openWith("doc.pdf", splitStatus(models.PageStatusReady, models.PageStatusReady, models.PageStatusReady))
	var lc PageLifecycle
	_ = lc.MarkProcessed(h, models.PageKey(1), "item-1")
	_ = lc.Skip(h, models.PageKey(2))
	p := NewMetadataPropagator(h, 0, discardLogger())
	_ = p.SetPageField(models.PageKey(3), models.FieldTitle, "kept")

	// A stale poll reports every page as still being read.
	if err := lc.ApplySnapshot(h, splitStatus(models.PageStatusInOCR, models.PageStatusInOCR, models.PageStatusInOCR, models.PageStatusNew)); err != nil {
		t.Fatal(err)
	}
	doc := h.Snapshot()
	want := map[string]models.PageStatus{
		models.PageKey(1): models.PageStatusProcessed,
		models.PageKey(2): models.PageStatusIgnore,
		models.PageKey(3): models.PageStatusReady,
		models.PageKey(4): models.PageStatusNew,
	}
	for key, st := range want {
		if doc.Pages[key].Status != st {
			t.Fatalf("%s = %s, want %s", key, doc.Pages[key].Status, st)
		}
	}
	if doc.Pages[models.PageKey(3)].UniqueFields.Get(models.FieldTitle) != "kept" {
		t.Fatalf("user field lost on snapshot")
	}
	if doc.TotalPages != 4 {
		t.Fatalf("total pages = %d", doc.TotalPages)
	}
	if c := h.Counts(); c.Pending != 1 || c.Ready != 1 || c.Uploaded != 1 || c.Skipped != 1 {
		t.Fatalf("counts = %+v", c)
	}
}

func TestApplySnapshotReplacesPageSet(t *testing.T) {
	h := openWith("doc.pdf", splitStatus(models.PageStatusNew, models.PageStatusNew))
	if err := (PageLifecycle{}).ApplySnapshot(h, splitStatus(models.PageStatusSplit)); err != nil {
		t.Fatal(err)
	}
	doc := h.Snapshot()
	if len(doc.Pages) != 1 {
		t.Fatalf("pages = %d, want the snapshot's 1", len(doc.Pages))
	}
}

func TestApplySnapshotDoesNotInventProcessed(t *testing.T) {
	h := openWith("doc.pdf", splitStatus(models.PageStatusInOCR))
	status := splitStatus(models.PageStatusProcessed)
	if err := (PageLifecycle{}).ApplySnapshot(h, status); err != nil {
		t.Fatal(err)
	}
	page, _ := h.Page(models.PageKey(1))
	if page.Status != models.PageStatusReady {
		t.Fatalf("status = %s, want READY", page.Status)
	}
}

func TestInteractive(t *testing.T) {
	tests := []struct {
		page models.Page
		want bool
	}{
		{models.Page{Status: models.PageStatusReady, RenderedImage: "img"}, true},
		{models.Page{Status: models.PageStatusReady}, false},
		{models.Page{Status: models.PageStatusIgnore, RenderedImage: "img"}, true},
		{models.Page{Status: models.PageStatusInOCR, RenderedImage: "img"}, false},
	}
	for _, tt := range tests {
		if got := Interactive(&tt.page); got != tt.want {
			t.Fatalf("Interactive(%s, %q) = %v", tt.page.Status, tt.page.RenderedImage, got)
		}
	}
}

func TestClosedHandleRejectsUpdates(t *testing.T) {
	h := openWith("doc.pdf", splitStatus(models.PageStatusReady))
	h.Close()
	h.Close()
	if err := (PageLifecycle{}).ApplySnapshot(h, splitStatus(models.PageStatusReady, models.PageStatusReady)); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if len(h.Snapshot().Pages) != 1 {
		t.Fatalf("late snapshot applied after close")
	}
}
