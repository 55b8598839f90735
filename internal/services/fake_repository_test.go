package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRepository struct {
	mu sync.Mutex

	names       []string
	splitStarts int
	splitErr    error
	statuses    []models.SplitStatus
	statusErr   error
	statusCalls int

	searchRows    []models.SearchRow
	searchFilters []string
	searchErr     error
	searchHook    func()
	versions      map[string][]models.ItemVersion

	commits   int
	commitErr error
	saves     int

	moderation    map[string]models.ModerationStatus
	comments      map[string]string
	moderationErr error

	folders       map[string]bool
	folderCalls   int
	failFolderAt  string
	jobs          int
	jobLogs       [][]models.JobLogEntry
	pollCalls     int
	startCopyHook func()
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		versions:   make(map[string][]models.ItemVersion),
		moderation: make(map[string]models.ModerationStatus),
		comments:   make(map[string]string),
		folders:    make(map[string]bool),
	}
}

func (f *fakeRepository) ListDocumentNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...), nil
}

func (f *fakeRepository) StartSplitJob(ctx context.Context, docName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.splitStarts++
	return f.splitErr
}

// GetSplitStatus replays statuses in order and then repeats the last one.
func (f *fakeRepository) GetSplitStatus(ctx context.Context, docName string) (models.SplitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return models.SplitStatus{}, f.statusErr
	}
	if len(f.statuses) == 0 {
		return models.SplitStatus{}, nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeRepository) SearchItems(ctx context.Context, filter string, selectFields []string, rowLimit int) ([]models.SearchRow, error) {
	f.mu.Lock()
	hook := f.searchHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchFilters = append(f.searchFilters, filter)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	rows := f.searchRows
	if len(rows) > rowLimit {
		rows = rows[:rowLimit]
	}
	return rows, nil
}

func (f *fakeRepository) ListItemVersions(ctx context.Context, itemID string) ([]models.ItemVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ItemVersion(nil), f.versions[itemID]...), nil
}

func (f *fakeRepository) CommitPage(ctx context.Context, docName, pageKey string, fields models.Fields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.commits++
	return fmt.Sprintf("item-%s-%s", docName, pageKey), nil
}

func (f *fakeRepository) SaveDocument(ctx context.Context, docName string, fields models.Fields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.saves++
	return "saved-" + docName, nil
}

func (f *fakeRepository) SetModerationStatus(ctx context.Context, itemID string, status models.ModerationStatus, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moderationErr != nil {
		return f.moderationErr
	}
	f.moderation[itemID] = status
	f.comments[itemID] = comment
	return nil
}

func (f *fakeRepository) EnsureFolder(ctx context.Context, segments []string) (models.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folderCalls++
	key := strings.Join(segments, "/")
	if key == f.failFolderAt {
		return models.Folder{}, fmt.Errorf("access denied creating %s", key)
	}
	if len(segments) > 1 && !f.folders[strings.Join(segments[:len(segments)-1], "/")] {
		return models.Folder{}, fmt.Errorf("parent of %s does not exist", key)
	}
	created := !f.folders[key]
	f.folders[key] = true
	return models.Folder{ID: "folder:" + key, Segments: segments, Created: created}, nil
}

func (f *fakeRepository) StartCopyJob(ctx context.Context, sourceURI, destURI string, opts models.CopyJobOptions) (models.CopyJob, error) {
	f.mu.Lock()
	f.jobs++
	id := fmt.Sprintf("job-%d", f.jobs)
	hook := f.startCopyHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return models.CopyJob{
		JobID:          id,
		EncryptionKey:  "key",
		ProgressURI:    "progress",
		SourceURI:      sourceURI,
		DestinationURI: destURI,
	}, nil
}

// PollCopyJob returns the cumulative log after each scripted batch.
func (f *fakeRepository) PollCopyJob(ctx context.Context, job models.CopyJob) ([]models.JobLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	var out []models.JobLogEntry
	for i := 0; i < f.pollCalls && i < len(f.jobLogs); i++ {
		out = append(out, f.jobLogs[i]...)
	}
	return out, nil
}

func (f *fakeRepository) setStatuses(s ...models.SplitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = s
}

func (f *fakeRepository) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func entry(event models.JobEvent, msg string) models.JobLogEntry {
	return models.JobLogEntry{Event: event, Time: time.Unix(0, 0), Message: msg}
}

func splitStatus(statuses ...models.PageStatus) models.SplitStatus {
	s := models.SplitStatus{PageCount: len(statuses), Pages: make(map[string]models.SplitPageStatus)}
	for i, st := range statuses {
		key := models.PageKey(i + 1)
		s.Pages[key] = models.SplitPageStatus{
			Status:        st,
			PageNumber:    i + 1,
			DocumentURI:   "gs://pages/" + key + ".pdf",
			RenderedImage: "gs://pages/" + key + ".png",
		}
	}
	return s
}

// openWith returns a handle already holding the pages of status.
func openWith(name string, status models.SplitStatus) *DocumentHandle {
	h := OpenDocument(name)
	_ = h.update(func(doc *models.SplitDocument) error {
		applySnapshot(doc, status)
		return nil
	})
	return h
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
