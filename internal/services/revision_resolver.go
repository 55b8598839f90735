package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

const (
	// DefaultRevisionDebounce coalesces bursts of identifying-field edits.
	DefaultRevisionDebounce = 300 * time.Millisecond
	// DefaultSearchRowLimit keeps the advisory search window small.
	DefaultSearchRowLimit = 5

	searchIDField = "id"
)

// RevisionSuccessor derives the next revision marker from the latest one.
type RevisionSuccessor interface {
	Next(marker string) (string, error)
}

// RevisionSuccessorFunc adapts a function to RevisionSuccessor.
type RevisionSuccessorFunc func(marker string) (string, error)

func (f RevisionSuccessorFunc) Next(marker string) (string, error) { return f(marker) }

// FirstCharacterSuccessor increments the first rune of the marker by one
// code point and drops the rest ("B" -> "C", "A1" -> "B").
var FirstCharacterSuccessor = RevisionSuccessorFunc(func(marker string) (string, error) {
	marker = strings.TrimSpace(marker)
	r, _ := utf8.DecodeRuneInString(marker)
	if r == utf8.RuneError {
		return "", fmt.Errorf("revision marker %q has no leading character", marker)
	}
	if !utf8.ValidRune(r + 1) {
		return "", fmt.Errorf("revision marker %q has no successor", marker)
	}
	return string(r + 1), nil
})

// StrictAlphabeticSuccessor only accepts single letters below Z.
var StrictAlphabeticSuccessor = RevisionSuccessorFunc(func(marker string) (string, error) {
	marker = strings.TrimSpace(marker)
	if utf8.RuneCountInString(marker) != 1 {
		return "", fmt.Errorf("revision marker %q is not a single letter", marker)
	}
	r, _ := utf8.DecodeRuneInString(marker)
	if r > unicode.MaxASCII || !unicode.IsLetter(r) {
		return "", fmt.Errorf("revision marker %q is not a letter", marker)
	}
	if r == 'Z' || r == 'z' {
		return "", fmt.Errorf("revision marker %q has no successor", marker)
	}
	return string(r + 1), nil
})

// SuccessorByName resolves a configured successor strategy.
func SuccessorByName(name string) (RevisionSuccessor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "first-char":
		return FirstCharacterSuccessor, nil
	case "strict-alpha":
		return StrictAlphabeticSuccessor, nil
	default:
		return nil, fmt.Errorf("unknown revision successor %q", name)
	}
}

// TermDriven reports fields whose values come from the term store.
type TermDriven interface {
	TermDriven(field models.FieldKey) bool
}

// ResolverConfig holds the search scope and window.
type ResolverConfig struct {
	RowLimit int
	Scope    models.SearchScope
}

// RevisionResolver looks for an existing drawing matching a set of
// identifying fields and proposes the next revision.
type RevisionResolver struct {
	Config    ResolverConfig
	Source    VersionSource
	Successor RevisionSuccessor
	Terms     TermDriven
	Logger    *slog.Logger
}

// NewRevisionResolver fills in defaults for a nil successor or zero window.
func NewRevisionResolver(source VersionSource, cfg ResolverConfig, successor RevisionSuccessor, terms TermDriven, logger *slog.Logger) *RevisionResolver {
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = DefaultSearchRowLimit
	}
	if successor == nil {
		successor = FirstCharacterSuccessor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RevisionResolver{Config: cfg, Source: source, Successor: successor, Terms: terms, Logger: logger}
}

// Eligible reports whether fields identify a drawing precisely enough to search.
func Eligible(fields models.Fields) bool {
	if fields.Get(models.FieldDocumentType) != models.DocumentTypeDrawing {
		return false
	}
	for _, k := range models.IdentifyingFields {
		if !fields.Has(k) {
			return false
		}
	}
	return true
}

// Evaluate computes the revision candidate for fields. Any path that does
// not end in a match returns the zero candidate.
func (r *RevisionResolver) Evaluate(ctx context.Context, fields models.Fields) (models.RevisionCandidate, error) {
	if !Eligible(fields) {
		return models.RevisionCandidate{}, nil
	}
	logCtx := r.Logger.With("title", fields.Get(models.FieldTitle), "drawingNumber", fields.Get(models.FieldDrawingNumber))

	filter := BuildFilterExpression(fields, r.Config.Scope)
	rows, err := r.Source.SearchItems(ctx, filter, []string{searchIDField}, r.Config.RowLimit)
	if err != nil {
		return models.RevisionCandidate{}, err
	}
	itemID := ""
	for _, row := range rows {
		if id := row.Value(searchIDField); id != "" {
			itemID = id
			break
		}
	}
	if itemID == "" {
		return models.RevisionCandidate{}, nil
	}

	versions, err := r.Source.ListItemVersions(ctx, itemID)
	if err != nil {
		return models.RevisionCandidate{}, err
	}
	if len(versions) == 0 {
		logCtx.Info("Matched item has no version history", "itemId", itemID)
		return models.RevisionCandidate{}, nil
	}

	latest := versions[0]
	next, err := r.Successor.Next(latest.RevisionMarker)
	if err != nil {
		// The match stands; the next marker is left for the user to enter.
		logCtx.Warn("Could not derive next revision", "marker", latest.RevisionMarker, "error", err)
		next = ""
	}

	candidate := models.RevisionCandidate{
		MatchFound:           true,
		ItemID:               itemID,
		ExistingVersions:     append([]models.ItemVersion(nil), versions...),
		NextRevisionToken:    next,
		OverwriteWarningText: overwriteWarning(latest.RevisionMarker, next),
		Autofill:             r.autofill(fields, latest.Fields),
	}
	logCtx.Info("Existing drawing found", "itemId", itemID, "latestRevision", latest.RevisionMarker, "nextRevision", next)
	return candidate, nil
}

func (r *RevisionResolver) autofill(current, stored models.Fields) models.Fields {
	out := models.Fields{}
	for _, k := range models.AutofillFields {
		if current.Has(k) || !stored.Has(k) {
			continue
		}
		if r.Terms != nil && r.Terms.TermDriven(k) {
			continue
		}
		out[k] = stored.Get(k)
	}
	return out
}

func overwriteWarning(latest, next string) string {
	if next == "" {
		return fmt.Sprintf("A drawing matching these details already exists (latest revision %s). Uploading will add a new version.", latest)
	}
	return fmt.Sprintf("A drawing matching these details already exists (latest revision %s). Uploading will create revision %s.", latest, next)
}

// BuildFilterExpression joins key="value" clauses for the identifying
// fields with spaces and appends the scope clause.
func BuildFilterExpression(fields models.Fields, scope models.SearchScope) string {
	clauses := make([]string, 0, len(models.IdentifyingFields)+1)
	for _, k := range models.IdentifyingFields {
		clauses = append(clauses, fmt.Sprintf("%s=%s", k, quote(fields.Get(k))))
	}
	if scope.Value != "" {
		field := scope.Field
		if field == "" {
			field = "distribution"
		}
		clause := fmt.Sprintf("%s:%s", field, quote(scope.Value))
		if scope.Exclude {
			clause = "-" + clause
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " ")
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// RevisionTracker re-evaluates a document's candidate after identifying
// fields settle and stores it on the handle. Only the result of the latest
// lookup is stored; a field change cancels the lookup in flight.
type RevisionTracker struct {
	resolver *RevisionResolver
	handle   *DocumentHandle
	debounce *debouncer
	logger   *slog.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewRevisionTracker binds a tracker to h; pending evaluations are dropped
// when h closes.
func NewRevisionTracker(resolver *RevisionResolver, h *DocumentHandle, delay time.Duration) *RevisionTracker {
	if delay <= 0 {
		delay = DefaultRevisionDebounce
	}
	t := &RevisionTracker{
		resolver: resolver,
		handle:   h,
		debounce: newDebouncer(delay),
		logger:   resolver.Logger.With("documentName", h.Name()),
	}
	h.OnClose(func() {
		t.debounce.Stop()
		t.supersede()
	})
	return t
}

// FieldsChanged schedules an evaluation of fields.
func (t *RevisionTracker) FieldsChanged(fields models.Fields) {
	fields = fields.Clone()
	t.supersede()
	if !Eligible(fields) {
		// Advisory state must not outlive the fields it was computed from.
		t.handle.setCandidate(models.RevisionCandidate{})
	}
	t.debounce.Trigger("revision", func() { t.refresh(fields) })
}

// Flush runs a pending evaluation now.
func (t *RevisionTracker) Flush() {
	t.debounce.Flush()
}

// Refresh evaluates fields immediately and stores the result. A lookup
// overtaken by a field change or a later Refresh is discarded and reports
// context.Canceled.
func (t *RevisionTracker) Refresh(ctx context.Context, fields models.Fields) (models.RevisionCandidate, error) {
	ctx, seq := t.begin(ctx)
	candidate, err := t.resolver.Evaluate(ctx, fields)
	if err != nil {
		candidate = models.RevisionCandidate{}
	}
	if !t.store(seq, candidate) {
		return models.RevisionCandidate{}, fmt.Errorf("revision lookup superseded: %w", context.Canceled)
	}
	return candidate, err
}

func (t *RevisionTracker) refresh(fields models.Fields) {
	if _, err := t.Refresh(t.handle.Context(), fields); err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Warn("Revision lookup failed, advisory state cleared", "error", err)
	}
}

// supersede invalidates the lookup in flight.
func (t *RevisionTracker) supersede() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *RevisionTracker) begin(parent context.Context) (context.Context, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	return ctx, t.seq
}

// store records candidate when seq is still the latest lookup.
func (t *RevisionTracker) store(seq uint64, candidate models.RevisionCandidate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq != t.seq || t.handle.Closed() {
		return false
	}
	t.cancel()
	t.cancel = nil
	t.handle.setCandidate(candidate)
	return true
}
