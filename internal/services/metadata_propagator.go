package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// DefaultPropagationQuietPeriod is how long a date field must be idle
// before it is copied to the pages.
const DefaultPropagationQuietPeriod = 100 * time.Millisecond

// MetadataPropagator keeps the common fields of a document and the fields of
// its pages consistent.
type MetadataPropagator struct {
	handle   *DocumentHandle
	debounce *debouncer
	logger   *slog.Logger

	mu sync.Mutex
	// propagated records, per date field, the value each page last received.
	propagated map[models.FieldKey]map[string]string
}

// NewMetadataPropagator binds a propagator to h. Pending debounces are
// cancelled when h closes.
func NewMetadataPropagator(h *DocumentHandle, quiet time.Duration, logger *slog.Logger) *MetadataPropagator {
	if quiet <= 0 {
		quiet = DefaultPropagationQuietPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &MetadataPropagator{
		handle:     h,
		debounce:   newDebouncer(quiet),
		logger:     logger.With("documentName", h.Name()),
		propagated: make(map[models.FieldKey]map[string]string),
	}
	h.OnClose(p.debounce.Stop)
	return p
}

// SetCategory records the document category and clears the fields that
// belong to the other one.
func (p *MetadataPropagator) SetCategory(category models.Category) error {
	other, ok := models.OtherCategory(category)
	if !ok {
		return domainError(ErrValidationFailed, fmt.Sprintf("unknown category %q", category), models.FieldCategory)
	}
	stale := models.CategoryFields(other)
	return p.handle.update(func(doc *models.SplitDocument) error {
		doc.CommonFields[models.FieldCategory] = string(category)
		for _, k := range stale {
			delete(doc.CommonFields, k)
		}
		for _, page := range doc.Pages {
			if page.Status == models.PageStatusProcessed {
				continue
			}
			for _, k := range stale {
				delete(page.UniqueFields, k)
			}
		}
		syncPageCommon(doc)
		return nil
	})
}

// OnFieldChanged records a change to a common field. Date fields are copied
// to the pages once the quiet period has passed.
func (p *MetadataPropagator) OnFieldChanged(field models.FieldKey, value string) error {
	if field == models.FieldCategory {
		return p.SetCategory(models.Category(value))
	}
	err := p.handle.update(func(doc *models.SplitDocument) error {
		if value == "" {
			delete(doc.CommonFields, field)
		} else {
			doc.CommonFields[field] = value
		}
		syncPageCommon(doc)
		return nil
	})
	if err != nil {
		return err
	}
	if models.IsDateField(field) {
		p.debounce.Trigger(string(field), func() { p.propagate(field) })
	}
	return nil
}

// Flush settles every pending debounce now.
func (p *MetadataPropagator) Flush() {
	p.debounce.Flush()
}

// propagate writes the settled common value of field into every page that
// has no value of its own and has not already received it. Pages added since
// the last settle pick the value up even when it did not change.
func (p *MetadataPropagator) propagate(field models.FieldKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	err := p.handle.update(func(doc *models.SplitDocument) error {
		value := doc.CommonFields.Get(field)
		if value == "" {
			return nil
		}
		seen := p.seen(field)
		for key, page := range doc.Pages {
			if page.Status == models.PageStatusProcessed || page.UniqueFields.Has(field) || seen[key] == value {
				continue
			}
			if page.UniqueFields == nil {
				page.UniqueFields = models.Fields{}
			}
			page.UniqueFields[field] = value
			seen[key] = value
			written++
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("Date propagation skipped", "field", field, "error", err)
		return
	}
	if written > 0 {
		p.logger.Info("Propagated date field to pages", "field", field, "pages", written)
	}
}

// Restore re-hydrates previously saved metadata. Values present in saved are
// restored verbatim; date fields are normalised to the date layout and
// fields absent from the payload are left as they are. A restored common date
// counts as propagated to the pages that were already open; pages the restore
// creates receive it on the next settle.
func (p *MetadataPropagator) Restore(saved models.SavedMetadata) error {
	common, err := normaliseDates(saved.Common)
	if err != nil {
		return err
	}
	pages := make(map[string]models.Fields, len(saved.Pages))
	for key, fields := range saved.Pages {
		f, err := normaliseDates(fields)
		if err != nil {
			return err
		}
		pages[key] = f
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle.update(func(doc *models.SplitDocument) error {
		for k, v := range common {
			doc.CommonFields[k] = v
			if !models.IsDateField(k) || v == "" {
				continue
			}
			seen := p.seen(k)
			for key := range doc.Pages {
				seen[key] = v
			}
		}
		for key, fields := range pages {
			page, ok := doc.Pages[key]
			if !ok {
				page = &models.Page{Key: key, Status: models.PageStatusNew}
				doc.Pages[key] = page
			}
			if page.UniqueFields == nil {
				page.UniqueFields = models.Fields{}
			}
			for k, v := range fields {
				page.UniqueFields[k] = v
			}
		}
		syncPageCommon(doc)
		return nil
	})
}

func (p *MetadataPropagator) seen(field models.FieldKey) map[string]string {
	m, ok := p.propagated[field]
	if !ok {
		m = make(map[string]string)
		p.propagated[field] = m
	}
	return m
}

// SetPageField edits one field of one page.
func (p *MetadataPropagator) SetPageField(pageKey string, field models.FieldKey, value string) error {
	return p.handle.update(func(doc *models.SplitDocument) error {
		page, err := lookupPage(doc, pageKey)
		if err != nil {
			return err
		}
		if page.Status == models.PageStatusProcessed {
			return domainError(ErrConflict, fmt.Sprintf("page %s is already uploaded", pageKey), pageKey)
		}
		if page.UniqueFields == nil {
			page.UniqueFields = models.Fields{}
		}
		if value == "" {
			delete(page.UniqueFields, field)
		} else {
			page.UniqueFields[field] = value
		}
		return nil
	})
}

func normaliseDates(fields models.Fields) (models.Fields, error) {
	out := make(models.Fields, len(fields))
	for k, v := range fields {
		if models.IsDateField(k) && v != "" {
			t, err := models.ParseDate(v)
			if err != nil {
				return nil, domainError(ErrValidationFailed, err.Error(), k)
			}
			v = t.Format(models.DateLayout)
		}
		out[k] = v
	}
	return out, nil
}

func syncPageCommon(doc *models.SplitDocument) {
	for _, page := range doc.Pages {
		if page.Status == models.PageStatusProcessed {
			continue
		}
		page.CommonFields = doc.CommonFields.Clone()
	}
}
