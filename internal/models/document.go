package models

import (
	"fmt"
	"sort"
	"time"
)

// PageStatus is the lifecycle state of one page of a split document.
type PageStatus string

const (
	PageStatusNew       PageStatus = "NEW"
	PageStatusSplit     PageStatus = "SPLIT"
	PageStatusInOCR     PageStatus = "IN_OCR"
	PageStatusReady     PageStatus = "READY"
	PageStatusProcessed PageStatus = "PROCESSED"
	PageStatusIgnore    PageStatus = "IGNORE"
)

// PageKey builds the stable key of a page from its 1-based number.
func PageKey(pageNumber int) string {
	return fmt.Sprintf("page-%05d", pageNumber)
}

// Page is one page of a SplitDocument.
type Page struct {
	Key             string                `json:"key"`
	PageNumber      int                   `json:"pageNumber"`
	Status          PageStatus            `json:"status"`
	CommonFields    Fields                `json:"commonFields,omitempty"`
	UniqueFields    Fields                `json:"uniqueFields,omitempty"`
	SuggestedValues map[FieldKey][]string `json:"suggestedValues,omitempty"`
	RenderedImage   string                `json:"renderedImage,omitempty"`
	DocumentURI     string                `json:"documentUri,omitempty"`
	RepositoryID    string                `json:"repositoryId,omitempty"`
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	c := *p
	c.CommonFields = p.CommonFields.Clone()
	c.UniqueFields = p.UniqueFields.Clone()
	if p.SuggestedValues != nil {
		c.SuggestedValues = make(map[FieldKey][]string, len(p.SuggestedValues))
		for k, v := range p.SuggestedValues {
			c.SuggestedValues[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// Fields returns the page's effective field set (common overlaid by unique).
func (p *Page) Fields() Fields {
	return Merge(p.CommonFields, p.UniqueFields)
}

// SplitDocument is a source file being split into independently tagged pages.
type SplitDocument struct {
	Name         string           `json:"name"`
	TotalPages   int              `json:"totalPages"`
	Pages        map[string]*Page `json:"pages"`
	CommonFields Fields           `json:"commonFields,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *SplitDocument) Clone() SplitDocument {
	c := SplitDocument{
		Name:         d.Name,
		TotalPages:   d.TotalPages,
		Pages:        make(map[string]*Page, len(d.Pages)),
		CommonFields: d.CommonFields.Clone(),
	}
	for k, p := range d.Pages {
		c.Pages[k] = p.Clone()
	}
	return c
}

// SortedPageKeys returns page keys ordered by page number.
func (d *SplitDocument) SortedPageKeys() []string {
	keys := make([]string, 0, len(d.Pages))
	for k := range d.Pages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := d.Pages[keys[i]], d.Pages[keys[j]]
		if pi.PageNumber != pj.PageNumber {
			return pi.PageNumber < pj.PageNumber
		}
		return keys[i] < keys[j]
	})
	return keys
}

// PageCounts are derived from the page map after every change.
type PageCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Ready      int `json:"ready"`
	Uploaded   int `json:"uploaded"`
	Skipped    int `json:"skipped"`
}

// SplitStatus is the repository's view of a split job.
type SplitStatus struct {
	PageCount int                        `json:"pageCount"`
	Pages     map[string]SplitPageStatus `json:"pages"`
}

// SplitPageStatus is the repository-owned part of a page.
type SplitPageStatus struct {
	Status          PageStatus            `json:"status"`
	PageNumber      int                   `json:"pageNumber"`
	DocumentURI     string                `json:"documentUri,omitempty"`
	RenderedImage   string                `json:"renderedImage,omitempty"`
	SuggestedValues map[FieldKey][]string `json:"suggestedValues,omitempty"`
	RepositoryID    string                `json:"repositoryId,omitempty"`
}

// Document represents the main record for a split job in Firestore.
// It tracks the overall status and the per-page map polled by the coordinator.
type Document struct {
	Name                string                `firestore:"name"`
	FileHash            string                `firestore:"fileHash,omitempty"`
	SourceURI           string                `firestore:"sourceUri,omitempty"`
	Status              string                `firestore:"status,omitempty"`
	ErrorDetails        string                `firestore:"errorDetails,omitempty"`
	PageCount           int                   `firestore:"pageCount,omitempty"`
	Pages               map[string]PageRecord `firestore:"pages,omitempty"`
	CommonFields        map[string]string     `firestore:"commonFields,omitempty"`
	WorkflowExecutionID string                `firestore:"workflowExecutionId,omitempty"`
	CreatedAt           time.Time             `firestore:"createdAt,omitempty"`
	UpdatedAt           time.Time             `firestore:"updatedAt,omitempty"`
}

// PageRecord is one entry of Document.Pages.
type PageRecord struct {
	Status          PageStatus          `firestore:"status"`
	PageNumber      int                 `firestore:"pageNumber"`
	DocumentURI     string              `firestore:"documentUri,omitempty"`
	RenderedImage   string              `firestore:"renderedImage,omitempty"`
	SuggestedValues map[string][]string `firestore:"suggestedValues,omitempty"`
	RepositoryID    string              `firestore:"repositoryId,omitempty"`
}

// ToSplitStatus converts the stored record into the coordinator's snapshot.
func (d Document) ToSplitStatus() SplitStatus {
	out := SplitStatus{PageCount: d.PageCount, Pages: make(map[string]SplitPageStatus, len(d.Pages))}
	for key, p := range d.Pages {
		out.Pages[key] = SplitPageStatus{
			Status:          p.Status,
			PageNumber:      p.PageNumber,
			DocumentURI:     p.DocumentURI,
			RenderedImage:   p.RenderedImage,
			SuggestedValues: SuggestionsFromMap(p.SuggestedValues),
			RepositoryID:    p.RepositoryID,
		}
	}
	return out
}

// SavedMetadata is a re-hydrated "save and continue later" payload, already
// translated to canonical keys. Date values are still raw strings.
type SavedMetadata struct {
	DocumentName string            `json:"documentName"`
	Common       Fields            `json:"common,omitempty"`
	Pages        map[string]Fields `json:"pages,omitempty"`
	SavedAt      time.Time         `json:"savedAt"`
}
