package search

import (
	"context"
	"fmt"
	"os"

	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// BleveIndex is an embedded exact-match index. Every field is indexed with
// the keyword analyzer so a term query matches whole values only.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex opens the index at path, creating it when missing. An empty
// path keeps the index in memory.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = keyword.Name

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexItem adds or replaces rec.
func (b *BleveIndex) IndexItem(ctx context.Context, rec Record) error {
	doc := make(map[string]interface{}, len(rec.Fields)+1)
	for k, v := range rec.Fields {
		doc[k] = v
	}
	if rec.Distribution != "" {
		doc[DistributionField] = rec.Distribution
	}
	return b.index.Index(rec.ID, doc)
}

// Search runs a filter expression and returns up to limit rows.
func (b *BleveIndex) Search(ctx context.Context, filter string, selectFields []string, limit int) ([]models.SearchRow, error) {
	clauses, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("empty filter")
	}

	q := bleve.NewBooleanQuery()
	var must, mustNot []blevequery.Query
	for _, c := range clauses {
		tq := bleve.NewTermQuery(c.Value)
		tq.SetField(c.Field)
		if c.Exclude {
			mustNot = append(mustNot, tq)
		} else {
			must = append(must, tq)
		}
	}
	if len(must) == 0 {
		must = append(must, bleve.NewMatchAllQuery())
	}
	q.AddMust(must...)
	if len(mustNot) > 0 {
		q.AddMustNot(mustNot...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = selectFields
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	rows := make([]models.SearchRow, 0, len(results.Hits))
	for _, hit := range results.Hits {
		values := make(map[string]string, len(hit.Fields))
		for k, v := range hit.Fields {
			if s, ok := v.(string); ok {
				values[k] = s
			}
		}
		rows = append(rows, toRow(hit.ID, values, selectFields))
	}
	return rows, nil
}

// Delete removes an item from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of indexed items.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
