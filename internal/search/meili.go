package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Lllllllleong/drawingmigration/internal/models"
	meili "github.com/meilisearch/meilisearch-go"
)

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	uid     string
	healthy atomic.Bool
}

// NewMeili creates a Meilisearch client and configures the item index.
// An unreachable server is logged; searches fail until it is back.
func NewMeili(url, apiKey, uid string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		uid:    uid,
	}
	if _, err := m.client.Health(); err != nil {
		slog.Warn("Meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: m.uid, PrimaryKey: "id"}); err != nil {
		slog.Info("Create index (may already exist)", "index", m.uid, "error", err)
	}
	attrs := make([]string, 0, len(models.IdentifyingFields)+1)
	for _, k := range models.IdentifyingFields {
		attrs = append(attrs, string(k))
	}
	attrs = append(attrs, DistributionField)

	filterable := make([]interface{}, len(attrs))
	for i, v := range attrs {
		filterable[i] = v
	}
	index := m.client.Index(m.uid)
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		slog.Warn("Update filterable attributes failed", "index", m.uid, "error", err)
	}
}

// Healthy reports whether Meilisearch was reachable on the last call.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexItem adds or updates an item.
func (m *Meili) IndexItem(ctx context.Context, rec Record) error {
	doc := make(map[string]interface{}, len(rec.Fields)+2)
	for k, v := range rec.Fields {
		doc[k] = v
	}
	doc["id"] = rec.ID
	if rec.Distribution != "" {
		doc[DistributionField] = rec.Distribution
	}
	_, err := m.client.Index(m.uid).AddDocuments([]map[string]interface{}{doc}, nil)
	return err
}

// Search translates the filter expression into a Meilisearch filter.
func (m *Meili) Search(ctx context.Context, filter string, selectFields []string, limit int) ([]models.SearchRow, error) {
	clauses, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Index(m.uid).Search("", &meili.SearchRequest{
		Filter:               MeiliFilter(clauses),
		Limit:                int64(limit),
		AttributesToRetrieve: append([]string{"id"}, selectFields...),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}
	m.healthy.Store(true)

	rows := make([]models.SearchRow, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		values := make(map[string]string, len(selectFields))
		for _, f := range selectFields {
			values[f] = decodeString(hit, f)
		}
		rows = append(rows, toRow(decodeString(hit, "id"), values, selectFields))
	}
	return rows, nil
}

// Close is a no-op; the HTTP client holds no resources.
func (m *Meili) Close() error {
	return nil
}

// MeiliFilter renders clauses in Meilisearch filter syntax.
func MeiliFilter(clauses []Clause) string {
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		op := "="
		if c.Exclude {
			op = "!="
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Field, op, meiliQuote(c.Value)))
	}
	return strings.Join(parts, " AND ")
}

func meiliQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
