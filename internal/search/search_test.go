package search

import (
	"context"
	"reflect"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		expr    string
		want    []Clause
		wantErr bool
	}{
		{
			expr: `title="Roof \"Main\"" site="North" -distribution:"archive"`,
			want: []Clause{
				{Field: "title", Value: `Roof "Main"`},
				{Field: "site", Value: "North"},
				{Field: "distribution", Value: "archive", Scope: true, Exclude: true},
			},
		},
		{expr: `area="A 1"   distribution:"live"`, want: []Clause{
			{Field: "area", Value: "A 1"},
			{Field: "distribution", Value: "live", Scope: true},
		}},
		{expr: "", want: nil},
		{expr: `title=Roof`, wantErr: true},
		{expr: `title="Roof`, wantErr: true},
		{expr: `-title="Roof"`, wantErr: true},
		{expr: `="x"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseFilter(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("clauses = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMeiliFilter(t *testing.T) {
	got := MeiliFilter([]Clause{
		{Field: "title", Value: `Roof "Main"`},
		{Field: "distribution", Value: "archive", Scope: true, Exclude: true},
	})
	want := `title = "Roof \"Main\"" AND distribution != "archive"`
	if got != want {
		t.Fatalf("filter = %s, want %s", got, want)
	}
}

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBleveExactMatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	records := []Record{
		{ID: "item-1", Fields: map[string]string{"title": "Roof Plan", "site": "North"}, Distribution: "live"},
		{ID: "item-2", Fields: map[string]string{"title": "Roof Plan Rev", "site": "North"}, Distribution: "live"},
		{ID: "item-3", Fields: map[string]string{"title": "Roof Plan", "site": "North"}, Distribution: "archive"},
	}
	for _, r := range records {
		if err := idx.IndexItem(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := idx.Search(ctx, `title="Roof Plan" site="North" -distribution:"archive"`, []string{"id", "title"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Value("id") != "item-1" {
		t.Fatalf("rows = %+v, want only item-1", rows)
	}
	if rows[0].Value("title") != "Roof Plan" {
		t.Fatalf("title cell = %q", rows[0].Value("title"))
	}

	rows, err = idx.Search(ctx, `title="Roof Plan" distribution:"archive"`, []string{"id"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Value("id") != "item-3" {
		t.Fatalf("include scope rows = %+v", rows)
	}

	rows, err = idx.Search(ctx, `title="roof plan"`, []string{"id"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("exact match is case sensitive, got %+v", rows)
	}
}

func TestBleveRowLimitAndReindex(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := idx.IndexItem(ctx, Record{ID: id, Fields: map[string]string{"site": "North"}}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := idx.Search(ctx, `site="North"`, []string{"id"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want the limit", len(rows))
	}
	if err := idx.IndexItem(ctx, Record{ID: "a", Fields: map[string]string{"site": "South"}}); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 3 {
		t.Fatalf("doc count = %d after reindex", n)
	}
	if _, err := idx.Search(ctx, "", nil, 2); err == nil {
		t.Fatalf("empty filter accepted")
	}
}
