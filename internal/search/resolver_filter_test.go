package search_test

import (
	"testing"

	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/Lllllllleong/drawingmigration/internal/search"
	"github.com/Lllllllleong/drawingmigration/internal/services"
)

func TestParseFilterRoundTripsResolverExpression(t *testing.T) {
	fields := models.Fields{
		models.FieldTitle:         `Roof "Plan"`,
		models.FieldBusinessUnit:  "B1",
		models.FieldDepartment:    "D1",
		models.FieldSite:          "S1",
		models.FieldDrawingNumber: `D\100`,
		models.FieldArea:          "A1",
	}
	expr := services.BuildFilterExpression(fields, models.SearchScope{Value: "archive", Exclude: true})
	clauses, err := search.ParseFilter(expr)
	if err != nil {
		t.Fatal(err)
	}
	if len(clauses) != len(models.IdentifyingFields)+1 {
		t.Fatalf("clauses = %+v", clauses)
	}
	for i, k := range models.IdentifyingFields {
		if clauses[i].Field != string(k) || clauses[i].Value != fields[k] {
			t.Fatalf("clause %d = %+v, want %s=%q", i, clauses[i], k, fields[k])
		}
	}
	last := clauses[len(clauses)-1]
	if !last.Scope || !last.Exclude || last.Value != "archive" {
		t.Fatalf("scope clause = %+v", last)
	}
}
