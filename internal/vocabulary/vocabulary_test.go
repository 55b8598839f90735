package vocabulary

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

const sample = `
terms:
  businessUnit: [B1, B2]
  Department: [Civil, Structural]
  documentType: [Drawing, Report]
`

func TestParseAndValidate(t *testing.T) {
	v, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if !v.TermDriven(models.FieldDepartment) || v.TermDriven(models.FieldTitle) {
		t.Fatalf("term-driven set wrong")
	}
	if got := v.Terms(models.FieldBusinessUnit); !reflect.DeepEqual(got, []string{"B1", "B2"}) {
		t.Fatalf("terms = %v", got)
	}

	tests := []struct {
		name   string
		fields models.Fields
		want   []models.FieldKey
	}{
		{"all known", models.Fields{models.FieldBusinessUnit: "b1", models.FieldDepartment: "Civil"}, nil},
		{"unknown dept", models.Fields{models.FieldDepartment: "Mining", models.FieldTitle: "anything"}, []models.FieldKey{models.FieldDepartment}},
		{"blank is not invalid", models.Fields{models.FieldBusinessUnit: " "}, nil},
		{"two unknown", models.Fields{models.FieldDocumentType: "Memo", models.FieldBusinessUnit: "B9"}, []models.FieldKey{models.FieldBusinessUnit, models.FieldDocumentType}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Validate(tt.fields); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Validate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	if _, err := Parse([]byte("terms:\n  colour: [red]\n")); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestLoad(t *testing.T) {
	v, err := Load("")
	if err != nil || v.TermDriven(models.FieldSite) {
		t.Fatalf("empty path: %v", err)
	}
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !v.TermDriven(models.FieldDocumentType) {
		t.Fatalf("loaded vocabulary missing documentType")
	}
}
