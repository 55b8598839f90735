package services

import (
	"reflect"
	"testing"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

func TestSuggestFromText(t *testing.T) {
	text := "PROJECT: North Campus\n" +
		"TITLE: Roof Plan Level 2\n" +
		"DRAWING NO: A-1001\n" +
		"REV: C\n" +
		"DATE: 03/07/2024\n" +
		"ISSUED 2024-07-05\n"

	got := SuggestFromText(text)
	want := map[models.FieldKey][]string{
		models.FieldTitle:         {"Roof Plan Level 2"},
		models.FieldDrawingNumber: {"A-1001"},
		models.FieldRevision:      {"C"},
		models.FieldDrawingDate:   {"2024-07-05", "2024-07-03"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("suggestions = %v, want %v", got, want)
	}
}

func TestSuggestFromTextDropsInvalidDates(t *testing.T) {
	got := SuggestFromText("DATE: 45/13/2024 and 2024-02-30")
	if len(got[models.FieldDrawingDate]) != 0 {
		t.Fatalf("invalid dates suggested: %v", got[models.FieldDrawingDate])
	}
}

func TestParseModelSuggestions(t *testing.T) {
	raw := "```json\n{\"title\":[\"Roof Plan\"],\"Drawing Number\":\"A-1\",\"colour\":[\"red\"],\"revision\":[],\"site\":[\" \"]}\n```"
	got, err := ParseModelSuggestions(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := map[models.FieldKey][]string{
		models.FieldTitle:         {"Roof Plan"},
		models.FieldDrawingNumber: {"A-1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("suggestions = %v, want %v", got, want)
	}

	for _, bad := range []string{"", "I cannot read this page", "[1,2]"} {
		if _, err := ParseModelSuggestions(bad); err == nil {
			t.Fatalf("ParseModelSuggestions(%q) accepted", bad)
		}
	}
}

func TestExtractTextLayerRejectsNonPDF(t *testing.T) {
	if _, err := ExtractTextLayer([]byte("not a pdf")); err == nil {
		t.Fatalf("expected an error for non-PDF content")
	}
}
