package models

import (
	"fmt"
	"strings"
	"time"
)

// FieldKey is the canonical name of a metadata field. Human-readable labels
// only exist at adapter boundaries (see LabelFor / FieldKeyForLabel).
type FieldKey string

const (
	FieldTitle           FieldKey = "title"
	FieldDrawingNumber   FieldKey = "drawingNumber"
	FieldRevision        FieldKey = "revision"
	FieldDrawingDate     FieldKey = "drawingDate"
	FieldReceivedDate    FieldKey = "receivedDate"
	FieldDocumentType    FieldKey = "documentType"
	FieldCategory        FieldKey = "category"
	FieldBusinessUnit    FieldKey = "businessUnit"
	FieldDepartment      FieldKey = "department"
	FieldSite            FieldKey = "site"
	FieldArea            FieldKey = "area"
	FieldDiscipline      FieldKey = "discipline"
	FieldGate            FieldKey = "gate"
	FieldVilla           FieldKey = "villa"
	FieldParkStage       FieldKey = "parkStage"
	FieldBuilding        FieldKey = "building"
	FieldZone            FieldKey = "zone"
	FieldConfidentiality FieldKey = "confidentiality"
)

// DocumentTypeDrawing is the document type that carries revision and date requirements.
const DocumentTypeDrawing = "Drawing"

// DateLayout is the canonical wire format of date-typed fields.
const DateLayout = "2006-01-02"

// Category splits documents into residential and non-residential field sets.
type Category string

const (
	CategoryResidential    Category = "Residential"
	CategoryNonResidential Category = "Non-Residential"
)

var categoryFields = map[Category][]FieldKey{
	CategoryResidential:    {FieldVilla, FieldParkStage},
	CategoryNonResidential: {FieldBuilding, FieldZone},
}

// CategoryFields returns the fields that only apply to the given category.
func CategoryFields(c Category) []FieldKey {
	return append([]FieldKey(nil), categoryFields[c]...)
}

// OtherCategory returns the category whose fields must be cleared when c is chosen.
func OtherCategory(c Category) (Category, bool) {
	switch c {
	case CategoryResidential:
		return CategoryNonResidential, true
	case CategoryNonResidential:
		return CategoryResidential, true
	default:
		return "", false
	}
}

// DateFields are the shared date fields propagated from the document to its pages.
var DateFields = []FieldKey{FieldDrawingDate, FieldReceivedDate}

// IsDateField reports whether the field holds a date value.
func IsDateField(k FieldKey) bool {
	for _, f := range DateFields {
		if f == k {
			return true
		}
	}
	return false
}

// IdentifyingFields locate an existing drawing in the repository.
var IdentifyingFields = []FieldKey{
	FieldTitle,
	FieldBusinessUnit,
	FieldDepartment,
	FieldSite,
	FieldDrawingNumber,
	FieldArea,
}

// AutofillFields are copied from a matched drawing into the current form.
var AutofillFields = []FieldKey{
	FieldDiscipline,
	FieldGate,
	FieldVilla,
	FieldBuilding,
	FieldConfidentiality,
	FieldParkStage,
	FieldZone,
}

// SkipBlockingFields disable skipping a page once any of them holds a value.
var SkipBlockingFields = []FieldKey{
	FieldTitle,
	FieldDrawingNumber,
	FieldRevision,
	FieldDrawingDate,
}

// ParseDate accepts the canonical date layout as well as RFC 3339 timestamps.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// Fields is a set of metadata values keyed by canonical field key.
type Fields map[FieldKey]string

// Get returns the trimmed value of k.
func (f Fields) Get(k FieldKey) string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f[k])
}

// Has reports whether k holds a non-blank value.
func (f Fields) Has(k FieldKey) bool {
	return f.Get(k) != ""
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge overlays unique on top of common. Blank unique values do not hide
// a common value.
func Merge(common, unique Fields) Fields {
	out := common.Clone()
	for k, v := range unique {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

var fieldLabels = map[FieldKey]string{
	FieldTitle:           "Title",
	FieldDrawingNumber:   "Drawing Number",
	FieldRevision:        "Revision Number",
	FieldDrawingDate:     "Drawing Date",
	FieldReceivedDate:    "Received Date",
	FieldDocumentType:    "Document Type",
	FieldCategory:        "Category",
	FieldBusinessUnit:    "Business Unit",
	FieldDepartment:      "Department",
	FieldSite:            "Site",
	FieldArea:            "Area",
	FieldDiscipline:      "Discipline",
	FieldGate:            "Gate",
	FieldVilla:           "Villa",
	FieldParkStage:       "Park Stage",
	FieldBuilding:        "Building",
	FieldZone:            "Zone",
	FieldConfidentiality: "Confidentiality",
}

var labelFields = func() map[string]FieldKey {
	out := make(map[string]FieldKey, len(fieldLabels))
	for k, label := range fieldLabels {
		out[strings.ToLower(label)] = k
	}
	return out
}()

// LabelFor returns the human-readable label of k, or k itself when unknown.
func LabelFor(k FieldKey) string {
	if label, ok := fieldLabels[k]; ok {
		return label
	}
	return string(k)
}

// FieldKeyForLabel translates a human-readable label back to its key.
// Canonical keys are accepted as labels too.
func FieldKeyForLabel(label string) (FieldKey, bool) {
	label = strings.TrimSpace(label)
	if k, ok := labelFields[strings.ToLower(label)]; ok {
		return k, true
	}
	if _, ok := fieldLabels[FieldKey(label)]; ok {
		return FieldKey(label), true
	}
	return "", false
}

// ToMap converts to the plain map stored in Firestore and search indexes.
func (f Fields) ToMap() map[string]string {
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[string(k)] = v
	}
	return out
}

// FieldsFromMap converts a stored plain map back to Fields.
func FieldsFromMap(m map[string]string) Fields {
	out := make(Fields, len(m))
	for k, v := range m {
		out[FieldKey(k)] = v
	}
	return out
}

// SuggestionsToMap converts suggested values to their stored form.
func SuggestionsToMap(s map[FieldKey][]string) map[string][]string {
	if s == nil {
		return nil
	}
	out := make(map[string][]string, len(s))
	for k, v := range s {
		out[string(k)] = v
	}
	return out
}

// SuggestionsFromMap converts stored suggestions back to canonical keys.
func SuggestionsFromMap(m map[string][]string) map[FieldKey][]string {
	if m == nil {
		return nil
	}
	out := make(map[FieldKey][]string, len(m))
	for k, v := range m {
		out[FieldKey(k)] = v
	}
	return out
}
