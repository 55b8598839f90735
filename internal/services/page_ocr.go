package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/Lllllllleong/drawingmigration/internal/gcp"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/ledongthuc/pdf"
)

// Suggestion sources reported in PageOCRResponse.Source.
const (
	SourceTextLayer = "text-layer"
	SourceModel     = "gemini"
	SourceNone      = "none"
)

// minTextLayer is the shortest text layer trusted over the model.
const minTextLayer = 40

type PageOCRConfig struct {
	ProjectID      string
	VertexAIRegion string
	CollectionName string
}

// PageOCRFunction reads the title block of one split page and records
// suggested field values on the split record.
type PageOCRFunction struct {
	storageClient   *storage.Client
	firestoreClient *firestore.Client
	vertexClient    *gcp.VertexClient
	config          PageOCRConfig
}

func NewPageOCR(ctx context.Context, cfg *config.Config) (*PageOCRFunction, error) {
	if err := cfg.RequireGCP(); err != nil {
		return nil, err
	}
	ocrConfig := PageOCRConfig{
		ProjectID:      cfg.ProjectID,
		VertexAIRegion: cfg.VertexAIRegion,
		CollectionName: cfg.FirestoreCollection,
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, ocrConfig.ProjectID)
	if err != nil {
		return nil, err
	}
	vertexClient, err := gcp.NewVertexClient(ctx, ocrConfig.ProjectID, ocrConfig.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return &PageOCRFunction{
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
		vertexClient:    vertexClient,
		config:          ocrConfig,
	}, nil
}

// Process moves the page through IN_OCR to READY. Suggestions are advisory:
// a model failure still leaves the page READY for manual tagging.
func (f *PageOCRFunction) Process(ctx context.Context, req *models.PageOCRRequest) (*models.PageOCRResponse, error) {
	key := models.PageKey(req.PageNumber)
	logCtx := slog.With("documentId", req.DocumentID, "pageKey", key, "executionId", req.ExecutionID)
	logCtx.Info("Starting title block extraction.")

	docRef := f.firestoreClient.Collection(f.config.CollectionName).Doc(req.DocumentID)
	if err := f.setPageStatus(ctx, docRef, key, models.PageStatusInOCR, nil); err != nil {
		logCtx.Error("Failed to mark page IN_OCR", "error", err)
		return nil, err
	}

	data, err := gcp.ReadObject(ctx, f.storageClient, req.GCSUri)
	if err != nil {
		logCtx.Error("Failed to read page PDF", "error", err)
		return nil, err
	}

	source := SourceNone
	var suggestions map[models.FieldKey][]string
	if text, err := ExtractTextLayer(data); err != nil {
		logCtx.Warn("Text layer unreadable", "error", err)
	} else if len(strings.TrimSpace(text)) >= minTextLayer {
		suggestions = SuggestFromText(text)
		source = SourceTextLayer
	}
	if len(suggestions) == 0 {
		modelSuggestions, err := f.askModel(ctx, req)
		if err != nil {
			logCtx.Warn("Model extraction failed. Page left for manual tagging.", "error", err)
		} else {
			suggestions = modelSuggestions
			source = SourceModel
		}
	}

	extra := []firestore.Update{
		{FieldPath: firestore.FieldPath{"pages", key, "suggestedValues"}, Value: models.SuggestionsToMap(suggestions)},
		{FieldPath: firestore.FieldPath{"pages", key, "renderedImage"}, Value: req.GCSUri},
	}
	err = withRetry(ctx, "pageKey", key, func() error {
		return f.setPageStatus(ctx, docRef, key, models.PageStatusReady, extra)
	})
	if err != nil {
		return nil, err
	}

	logCtx.Info("Page ready.", "source", source, "suggestedFields", len(suggestions))
	return &models.PageOCRResponse{
		Status:      "success",
		PageKey:     key,
		Source:      source,
		Suggestions: models.SuggestionsToMap(suggestions),
	}, nil
}

func (f *PageOCRFunction) setPageStatus(ctx context.Context, docRef *firestore.DocumentRef, key string, pageStatus models.PageStatus, extra []firestore.Update) error {
	updates := append([]firestore.Update{
		{FieldPath: firestore.FieldPath{"pages", key, "status"}, Value: string(pageStatus)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}, extra...)
	if _, err := docRef.Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to set %s to %s: %w", key, pageStatus, err)
	}
	return nil
}

func (f *PageOCRFunction) askModel(ctx context.Context, req *models.PageOCRRequest) (map[models.FieldKey][]string, error) {
	filePart := genai.FileData{
		MIMEType: "application/pdf",
		FileURI:  req.GCSUri,
	}
	resp, err := f.vertexClient.TitleBlockModel.GenerateContent(ctx, filePart, genai.Text(gcp.TitleBlockUserPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return ParseModelSuggestions(responseText(resp))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// ExtractTextLayer returns the embedded text of a PDF. Scanned pages have
// none.
func ExtractTextLayer(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

var (
	titlePattern    = regexp.MustCompile(`(?im)^\s*(?:drawing\s+)?title\s*[:\-]\s*(.+?)\s*$`)
	numberPattern   = regexp.MustCompile(`(?i)\b(?:drawing|dwg)\.?\s*(?:no|number|#)\.?\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-_/.]{2,})`)
	revisionPattern = regexp.MustCompile(`(?i)\brev(?:ision)?\.?\s*[:\-]?\s*([A-Z]{1,2}|\d{1,2})\b`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dmyDatePattern  = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{4})\b`)
)

// SuggestFromText pulls title block values out of a text layer. Values are
// ordered by first appearance.
func SuggestFromText(text string) map[models.FieldKey][]string {
	out := make(map[models.FieldKey][]string)
	add := func(k models.FieldKey, v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		for _, existing := range out[k] {
			if existing == v {
				return
			}
		}
		out[k] = append(out[k], v)
	}

	for _, m := range titlePattern.FindAllStringSubmatch(text, -1) {
		add(models.FieldTitle, m[1])
	}
	for _, m := range numberPattern.FindAllStringSubmatch(text, -1) {
		add(models.FieldDrawingNumber, strings.ToUpper(m[1]))
	}
	for _, m := range revisionPattern.FindAllStringSubmatch(text, -1) {
		add(models.FieldRevision, strings.ToUpper(m[1]))
	}
	for _, m := range isoDatePattern.FindAllStringSubmatch(text, -1) {
		if _, err := models.ParseDate(m[0]); err == nil {
			add(models.FieldDrawingDate, m[0])
		}
	}
	for _, m := range dmyDatePattern.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		iso := fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
		if _, err := models.ParseDate(iso); err == nil {
			add(models.FieldDrawingDate, iso)
		}
	}
	return out
}

// ParseModelSuggestions decodes the model's JSON object. Keys may be field
// keys or labels; unknown keys and empty values are dropped.
func ParseModelSuggestions(raw string) (map[models.FieldKey][]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("model response is not a JSON object: %w", err)
	}
	out := make(map[models.FieldKey][]string)
	for label, value := range decoded {
		key, ok := models.FieldKeyForLabel(label)
		if !ok {
			continue
		}
		var values []string
		if err := json.Unmarshal(value, &values); err != nil {
			var single string
			if err := json.Unmarshal(value, &single); err != nil {
				continue
			}
			values = []string{single}
		}
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				out[key] = append(out[key], v)
			}
		}
	}
	return out, nil
}
