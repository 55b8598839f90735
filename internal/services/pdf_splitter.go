package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/Lllllllleong/drawingmigration/internal/gcp"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Split record statuses, on top of the per-page statuses.
const (
	RecordValidating = "VALIDATING"
	RecordSplitting  = "SPLITTING"
	RecordSplit      = "SPLIT"
	RecordFailed     = "FAILED"
)

type PDFSplitterConfig struct {
	ProjectID        string
	SplitPagesBucket string
	CollectionName   string
	OCRWorkflowID    string
	WorkflowLocation string
}

// PDFSplitterFunction splits an uploaded drawing set into one PDF per page
// and records the page map the coordinator polls.
type PDFSplitterFunction struct {
	storageClient    *storage.Client
	firestoreClient  *firestore.Client
	executionsClient *executions.Client
	config           PDFSplitterConfig
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewPDFSplitter(ctx context.Context, cfg *config.Config) (*PDFSplitterFunction, error) {
	if err := cfg.RequireGCP(); err != nil {
		return nil, err
	}
	splitterConfig := PDFSplitterConfig{
		ProjectID:        cfg.ProjectID,
		SplitPagesBucket: cfg.SplitPagesBucket,
		CollectionName:   cfg.FirestoreCollection,
		OCRWorkflowID:    cfg.OCRWorkflowID,
		WorkflowLocation: cfg.WorkflowLocation,
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, splitterConfig.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	f := &PDFSplitterFunction{
		firestoreClient:  firestoreClient,
		storageClient:    storageClient,
		executionsClient: executionsClient,
		config:           splitterConfig,
	}
	slog.Info("PDF Splitter logic initialized.", "ocrWorkflowId", splitterConfig.OCRWorkflowID)
	return f, nil
}

// Process splits one source object. A file already split, under this name
// or any other, is reported as a duplicate and left alone.
func (f *PDFSplitterFunction) Process(ctx context.Context, e GCSEvent) (*models.SplitResponse, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")
	if !strings.EqualFold(filepath.Ext(e.Name), ".pdf") {
		logCtx.Info("Not a PDF. Skipping.")
		return &models.SplitResponse{Status: "skipped"}, nil
	}

	docRef := f.firestoreClient.Collection(f.config.CollectionName).Doc(gcp.DocumentID(e.Name))
	if existing, err := f.existingRecord(ctx, docRef); err != nil {
		logCtx.Error("Failed to read split record", "error", err)
		return nil, err
	} else if existing != nil && existing.Status != RecordFailed {
		logCtx.Info("Document already split. Skipping.", "status", existing.Status)
		return &models.SplitResponse{Status: "skipped", DocumentID: docRef.ID, PageCount: existing.PageCount, Duplicate: true}, nil
	}

	tempDir, err := os.MkdirTemp("", "pdf-splitter-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := f.streamGCSObject(ctx, e.Bucket, e.Name, sourcePdfPath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return nil, err
	}

	fileHash, err := calculateFileHash(sourcePdfPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return nil, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	isDuplicate, dupID, err := f.isDuplicate(ctx, fileHash, docRef.ID)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", dupID)
		return &models.SplitResponse{Status: "skipped", DocumentID: dupID, Duplicate: true}, nil
	}

	if err := f.createInitialDocument(ctx, docRef, fileHash, e); err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("documentId", docRef.ID)
	logCtx.Info("Created split record in Firestore.")

	optimizedPdfPath := filepath.Join(tempDir, "optimized.pdf")
	pageCount, err := f.optimizeAndPrepare(ctx, logCtx, docRef, sourcePdfPath, optimizedPdfPath)
	if err != nil {
		return nil, err
	}

	pageURIs, err := f.uploadSplitPages(ctx, logCtx, docRef, optimizedPdfPath, pageCount)
	if err != nil {
		return nil, err
	}

	if err := f.triggerOCR(ctx, logCtx, docRef, e.Name, pageURIs); err != nil {
		return nil, err
	}

	logCtx.Info("Hand-off to OCR workflow complete.")
	return &models.SplitResponse{Status: "success", DocumentID: docRef.ID, PageCount: pageCount}, nil
}

func (f *PDFSplitterFunction) existingRecord(ctx context.Context, docRef *firestore.DocumentRef) (*models.Document, error) {
	snap, err := docRef.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read split record: %w", err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode split record: %w", err)
	}
	return &doc, nil
}

// isDuplicate looks for another record with the same content. selfID is
// the record being retried after a failure.
func (f *PDFSplitterFunction) isDuplicate(ctx context.Context, fileHash, selfID string) (bool, string, error) {
	docs, err := f.firestoreClient.Collection(f.config.CollectionName).Where("fileHash", "==", fileHash).Limit(2).Documents(ctx).GetAll()
	if err != nil {
		return false, "", fmt.Errorf("failed to query for duplicates: %w", err)
	}
	for _, d := range docs {
		if d.Ref.ID != selfID {
			return true, d.Ref.ID, nil
		}
	}
	return false, "", nil
}

func (f *PDFSplitterFunction) createInitialDocument(ctx context.Context, docRef *firestore.DocumentRef, fileHash string, e GCSEvent) error {
	newDoc := models.Document{
		Name:      e.Name,
		FileHash:  fileHash,
		SourceURI: gcp.GCSURI(e.Bucket, e.Name),
		Status:    RecordValidating,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if _, err := docRef.Set(ctx, newDoc); err != nil {
		return fmt.Errorf("failed to create split record: %w", err)
	}
	return nil
}

func (f *PDFSplitterFunction) optimizeAndPrepare(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, source, optimized string) (int, error) {
	if err := optimizePDF(source, optimized); err != nil {
		return 0, f.handleError(ctx, logCtx, docRef, "failed to validate/optimize PDF", err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return 0, f.handleError(ctx, logCtx, docRef, "failed to get page count", err)
	}
	if err := api.SplitFile(optimized, filepath.Dir(optimized), 1, nil); err != nil {
		return 0, f.handleError(ctx, logCtx, docRef, "failed to split PDF", err)
	}

	pages := make(map[string]models.PageRecord, pageCount)
	for i := 1; i <= pageCount; i++ {
		pages[models.PageKey(i)] = models.PageRecord{Status: models.PageStatusNew, PageNumber: i}
	}
	updates := []firestore.Update{
		{Path: "status", Value: RecordSplitting},
		{Path: "pageCount", Value: pageCount},
		{Path: "pages", Value: pages},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := docRef.Update(ctx, updates); err != nil {
		return 0, f.handleError(ctx, logCtx, docRef, "failed to update status to SPLITTING", err)
	}
	logCtx.Info("PDF optimized and split locally.", "pageCount", pageCount)
	return pageCount, nil
}

func (f *PDFSplitterFunction) uploadSplitPages(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, optimizedPdfPath string, pageCount int) (map[int]string, error) {
	logCtx.Info("Starting concurrent upload of pages.", "pageCount", pageCount)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)

	splitFileBase := strings.TrimSuffix(optimizedPdfPath, filepath.Ext(optimizedPdfPath))
	uris := make([]string, pageCount+1)

	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		localSplitFilePath := fmt.Sprintf("%s_%d.pdf", splitFileBase, pageNumber)
		gcsDestObject := fmt.Sprintf("%s/%05d.pdf", docRef.ID, pageNumber)

		eg.Go(func() error {
			if err := f.uploadFile(gctx, localSplitFilePath, gcsDestObject); err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			uri := gcp.GCSURI(f.config.SplitPagesBucket, gcsDestObject)
			key := models.PageKey(pageNumber)
			_, err := docRef.Update(gctx, []firestore.Update{
				{FieldPath: firestore.FieldPath{"pages", key, "status"}, Value: string(models.PageStatusSplit)},
				{FieldPath: firestore.FieldPath{"pages", key, "documentUri"}, Value: uri},
			})
			if err != nil {
				return fmt.Errorf("page %d: failed to record split: %w", pageNumber, err)
			}
			uris[pageNumber] = uri
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "one or more pages failed to upload", err)
	}

	out := make(map[int]string, pageCount)
	for n := 1; n <= pageCount; n++ {
		out[n] = uris[n]
	}
	logCtx.Info("All pages uploaded successfully.")
	return out, nil
}

func (f *PDFSplitterFunction) triggerOCR(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, name string, pageURIs map[int]string) error {
	logCtx.Info("Triggering OCR workflow.")
	pages := make([]models.PageOCRRequest, 0, len(pageURIs))
	for n := 1; n <= len(pageURIs); n++ {
		pages = append(pages, models.PageOCRRequest{DocumentID: docRef.ID, PageNumber: n, GCSUri: pageURIs[n]})
	}
	payloadBytes, err := json.Marshal(map[string]interface{}{
		"documentId":   docRef.ID,
		"documentName": name,
		"pages":        pages,
	})
	if err != nil {
		return f.handleError(ctx, logCtx, docRef, "failed to marshal workflow payload", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.OCRWorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := f.executionsClient.CreateExecution(ctx, req); err != nil {
		return f.handleError(ctx, logCtx, docRef, "failed to trigger OCR workflow execution", err)
	}
	if err := f.updateStatus(ctx, docRef, RecordSplit, ""); err != nil {
		logCtx.Warn("Failed to update status to SPLIT", "error", err)
	}
	return nil
}

func (f *PDFSplitterFunction) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.updateStatus(ctx, docRef, RecordFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}

func (f *PDFSplitterFunction) updateStatus(ctx context.Context, docRef *firestore.DocumentRef, recordStatus, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: recordStatus},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := docRef.Update(ctx, updates)
	return err
}

func (f *PDFSplitterFunction) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	gcsReader, err := f.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

func (f *PDFSplitterFunction) uploadFile(ctx context.Context, localPath, destObject string) error {
	return withRetry(ctx, "gcsObject", destObject, func() error {
		localFileReader, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("could not open local file %s: %w", localPath, err)
		}
		defer localFileReader.Close()

		writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
		defer cancel()

		gcsWriter := f.storageClient.Bucket(f.config.SplitPagesBucket).Object(destObject).NewWriter(writeCtx)
		if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
			_ = gcsWriter.Close()
			return fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := gcsWriter.Close(); err != nil {
			return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return nil
	})
}

// withRetry runs op up to four times with a doubling backoff.
func withRetry(ctx context.Context, logKey, logValue string, op func() error) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn(
			"Operation failed, will retry.",
			logKey, logValue,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", logKey, logValue, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Operation failed after all retries.", logKey, logValue, "error", lastErr)
	return fmt.Errorf("%s failed after all retries: %w", logValue, lastErr)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
