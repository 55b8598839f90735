package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/Lllllllleong/drawingmigration/internal/search"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	itemsCollection    = "items"
	versionsCollection = "versions"
	foldersCollection  = "folders"
	copyJobsCollection = "copyJobs"
	draftsFolder       = "drafts"
)

// RepositoryConfig holds the Firestore, GCS and Workflows settings of the
// content repository.
type RepositoryConfig struct {
	ProjectID        string
	Collection       string
	SourceBucket     string
	SplitPagesBucket string
	ContentBucket    string
	WorkflowID       string
	WorkflowLocation string
	Distribution     string
	MaxNameLength    int
}

// RepositoryConfigFrom picks the repository settings out of cfg.
func RepositoryConfigFrom(cfg *config.Config) RepositoryConfig {
	return RepositoryConfig{
		ProjectID:        cfg.ProjectID,
		Collection:       cfg.FirestoreCollection,
		SourceBucket:     cfg.SourceBucket,
		SplitPagesBucket: cfg.SplitPagesBucket,
		ContentBucket:    cfg.ContentBucket,
		WorkflowID:       cfg.WorkflowID,
		WorkflowLocation: cfg.WorkflowLocation,
		Distribution:     cfg.DistributionMarker,
		MaxNameLength:    cfg.MaxNameLength,
	}
}

// Repository is the content repository the engine drives: split records
// and committed items in Firestore, files in GCS, split jobs in Workflows
// and the item index in search.
type Repository struct {
	firestoreClient  *firestore.Client
	storageClient    *storage.Client
	executionsClient *executions.Client
	index            search.Index
	config           RepositoryConfig
	logger           *slog.Logger
}

// NewRepository creates the GCP clients. The caller owns index.
func NewRepository(ctx context.Context, cfg RepositoryConfig, index search.Index, logger *slog.Logger) (*Repository, error) {
	if cfg.ContentBucket == "" {
		return nil, fmt.Errorf("CONTENT_BUCKET environment variable must be set")
	}
	firestoreClient, err := NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		firestoreClient:  firestoreClient,
		storageClient:    storageClient,
		executionsClient: executionsClient,
		index:            index,
		config:           cfg,
		logger:           logger,
	}, nil
}

// Close releases the GCP clients.
func (r *Repository) Close() error {
	return errors.Join(
		r.firestoreClient.Close(),
		r.storageClient.Close(),
		r.executionsClient.Close(),
	)
}

func (r *Repository) documentRef(name string) *firestore.DocumentRef {
	return r.firestoreClient.Collection(r.config.Collection).Doc(DocumentID(name))
}

// ListDocumentNames returns the names of every document with a split record.
func (r *Repository) ListDocumentNames(ctx context.Context) ([]string, error) {
	iter := r.firestoreClient.Collection(r.config.Collection).Select("name").Documents(ctx)
	defer iter.Stop()

	var names []string
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		if name, ok := snap.Data()["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// StartSplitJob runs the split workflow for a source object. The splitter
// skips files it has already split.
func (r *Repository) StartSplitJob(ctx context.Context, docName string) error {
	payload, err := json.Marshal(models.SplitRequest{Bucket: r.config.SourceBucket, Name: docName})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", r.config.ProjectID, r.config.WorkflowLocation, r.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	exec, err := r.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger split workflow: %w", err)
	}
	r.logger.Info("Split workflow started", "documentName", docName, "execution", exec.GetName())
	return nil
}

// GetSplitStatus reads the page map of a document's split record.
func (r *Repository) GetSplitStatus(ctx context.Context, docName string) (models.SplitStatus, error) {
	snap, err := r.documentRef(docName).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.SplitStatus{}, fmt.Errorf("no split record for %s: %w", docName, err)
	}
	if err != nil {
		return models.SplitStatus{}, fmt.Errorf("failed to read split record: %w", err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return models.SplitStatus{}, fmt.Errorf("failed to decode split record: %w", err)
	}
	return doc.ToSplitStatus(), nil
}

// CommitPage copies a page's PDF into the content bucket as a new draft
// version and marks the page PROCESSED.
func (r *Repository) CommitPage(ctx context.Context, docName, pageKey string, fields models.Fields) (string, error) {
	snap, err := r.documentRef(docName).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read split record: %w", err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("failed to decode split record: %w", err)
	}
	page, ok := doc.Pages[pageKey]
	if !ok || page.DocumentURI == "" {
		return "", fmt.Errorf("page %s of %s has no split file", pageKey, docName)
	}

	itemID, err := r.commit(ctx, page.DocumentURI, fields)
	if err != nil {
		return "", err
	}

	updates := []firestore.Update{
		{FieldPath: firestore.FieldPath{"pages", pageKey, "status"}, Value: string(models.PageStatusProcessed)},
		{FieldPath: firestore.FieldPath{"pages", pageKey, "repositoryId"}, Value: itemID},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := snap.Ref.Update(ctx, updates); err != nil {
		return "", fmt.Errorf("failed to mark page processed: %w", err)
	}
	return itemID, nil
}

// SaveDocument commits the whole source file as one drawing.
func (r *Repository) SaveDocument(ctx context.Context, docName string, fields models.Fields) (string, error) {
	itemID, err := r.commit(ctx, GCSURI(r.config.SourceBucket, docName), fields)
	if err != nil {
		return "", err
	}
	updates := []firestore.Update{
		{Path: "commonFields", Value: fields.ToMap()},
		{Path: "status", Value: string(models.PageStatusProcessed)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if _, err := r.documentRef(docName).Update(ctx, updates); err != nil {
		return "", fmt.Errorf("failed to record document commit: %w", err)
	}
	return itemID, nil
}

type versionRecord struct {
	models.ItemVersion
	Fields map[string]string `firestore:"fields"`
}

func (r *Repository) commit(ctx context.Context, sourceURI string, fields models.Fields) (string, error) {
	itemID := ItemID(fields)
	location := "/" + path.Join(draftsFolder, itemID+".pdf")
	logCtx := r.logger.With("itemId", itemID, "sourceUri", sourceURI)

	srcBucket, srcObject, err := ParseGCSURI(sourceURI)
	if err != nil {
		return "", err
	}
	dst := r.storageClient.Bucket(r.config.ContentBucket).Object(strings.TrimPrefix(location, "/"))
	if _, err := dst.CopierFrom(r.storageClient.Bucket(srcBucket).Object(srcObject)).Run(ctx); err != nil {
		logCtx.Error("Failed to copy file into the content bucket", "error", err)
		return "", fmt.Errorf("failed to copy %s: %w", sourceURI, err)
	}

	itemRef := r.firestoreClient.Collection(itemsCollection).Doc(itemID)
	err = r.firestoreClient.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var item models.Item
		snap, err := tx.Get(itemRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&item); err != nil {
				return err
			}
		}
		now := time.Now()
		item.VersionCount++
		item.Fields = fields.ToMap()
		item.Location = location
		item.Distribution = r.config.Distribution
		item.ModerationStatus = models.ModerationDraft
		item.CurrentRevision = fields.Get(models.FieldRevision)
		item.UpdatedAt = now

		version := versionRecord{
			ItemVersion: models.ItemVersion{
				VersionLabel:     fmt.Sprintf("%d.0", item.VersionCount),
				RevisionMarker:   fields.Get(models.FieldRevision),
				ModerationStatus: models.ModerationDraft,
				CreatedAt:        now,
			},
			Fields: fields.ToMap(),
		}
		versionRef := itemRef.Collection(versionsCollection).Doc(fmt.Sprintf("%05d", item.VersionCount))
		if err := tx.Set(itemRef, item); err != nil {
			return err
		}
		return tx.Set(versionRef, version)
	})
	if err != nil {
		logCtx.Error("Failed to record item version", "error", err)
		return "", fmt.Errorf("failed to record item version: %w", err)
	}

	if r.index != nil {
		rec := search.Record{ID: itemID, Fields: fields.ToMap(), Distribution: r.config.Distribution}
		if err := r.index.IndexItem(ctx, rec); err != nil {
			logCtx.Warn("Failed to index committed item", "error", err)
		}
	}
	logCtx.Info("Committed drawing", "location", location)
	return itemID, nil
}

// SearchItems delegates to the search index.
func (r *Repository) SearchItems(ctx context.Context, filter string, selectFields []string, rowLimit int) ([]models.SearchRow, error) {
	if r.index == nil {
		return nil, fmt.Errorf("no search index configured")
	}
	return r.index.Search(ctx, filter, selectFields, rowLimit)
}

// ListItemVersions returns an item's versions, newest first. An unknown item
// has no versions.
func (r *Repository) ListItemVersions(ctx context.Context, itemID string) ([]models.ItemVersion, error) {
	iter := r.firestoreClient.Collection(itemsCollection).Doc(itemID).Collection(versionsCollection).
		OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var versions []models.ItemVersion
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", itemID, err)
		}
		var rec versionRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode version %s: %w", snap.Ref.ID, err)
		}
		v := rec.ItemVersion
		v.Fields = models.FieldsFromMap(rec.Fields)
		versions = append(versions, v)
	}
	return versions, nil
}

// SetModerationStatus updates the latest version of an item, or a folder
// when itemID is a folder id.
func (r *Repository) SetModerationStatus(ctx context.Context, itemID string, moderation models.ModerationStatus, comment string) error {
	if folderPath, ok := strings.CutPrefix(itemID, folderPrefix); ok {
		_, err := r.firestoreClient.Collection(foldersCollection).Doc(DocumentID(folderPath)).Set(ctx, map[string]interface{}{
			"path":             folderPath,
			"moderationStatus": int(moderation),
			"comment":          comment,
			"updatedAt":        firestore.ServerTimestamp,
		}, firestore.MergeAll)
		if err != nil {
			return fmt.Errorf("failed to set folder moderation: %w", err)
		}
		return nil
	}

	itemRef := r.firestoreClient.Collection(itemsCollection).Doc(itemID)
	latest := itemRef.Collection(versionsCollection).OrderBy("createdAt", firestore.Desc).Limit(1)
	return r.firestoreClient.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(latest).GetAll()
		if err != nil {
			return fmt.Errorf("failed to read latest version: %w", err)
		}
		if len(snaps) == 0 {
			return fmt.Errorf("item %s has no versions", itemID)
		}
		if err := tx.Update(snaps[0].Ref, []firestore.Update{
			{Path: "moderationStatus", Value: int(moderation)},
			{Path: "comment", Value: comment},
		}); err != nil {
			return err
		}
		return tx.Update(itemRef, []firestore.Update{
			{Path: "moderationStatus", Value: int(moderation)},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
}
