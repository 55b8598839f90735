package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/drawingmigration/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// DocumentID is the Firestore id of a source document's record. Names may
// contain slashes, which document ids cannot.
func DocumentID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:16])
}

// ItemID derives a committed drawing's id from its identifying fields, so
// a second commit of the same drawing lands on the same item.
func ItemID(fields models.Fields) string {
	parts := make([]string, 0, len(models.IdentifyingFields))
	for _, k := range models.IdentifyingFields {
		parts = append(parts, strings.ToLower(fields.Get(k)))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}

// FolderID is the id of a folder placeholder; SetModerationStatus uses the
// prefix to tell folders from items.
func FolderID(segments []string) string {
	return folderPrefix + strings.Join(segments, "/")
}

const folderPrefix = "folder:"
