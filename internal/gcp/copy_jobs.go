package gcp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/google/uuid"
)

const copyJobTimeout = 10 * time.Minute

// EnsureFolder creates the placeholder object of one folder. The parent
// folder must already exist. An existing folder is returned with
// Created=false.
func (r *Repository) EnsureFolder(ctx context.Context, segments []string) (models.Folder, error) {
	if len(segments) == 0 {
		return models.Folder{}, fmt.Errorf("empty folder path")
	}
	bucket := r.storageClient.Bucket(r.config.ContentBucket)
	if len(segments) > 1 {
		parent := folderObject(segments[:len(segments)-1])
		if _, err := bucket.Object(parent).Attrs(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return models.Folder{}, fmt.Errorf("parent folder %s does not exist", parent)
			}
			return models.Folder{}, fmt.Errorf("failed to check parent folder %s: %w", parent, err)
		}
	}

	folder := models.Folder{ID: FolderID(segments), Segments: append([]string(nil), segments...)}
	err := WriteIfAbsent(ctx, bucket, folderObject(segments), nil)
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return folder, nil
	case err != nil:
		return models.Folder{}, err
	}
	folder.Created = true
	return folder, nil
}

func folderObject(segments []string) string {
	return strings.Join(segments, "/") + "/"
}

// StartCopyJob records a copy job and runs it in the background. Progress is
// appended to the job's log stream in Firestore.
func (r *Repository) StartCopyJob(ctx context.Context, sourceURI, destURI string, opts models.CopyJobOptions) (models.CopyJob, error) {
	job, err := newCopyJob(sourceURI, destURI, time.Now())
	if err != nil {
		return models.CopyJob{}, err
	}
	ref := r.firestoreClient.Collection(copyJobsCollection).Doc(job.JobID)
	if _, err := ref.Create(ctx, job); err != nil {
		return models.CopyJob{}, fmt.Errorf("failed to record copy job: %w", err)
	}

	go r.runCopyJob(ref, job, opts)
	return job, nil
}

// newCopyJob builds the record of a new job. The encryption key is the
// caller's credential for polling it.
func newCopyJob(sourceURI, destURI string, now time.Time) (models.CopyJob, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return models.CopyJob{}, fmt.Errorf("failed to generate copy job key: %w", err)
	}
	jobID := uuid.NewString()
	return models.CopyJob{
		JobID:          jobID,
		EncryptionKey:  hex.EncodeToString(key),
		ProgressURI:    path.Join(copyJobsCollection, jobID),
		SourceURI:      sourceURI,
		DestinationURI: destURI,
		Logs:           []models.JobLogEntry{{Event: models.JobStart, Time: now}},
	}, nil
}

func checkJobKey(job, stored models.CopyJob) error {
	if stored.EncryptionKey == "" || subtle.ConstantTimeCompare([]byte(job.EncryptionKey), []byte(stored.EncryptionKey)) != 1 {
		return fmt.Errorf("copy job %s: key does not match", job.JobID)
	}
	return nil
}

func (r *Repository) runCopyJob(ref *firestore.DocumentRef, job models.CopyJob, opts models.CopyJobOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), copyJobTimeout)
	defer cancel()
	logCtx := r.logger.With("jobId", job.JobID, "source", job.SourceURI, "destination", job.DestinationURI)

	appendLog := func(event models.JobEvent, message string) {
		entry := models.JobLogEntry{Event: event, Time: time.Now(), Message: message}
		if _, err := ref.Update(ctx, []firestore.Update{{Path: "logs", Value: firestore.ArrayUnion(entry)}}); err != nil {
			logCtx.Error("Failed to append copy job log", "event", event, "error", err)
		}
	}

	if name := path.Base(job.DestinationURI); r.config.MaxNameLength > 0 && len(name) > r.config.MaxNameLength {
		appendLog(models.JobWarning, fmt.Sprintf("name %q is longer than %d characters", name, r.config.MaxNameLength))
	}

	bucket := r.storageClient.Bucket(r.config.ContentBucket)
	src := bucket.Object(strings.TrimPrefix(job.SourceURI, "/"))
	dst := bucket.Object(strings.TrimPrefix(job.DestinationURI, "/"))
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		logCtx.Error("Copy job failed", "error", err)
		appendLog(models.JobFatalError, err.Error())
		return
	}

	if opts.IsMoveMode {
		if err := src.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			logCtx.Warn("Copied but failed to delete source", "error", err)
			appendLog(models.JobError, fmt.Sprintf("source not removed: %v", err))
		}
		if err := r.relocateItems(ctx, job.SourceURI, job.DestinationURI); err != nil {
			logCtx.Warn("Failed to update item locations", "error", err)
			appendLog(models.JobWarning, fmt.Sprintf("item location not updated: %v", err))
		}
	}
	appendLog(models.JobEnd, "")
	logCtx.Info("Copy job finished")
}

func (r *Repository) relocateItems(ctx context.Context, from, to string) error {
	snaps, err := r.firestoreClient.Collection(itemsCollection).Where("location", "==", from).Documents(ctx).GetAll()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if _, err := snap.Ref.Update(ctx, []firestore.Update{
			{Path: "location", Value: to},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		}); err != nil {
			return err
		}
	}
	return nil
}

// PollCopyJob returns the job's log stream so far. The job must carry the
// key it was started with.
func (r *Repository) PollCopyJob(ctx context.Context, job models.CopyJob) ([]models.JobLogEntry, error) {
	snap, err := r.firestoreClient.Collection(copyJobsCollection).Doc(job.JobID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read copy job %s: %w", job.JobID, err)
	}
	var stored models.CopyJob
	if err := snap.DataTo(&stored); err != nil {
		return nil, fmt.Errorf("failed to decode copy job %s: %w", job.JobID, err)
	}
	if err := checkJobKey(job, stored); err != nil {
		return nil, err
	}
	return stored.Logs, nil
}
