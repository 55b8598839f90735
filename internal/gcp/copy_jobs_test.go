package gcp

import (
	"path"
	"testing"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/models"
)

func TestNewCopyJobCarriesKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	a, err := newCopyJob("/Staging/roof.pdf", "/Drawings/A1/roof.pdf", now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newCopyJob("/Staging/roof.pdf", "/Drawings/A1/roof.pdf", now)
	if err != nil {
		t.Fatal(err)
	}

	if len(a.EncryptionKey) != 64 {
		t.Fatalf("key = %q, want 32 hex-encoded bytes", a.EncryptionKey)
	}
	if a.EncryptionKey == b.EncryptionKey || a.JobID == b.JobID {
		t.Fatalf("jobs share identity: %s/%s", a.JobID, a.EncryptionKey)
	}
	if a.ProgressURI != path.Join(copyJobsCollection, a.JobID) {
		t.Fatalf("progress uri = %s", a.ProgressURI)
	}
	if len(a.Logs) != 1 || a.Logs[0].Event != models.JobStart || !a.Logs[0].Time.Equal(now) {
		t.Fatalf("logs = %+v", a.Logs)
	}
}

func TestCheckJobKey(t *testing.T) {
	stored := models.CopyJob{JobID: "job-1", EncryptionKey: "abc123"}
	tests := []struct {
		name    string
		key     string
		stored  models.CopyJob
		wantErr bool
	}{
		{"matching key", "abc123", stored, false},
		{"wrong key", "abc124", stored, true},
		{"missing key", "", stored, true},
		{"stored without key", "", models.CopyJob{JobID: "job-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkJobKey(models.CopyJob{JobID: "job-1", EncryptionKey: tt.key}, tt.stored)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkJobKey() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
