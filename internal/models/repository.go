package models

import (
	"fmt"
	"time"
)

// ModerationStatus is the approval state of a committed document version.
// The numeric values are the repository's wire values.
type ModerationStatus int

const (
	ModerationApproved  ModerationStatus = 0
	ModerationRejected  ModerationStatus = 1
	ModerationPending   ModerationStatus = 2
	ModerationDraft     ModerationStatus = 3
	ModerationScheduled ModerationStatus = 4
)

func (s ModerationStatus) String() string {
	switch s {
	case ModerationApproved:
		return "Approved"
	case ModerationRejected:
		return "Rejected"
	case ModerationPending:
		return "Pending"
	case ModerationDraft:
		return "Draft"
	case ModerationScheduled:
		return "Scheduled"
	default:
		return fmt.Sprintf("ModerationStatus(%d)", int(s))
	}
}

// ApprovalState is attached to a committed document version.
type ApprovalState struct {
	ModerationStatus    ModerationStatus `json:"moderationStatus"`
	Comment             string           `json:"comment,omitempty"`
	AutoApproveEligible bool             `json:"autoApproveEligible"`
}

// ItemVersion is one entry of an item's version history.
type ItemVersion struct {
	VersionLabel     string           `json:"versionLabel" firestore:"versionLabel"`
	RevisionMarker   string           `json:"revisionMarker" firestore:"revisionMarker"`
	ModerationStatus ModerationStatus `json:"moderationStatus" firestore:"moderationStatus"`
	Comment          string           `json:"comment,omitempty" firestore:"comment,omitempty"`
	Fields           Fields           `json:"fields,omitempty" firestore:"-"`
	CreatedAt        time.Time        `json:"createdAt" firestore:"createdAt"`
}

// RevisionCandidate is the advisory result of looking for an existing drawing.
// It is recomputed whenever the identifying fields change and never stored.
type RevisionCandidate struct {
	MatchFound           bool          `json:"matchFound"`
	ItemID               string        `json:"itemId,omitempty"`
	ExistingVersions     []ItemVersion `json:"existingVersions,omitempty"`
	NextRevisionToken    string        `json:"nextRevisionToken,omitempty"`
	OverwriteWarningText string        `json:"overwriteWarningText,omitempty"`
	Autofill             Fields        `json:"autofill,omitempty"`
}

// SearchCell is one raw key/value cell of a search result row.
type SearchCell struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SearchRow is one search result as returned by the repository's index.
type SearchRow struct {
	Cells []SearchCell `json:"cells"`
}

// Value extracts the cell value for key.
func (r SearchRow) Value(key string) string {
	for _, c := range r.Cells {
		if c.Key == key {
			return c.Value
		}
	}
	return ""
}

// SearchScope restricts a search to (or away from) one distribution marker.
type SearchScope struct {
	Field   string
	Value   string
	Exclude bool
}

// Folder is a repository folder resolved by EnsureFolder.
type Folder struct {
	ID       string   `json:"id"`
	Segments []string `json:"segments"`
	Created  bool     `json:"created"`
}

// JobEvent names an entry in a copy job's log stream.
type JobEvent string

const (
	JobStart      JobEvent = "JobStart"
	JobLogCreated JobEvent = "JobLogFileCreate"
	JobWarning    JobEvent = "JobWarning"
	JobError      JobEvent = "JobError"
	JobFatalError JobEvent = "JobFatalError"
	JobCancelled  JobEvent = "JobCancel"
	JobEnd        JobEvent = "JobEnd"
)

// Terminal reports whether the event ends a copy job.
func (e JobEvent) Terminal() bool {
	return e == JobEnd || e == JobFatalError || e == JobCancelled
}

// JobLogEntry is one entry of a copy job's log stream.
type JobLogEntry struct {
	Event   JobEvent  `json:"event" firestore:"event"`
	Time    time.Time `json:"time" firestore:"time"`
	Message string    `json:"message,omitempty" firestore:"message,omitempty"`
}

// CopyJobOptions configure an asynchronous cross-location copy.
type CopyJobOptions struct {
	IsMoveMode           bool `json:"isMoveMode"`
	IgnoreVersionHistory bool `json:"ignoreVersionHistory"`
	AllowSchemaMismatch  bool `json:"allowSchemaMismatch"`
}

// CopyJob tracks an in-flight cross-location move.
type CopyJob struct {
	JobID          string        `json:"jobId" firestore:"jobId"`
	EncryptionKey  string        `json:"encryptionKey" firestore:"encryptionKey"`
	ProgressURI    string        `json:"progressUri" firestore:"progressUri"`
	SourceURI      string        `json:"sourceUri" firestore:"sourceUri"`
	DestinationURI string        `json:"destinationUri" firestore:"destinationUri"`
	Logs           []JobLogEntry `json:"logs,omitempty" firestore:"logs"`
}

// Item is the Firestore record of a committed drawing.
type Item struct {
	ID               string            `firestore:"-"`
	Fields           map[string]string `firestore:"fields"`
	Location         string            `firestore:"location"`
	Distribution     string            `firestore:"distribution,omitempty"`
	ModerationStatus ModerationStatus  `firestore:"moderationStatus"`
	CurrentRevision  string            `firestore:"currentRevision,omitempty"`
	VersionCount     int               `firestore:"versionCount"`
	UpdatedAt        time.Time         `firestore:"updatedAt"`
}
