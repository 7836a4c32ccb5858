package uploadkit

import (
	"io"
	"time"

	"github.com/gobeaver/uploadkit/backend"
	"github.com/gobeaver/uploadkit/filevalidator"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusValidating Status = "validating"
	StatusQueued     Status = "queued"
	StatusUploading  Status = "uploading"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	// StatusRejected is a validation failure. It is terminal and cannot be
	// retried.
	StatusRejected Status = "rejected"
)

// validTransitions is the status transition matrix. Uploading -> Queued is
// a scheduled retry, Failed -> Queued a manual one.
var validTransitions = map[Status]map[Status]bool{
	StatusValidating: {StatusQueued: true, StatusRejected: true},
	StatusQueued:     {StatusUploading: true, StatusCancelled: true},
	StatusUploading: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusPaused:    true,
		StatusCancelled: true,
		StatusQueued:    true,
	},
	StatusPaused:    {StatusQueued: true, StatusCancelled: true},
	StatusFailed:    {StatusQueued: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusRejected:  {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// IsTerminal reports whether no further automatic progress will happen.
// Failed is included: only a manual retry moves it again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// IsFailure reports a failed transfer or a failed validation.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusRejected
}

// isPending reports states that keep a run from completing.
func (s Status) isPending() bool {
	switch s {
	case StatusValidating, StatusQueued, StatusUploading, StatusPaused:
		return true
	}
	return false
}

// File is a payload offered for upload. Content is read through section
// readers, once per transfer attempt; if it also implements io.Closer it is
// closed when its item leaves the manager.
type File struct {
	Name         string
	Size         int64
	DeclaredType string
	Content      io.ReaderAt
}

// CaseContext carries the filing metadata sent with every file of a batch.
type CaseContext struct {
	// UserID keys the submission quota.
	UserID        string
	CaseID        string
	DocumentType  string
	FilingDate    time.Time
	Description   string
	CaseNumber    string
	ExhibitNumber string
}

// Candidate is a validated file offered to Enqueue.
type Candidate struct {
	// ID is used as the item ID when set, so the verdict's audit event and
	// the item share an identifier.
	ID      string
	File    File
	Verdict *filevalidator.Verdict
	Case    CaseContext
}

// Item is a point-in-time copy of a queue entry.
type Item struct {
	ID           string
	Name         string
	Size         int64
	DeclaredType string
	Status       Status

	RetryCount int
	// Attempt counts transfer attempts, including the current one.
	Attempt int
	// NextAttemptAt is set while a retry backoff is pending.
	NextAttemptAt time.Time

	// Progress is 0-100.
	Progress float64
	// Throughput is bytes per second of the active transfer.
	Throughput float64

	Verdict  *filevalidator.Verdict
	Document *backend.Document
	Error    string

	Case      CaseContext
	AddedAt   time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the time from the first transfer attempt to completion, or
// zero while the item has not finished.
func (i Item) Duration() time.Duration {
	if i.StartedAt.IsZero() || i.EndedAt.IsZero() {
		return 0
	}
	return i.EndedAt.Sub(i.StartedAt)
}

// clone copies the item so the caller cannot reach the manager's record.
func (i Item) clone() Item {
	if i.Document != nil {
		doc := *i.Document
		i.Document = &doc
	}
	return i
}

// BatchSummary is delivered once when a run finishes.
type BatchSummary struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Rejected  int
	// Bytes is the size of the completed files.
	Bytes    int64
	Duration time.Duration
}

func summarize(items []Item, started time.Time, now time.Time) BatchSummary {
	s := BatchSummary{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case StatusCompleted:
			s.Completed++
			s.Bytes += it.Size
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		case StatusRejected:
			s.Rejected++
		}
	}
	if !started.IsZero() {
		s.Duration = now.Sub(started)
	}
	return s
}
