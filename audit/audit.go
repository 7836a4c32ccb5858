// Package audit records an append-only trail of security and upload events.
//
// Events are values: once created they are never modified. Recorders must be
// safe for concurrent use.
package audit

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Action names an audited occurrence.
type Action string

const (
	ActionSecurityCheck     Action = "security_check"
	ActionAdmissionRejected Action = "admission_rejected"
	ActionUploadStarted     Action = "upload_started"
	ActionUploadCompleted   Action = "upload_completed"
	ActionUploadFailed      Action = "upload_failed"
	ActionUploadCancelled   Action = "upload_cancelled"
	ActionUploadPaused      Action = "upload_paused"
	ActionRetryScheduled    Action = "retry_scheduled"
)

// Event is a single audit record.
type Event struct {
	ID        string            `json:"id"`
	FileID    string            `json:"file_id"`
	Filename  string            `json:"filename"`
	Timestamp time.Time         `json:"timestamp"`
	Action    Action            `json:"action"`
	Flags     []string          `json:"flags,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewEvent stamps an event with a fresh ID and the current time. flags and
// details are copied.
func NewEvent(action Action, fileID, filename string, flags []string, details map[string]string) Event {
	return Event{
		ID:        uuid.NewString(),
		FileID:    fileID,
		Filename:  filename,
		Timestamp: time.Now(),
		Action:    action,
		Flags:     slices.Clone(flags),
		Details:   maps.Clone(details),
	}
}

// clone returns a deep copy so callers cannot reach a recorder's storage.
func (e Event) clone() Event {
	e.Flags = slices.Clone(e.Flags)
	e.Details = maps.Clone(e.Details)
	return e
}

// Recorder accepts audit events.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(Event)

// Record calls f(e).
func (f RecorderFunc) Record(e Event) { f(e) }

// Nop discards every event.
var Nop Recorder = RecorderFunc(func(Event) {})

type multiRecorder []Recorder

func (m multiRecorder) Record(e Event) {
	for _, r := range m {
		r.Record(e.clone())
	}
}

// Multi fans each event out to every recorder in order. Nil recorders are
// skipped.
func Multi(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
