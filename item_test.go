package uploadkit

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	all := []Status{
		StatusValidating, StatusQueued, StatusUploading, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled, StatusRejected,
	}
	allowed := map[[2]Status]bool{
		{StatusValidating, StatusQueued}:   true,
		{StatusValidating, StatusRejected}: true,
		{StatusQueued, StatusUploading}:    true,
		{StatusQueued, StatusCancelled}:    true,
		{StatusUploading, StatusCompleted}: true,
		{StatusUploading, StatusFailed}:    true,
		{StatusUploading, StatusPaused}:    true,
		{StatusUploading, StatusCancelled}: true,
		{StatusUploading, StatusQueued}:    true,
		{StatusPaused, StatusQueued}:       true,
		{StatusPaused, StatusCancelled}:    true,
		{StatusFailed, StatusQueued}:       true,
		{StatusFailed, StatusCancelled}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		failure  bool
		pending  bool
	}{
		{StatusValidating, false, false, true},
		{StatusQueued, false, false, true},
		{StatusUploading, false, false, true},
		{StatusPaused, false, false, true},
		{StatusCompleted, true, false, false},
		{StatusFailed, true, true, false},
		{StatusCancelled, true, false, false},
		{StatusRejected, true, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsFailure(); got != tt.failure {
				t.Errorf("IsFailure() = %v, want %v", got, tt.failure)
			}
			if got := tt.status.isPending(); got != tt.pending {
				t.Errorf("isPending() = %v, want %v", got, tt.pending)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	items := []Item{
		{Status: StatusCompleted, Size: 10},
		{Status: StatusCompleted, Size: 5},
		{Status: StatusFailed, Size: 7},
		{Status: StatusCancelled, Size: 1},
		{Status: StatusRejected, Size: 2},
	}
	got := summarize(items, start, start.Add(90*time.Second))
	want := BatchSummary{Total: 5, Completed: 2, Failed: 1, Cancelled: 1, Rejected: 1, Bytes: 15, Duration: 90 * time.Second}
	if got != want {
		t.Errorf("summarize() = %+v, want %+v", got, want)
	}
}

func TestItemDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if d := (Item{StartedAt: start}).Duration(); d != 0 {
		t.Errorf("Duration() of unfinished item = %v, want 0", d)
	}
	if d := (Item{StartedAt: start, EndedAt: start.Add(3 * time.Second)}).Duration(); d != 3*time.Second {
		t.Errorf("Duration() = %v, want 3s", d)
	}
}
