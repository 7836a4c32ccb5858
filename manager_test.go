package uploadkit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gobeaver/uploadkit/audit"
	"github.com/gobeaver/uploadkit/backend"
	"github.com/gobeaver/uploadkit/filevalidator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_Admission(t *testing.T) {
	failing := func() *filevalidator.Verdict {
		v := passing()
		v.Errors = []string{"malicious content detected: script_tag"}
		v.MaliciousContentDetected = true
		v.Score = 50
		return v
	}

	tests := []struct {
		name       string
		mutate     func(*Config)
		candidates func() []Candidate
		admitted   int
		wantErrs   []error
		items      int
	}{
		{
			name:       "passing verdicts are queued",
			candidates: func() []Candidate { return []Candidate{candidate("a.pdf", 10), candidate("b.pdf", 20)} },
			admitted:   2,
			items:      2,
		},
		{
			name: "missing verdict",
			candidates: func() []Candidate {
				c := candidate("a.pdf", 10)
				c.Verdict = nil
				return []Candidate{c}
			},
			wantErrs: []error{ErrNotValidated},
		},
		{
			name: "verdict with errors becomes a rejected item",
			candidates: func() []Candidate {
				c := candidate("evil.pdf", 10)
				c.Verdict = failing()
				return []Candidate{c}
			},
			wantErrs: []error{ErrValidationFailed},
			items:    1,
		},
		{
			name: "warnings do not block",
			candidates: func() []Candidate {
				c := candidate("locked.pdf", 10)
				c.Verdict.PasswordProtected = true
				c.Verdict.Warnings = []string{"document is password protected"}
				c.Verdict.Score = 90
				return []Candidate{c}
			},
			admitted: 1,
			items:    1,
		},
		{
			name:       "per-file size cap",
			mutate:     func(c *Config) { c.MaxFileSize = 15 },
			candidates: func() []Candidate { return []Candidate{candidate("a.pdf", 10), candidate("b.pdf", 20)} },
			admitted:   1,
			wantErrs:   []error{ErrFileTooLarge},
			items:      1,
		},
		{
			name:   "file count cap",
			mutate: func(c *Config) { c.MaxBatchFiles = 2 },
			candidates: func() []Candidate {
				return []Candidate{candidate("a.pdf", 1), candidate("b.pdf", 1), candidate("c.pdf", 1)}
			},
			admitted: 2,
			wantErrs: []error{ErrTooManyFiles},
			items:    2,
		},
		{
			name:       "batch byte cap",
			mutate:     func(c *Config) { c.MaxBatchBytes = 100 },
			candidates: func() []Candidate { return []Candidate{candidate("a.pdf", 60), candidate("b.pdf", 60)} },
			admitted:   1,
			wantErrs:   []error{ErrBatchTooLarge},
			items:      1,
		},
		{
			name: "duplicate content",
			candidates: func() []Candidate {
				a, b := candidate("a.pdf", 10), candidate("copy of a.pdf", 10)
				b.Verdict.ContentHash = a.Verdict.ContentHash
				b.Verdict.Fingerprint = a.Verdict.Fingerprint
				return []Candidate{a, b}
			},
			admitted: 1,
			wantErrs: []error{ErrDuplicate},
			items:    1,
		},
		{
			name: "unreadable payload",
			candidates: func() []Candidate {
				c := candidate("a.pdf", 10)
				c.File.Content = nil
				return []Candidate{c}
			},
			wantErrs: []error{ErrPermission},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTestManager(t, tt.mutate)

			report := tm.Enqueue(tt.candidates()...)

			assert.Len(t, report.Admitted, tt.admitted)
			require.Len(t, report.Rejected, len(tt.wantErrs))
			for i, want := range tt.wantErrs {
				assert.ErrorIs(t, report.Rejected[i], want)
				assert.True(t, IsAdmissionError(report.Rejected[i]))
			}
			assert.Len(t, tm.Snapshot(), tt.items)
			for _, it := range report.Admitted {
				assert.Equal(t, StatusQueued, it.Status)
			}
			assert.Len(t, tm.recorder.ByAction(audit.ActionAdmissionRejected), len(tt.wantErrs))
		})
	}
}

func TestEnqueue_RejectedItemNeverUploads(t *testing.T) {
	tm := newTestManager(t, nil)

	c := candidate("evil.pdf", 10)
	c.Verdict.Errors = []string{"malicious content detected: script_tag"}
	report := tm.Enqueue(c, candidate("good.pdf", 10))
	require.Len(t, report.Admitted, 1)

	tm.Start()
	summary := <-tm.batches

	assert.Equal(t, []string{"good.pdf"}, tm.uploader.filenames())
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Rejected)

	rejected := report.Rejected[0]
	assert.ErrorIs(t, rejected, ErrValidationFailed)
	assert.Contains(t, rejected.Reason, "script_tag")
	for _, it := range tm.Snapshot() {
		if it.Name == "evil.pdf" {
			assert.Equal(t, StatusRejected, it.Status)
			assert.Zero(t, it.Attempt)
		}
	}
}

func TestStart_SmallestFirst(t *testing.T) {
	tm := newTestManager(t, func(c *Config) { c.BatchSize = 1 })

	tm.Enqueue(candidate("large.pdf", 30), candidate("small.pdf", 10), candidate("medium.pdf", 20), candidate("tiny-too.pdf", 10))
	tm.Start()
	<-tm.batches

	assert.Equal(t, []string{"small.pdf", "tiny-too.pdf", "medium.pdf", "large.pdf"}, tm.uploader.filenames())
}

func TestStart_EmptyQueueNeverStarts(t *testing.T) {
	tm := newTestManager(t, nil)

	c := candidate("evil.pdf", 10)
	c.Verdict.Errors = []string{"unrecognized file type"}
	tm.Enqueue(c)
	tm.Start()

	assert.False(t, tm.Running())
	select {
	case s := <-tm.batches:
		t.Fatalf("unexpected batch completion %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	tm := newTestManager(t, nil)
	release := make(chan struct{})
	tm.uploader.handle = func(ctx context.Context, req backend.Request, _ int) (*backend.Document, error) {
		select {
		case <-release:
			return succeed(req)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, name := range []string{"1.pdf", "2.pdf", "3.pdf", "4.pdf", "5.pdf"} {
		tm.Enqueue(candidate(name, 10))
	}
	tm.Start()

	require.Eventually(t, func() bool { return tm.uploader.activeCount() == 3 }, waitFor, tick)
	assert.Equal(t, 3, tm.countStatus(StatusUploading))
	assert.Equal(t, 2, tm.countStatus(StatusQueued))
	assert.Equal(t, 3, tm.Progress().Uploading)

	close(release)
	summary := <-tm.batches

	assert.Equal(t, 5, summary.Completed)
	assert.Equal(t, 5, tm.uploader.callCount())
	tm.uploader.mu.Lock()
	assert.LessOrEqual(t, tm.uploader.maxActive, 3)
	tm.uploader.mu.Unlock()
}

func TestRetryBackoff(t *testing.T) {
	tm := newTestManager(t, nil)
	tm.uploader.handle = func(context.Context, backend.Request, int) (*backend.Document, error) {
		return nil, errConnectionReset
	}
	events, stop := tm.Subscribe()
	defer stop()

	report := tm.Enqueue(candidate("brief.pdf", 2048))
	id := report.Admitted[0].ID
	tm.Start()

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return len(tm.sched.delays()) == i }, waitFor, tick)
		it, err := tm.Item(id)
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, it.Status)
		assert.Equal(t, i, it.RetryCount)
		assert.Equal(t, tm.sched.Now().Add(tm.sched.delays()[i-1]), it.NextAttemptAt)
		require.True(t, tm.sched.fireNext())
	}
	summary := <-tm.batches

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, tm.sched.delays())

	it, err := tm.Item(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, it.Status)
	assert.Equal(t, 3, it.RetryCount)
	assert.Equal(t, 4, it.Attempt)
	assert.Equal(t, "Network error: connection reset by peer", it.Error)
	assert.Equal(t, 1, summary.Failed)

	assert.Len(t, tm.recorder.ByAction(audit.ActionRetryScheduled), 3)
	assert.Len(t, tm.recorder.ByAction(audit.ActionUploadFailed), 1)

	stop()
	last := 0
	for ev := range events {
		if ev.Item.ID != id {
			continue
		}
		assert.GreaterOrEqual(t, ev.Item.RetryCount, last, "retry count went backwards")
		last = ev.Item.RetryCount
	}
	assert.Equal(t, 3, last)
}

func TestRetryBackoff_RecoversBeforeExhaustion(t *testing.T) {
	tm := newTestManager(t, nil)
	tm.uploader.handle = func(_ context.Context, req backend.Request, call int) (*backend.Document, error) {
		if call < 3 {
			return nil, &backend.StatusError{StatusCode: 500, Err: backend.ErrServer}
		}
		return succeed(req)
	}

	var completed []Item
	done := make(chan struct{})
	tm.onItem = func(it Item) {
		completed = append(completed, it)
		close(done)
	}

	tm.Enqueue(candidate("exhibit.pdf", 100))
	tm.Start()

	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool { return len(tm.sched.delays()) == i+1 }, waitFor, tick)
		tm.sched.fireNext()
	}
	<-done
	<-tm.batches

	require.Len(t, completed, 1)
	assert.Equal(t, StatusCompleted, completed[0].Status)
	assert.Equal(t, 2, completed[0].RetryCount)
	assert.Equal(t, "doc-exhibit.pdf", completed[0].Document.ID)
	assert.Equal(t, 100.0, completed[0].Progress)
	assert.Empty(t, completed[0].Error)
}

func TestPauseResume(t *testing.T) {
	tm := newTestManager(t, nil)
	tm.uploader.handle = func(ctx context.Context, req backend.Request, call int) (*backend.Document, error) {
		if call <= 2 {
			return blockUntilCancelled(ctx)
		}
		return succeed(req)
	}

	tm.Enqueue(candidate("a.pdf", 10), candidate("b.pdf", 20))
	tm.Start()
	require.Eventually(t, func() bool { return tm.uploader.activeCount() == 2 }, waitFor, tick)

	tm.Pause()
	tm.Pause()
	assert.True(t, tm.Paused())
	assert.Equal(t, 2, tm.countStatus(StatusPaused))
	for _, it := range tm.Snapshot() {
		assert.Zero(t, it.RetryCount)
	}
	require.Eventually(t, func() bool { return tm.uploader.activeCount() == 0 }, waitFor, tick)
	assert.Equal(t, 2, tm.countStatus(StatusPaused), "aborted transfers must not be treated as failures")
	assert.Empty(t, tm.sched.delays())

	tm.Resume()
	tm.Resume()
	summary := <-tm.batches

	assert.False(t, tm.Paused())
	assert.Equal(t, 4, tm.uploader.callCount())
	assert.Equal(t, 2, summary.Completed)
	for _, it := range tm.Snapshot() {
		assert.Equal(t, StatusCompleted, it.Status)
		assert.Zero(t, it.RetryCount)
		assert.Equal(t, 2, it.Attempt)
	}
	assert.Len(t, tm.recorder.ByAction(audit.ActionUploadPaused), 2)
}

func TestPause_BeforeStartHoldsQueue(t *testing.T) {
	tm := newTestManager(t, nil)
	tm.Pause()
	tm.Enqueue(candidate("a.pdf", 10))
	tm.Start()

	assert.True(t, tm.Running())
	assert.Equal(t, 1, tm.countStatus(StatusQueued))
	assert.Zero(t, tm.uploader.callCount())

	tm.Resume()
	<-tm.batches
	assert.Equal(t, 1, tm.uploader.callCount())
}

func TestCancel(t *testing.T) {
	tm := newTestManager(t, nil)
	tm.uploader.handle = func(ctx context.Context, req backend.Request, _ int) (*backend.Document, error) {
		if req.Filename == "d.pdf" {
			return succeed(req)
		}
		return blockUntilCancelled(ctx)
	}

	report := tm.Enqueue(candidate("a.pdf", 10), candidate("b.pdf", 11), candidate("c.pdf", 12), candidate("d.pdf", 13))
	tm.Start()
	require.Eventually(t, func() bool { return tm.uploader.activeCount() == 3 }, waitFor, tick)

	a := report.Admitted[0].ID
	require.NoError(t, tm.Cancel(a))
	assert.Equal(t, StatusCancelled, tm.statusOf(t, a))

	// The freed slot goes to the queued file.
	require.Eventually(t, func() bool { return tm.statusOf(t, report.Admitted[3].ID) == StatusCompleted }, waitFor, tick)

	err := tm.Cancel(a)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusCancelled, te.From)

	assert.ErrorIs(t, tm.Cancel("missing"), ErrNotFound)

	require.NoError(t, tm.Cancel(report.Admitted[1].ID))
	require.NoError(t, tm.Cancel(report.Admitted[2].ID))
	summary := <-tm.batches
	assert.Equal(t, 3, summary.Cancelled)
	assert.Equal(t, 1, summary.Completed)
	assert.Empty(t, tm.sched.delays(), "cancelled transfers are not retried")
}

func TestCancel_PendingRetry(t *testing.T) {
	tm := newTestManager(t, nil)
	tm.uploader.handle = func(context.Context, backend.Request, int) (*backend.Document, error) {
		return nil, errConnectionReset
	}

	id := tm.Enqueue(candidate("a.pdf", 10)).Admitted[0].ID
	tm.Start()
	require.Eventually(t, func() bool { return len(tm.sched.delays()) == 1 }, waitFor, tick)

	require.NoError(t, tm.Cancel(id))
	<-tm.batches
	assert.False(t, tm.sched.fireNext(), "backoff timer should be stopped")
	assert.Equal(t, 1, tm.uploader.callCount())
}

func TestRetry(t *testing.T) {
	tm := newTestManager(t, func(c *Config) { c.MaxRetries = 0 })
	tm.uploader.handle = func(_ context.Context, req backend.Request, call int) (*backend.Document, error) {
		if call <= 2 {
			return nil, &backend.StatusError{StatusCode: 422, Err: backend.ErrUnprocessable, Message: "The server could not process this file."}
		}
		return succeed(req)
	}

	report := tm.Enqueue(candidate("a.pdf", 10), candidate("b.pdf", 20))
	tm.Start()
	summary := <-tm.batches
	assert.Equal(t, 2, summary.Failed)
	for _, it := range tm.Snapshot() {
		assert.Equal(t, StatusFailed, it.Status)
		assert.Equal(t, "The server could not process this file.", it.Error)
	}

	require.NoError(t, tm.Retry(report.Admitted[0].ID))
	<-tm.batches
	assert.Equal(t, StatusCompleted, tm.statusOf(t, report.Admitted[0].ID))

	assert.Equal(t, 1, tm.RetryAllFailed())
	<-tm.batches
	assert.Equal(t, StatusCompleted, tm.statusOf(t, report.Admitted[1].ID))
	assert.Equal(t, 0, tm.RetryAllFailed())

	err := tm.Retry(report.Admitted[0].ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, tm.Retry("missing"), ErrNotFound)
}

func TestRetry_RejectedIsNotRetryable(t *testing.T) {
	tm := newTestManager(t, nil)
	c := candidate("evil.pdf", 10)
	c.ID = "evil"
	c.Verdict.Errors = []string{"invalid PDF header"}
	tm.Enqueue(c)

	assert.ErrorIs(t, tm.Retry("evil"), ErrNotRetryable)
	assert.Zero(t, tm.RetryAllFailed())
	assert.Equal(t, StatusRejected, tm.statusOf(t, "evil"))
}

func TestClearAll(t *testing.T) {
	tm := newTestManager(t, nil)
	tm.uploader.handle = func(ctx context.Context, _ backend.Request, _ int) (*backend.Document, error) {
		return blockUntilCancelled(ctx)
	}

	payloads := make([]*closingReader, 4)
	for i := range payloads {
		payloads[i] = &closingReader{Reader: bytes.NewReader(make([]byte, 10))}
		c := candidate("f.pdf", 10)
		c.File.Name = string(rune('a'+i)) + ".pdf"
		c.File.Content = payloads[i]
		tm.Enqueue(c)
	}
	tm.Start()
	require.Eventually(t, func() bool { return tm.uploader.activeCount() == 3 }, waitFor, tick)

	tm.ClearAll()

	assert.Empty(t, tm.Snapshot())
	assert.False(t, tm.Running())
	for i, p := range payloads {
		assert.True(t, p.closed.Load(), "payload %d not released", i)
	}
	require.Eventually(t, func() bool { return tm.uploader.activeCount() == 0 }, waitFor, tick)
	assert.Empty(t, tm.Snapshot())

	// The manager stays usable.
	tm.uploader.mu.Lock()
	tm.uploader.handle = nil
	tm.uploader.mu.Unlock()
	tm.Enqueue(candidate("again.pdf", 10))
	tm.Start()
	summary := <-tm.batches
	assert.Equal(t, 1, summary.Completed)
}

func TestBatchCompletionFiresOnce(t *testing.T) {
	tm := newTestManager(t, nil)

	tm.Enqueue(candidate("a.pdf", 10), candidate("b.pdf", 10))
	tm.Start()
	summary := <-tm.batches
	assert.Equal(t, BatchSummary{Total: 2, Completed: 2, Bytes: 20}, summary)

	tm.Start()
	tm.Resume()
	select {
	case s := <-tm.batches:
		t.Fatalf("completion fired twice: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe(t *testing.T) {
	tm := newTestManager(t, nil)
	events, stop := tm.Subscribe()

	tm.Enqueue(candidate("a.pdf", 10))
	tm.Start()
	<-tm.batches
	stop()
	stop()

	var kinds []EventKind
	var sawProgress bool
	var last Event
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventProgress {
			sawProgress = true
			assert.Greater(t, ev.Item.Progress, 0.0)
		}
		last = ev
	}
	assert.Equal(t, EventItemAdded, kinds[0])
	assert.True(t, sawProgress)
	require.Equal(t, EventBatchComplete, last.Kind)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 1, last.Summary.Completed)
	assert.Equal(t, 100.0, last.Progress.OverallPct)
}

func TestRetention(t *testing.T) {
	tm := newTestManager(t, func(c *Config) { c.RetentionSeconds = 1 })

	report := tm.Enqueue(candidate("a.pdf", 10), candidate("b.pdf", 10))
	c := candidate("bad.pdf", 10)
	c.Verdict.Errors = []string{"invalid PDF header"}
	tm.Enqueue(c)
	require.NoError(t, tm.Cancel(report.Admitted[1].ID))
	tm.Start()
	<-tm.batches

	require.Eventually(t, func() bool { return len(tm.Snapshot()) == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, StatusRejected, tm.Snapshot()[0].Status, "rejected items stay until cleared")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tm := newTestManager(t, nil, WithRegisterer(reg))
	tm.uploader.handle = func(_ context.Context, req backend.Request, call int) (*backend.Document, error) {
		if call == 1 {
			return nil, errConnectionReset
		}
		return succeed(req)
	}

	tm.Enqueue(candidate("a.pdf", 100))
	tm.Start()
	require.Eventually(t, func() bool { return len(tm.sched.delays()) == 1 }, waitFor, tick)
	tm.sched.fireNext()
	<-tm.batches

	assert.Equal(t, 1.0, testutil.ToFloat64(tm.metrics.uploads.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.metrics.retries))
	assert.Equal(t, 100.0, testutil.ToFloat64(tm.metrics.uploadedBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(tm.metrics.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.metrics.validations.WithLabelValues("passed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["uploadkit_uploads_total"])
	assert.True(t, names["uploadkit_upload_duration_seconds"])
}

func TestClose(t *testing.T) {
	tm := newTestManager(t, nil)
	events, _ := tm.Subscribe()
	tm.Enqueue(candidate("a.pdf", 10))

	require.NoError(t, tm.Close())
	require.NoError(t, tm.Close())

	for range events {
	}
	report := tm.Enqueue(candidate("b.pdf", 10))
	require.Len(t, report.Rejected, 1)
	assert.ErrorIs(t, report.Rejected[0], ErrClosed)

	_, err := tm.Submit(context.Background(), []File{fileOf("c.pdf", makePDF(1024, ""))}, CaseContext{UserID: "u"})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestNew_RequiresUploaderOrEndpoint(t *testing.T) {
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, backend.ErrNoEndpoint)
}
