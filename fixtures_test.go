package uploadkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobeaver/uploadkit/audit"
	"github.com/gobeaver/uploadkit/backend"
	"github.com/gobeaver/uploadkit/filevalidator"
	"github.com/stretchr/testify/require"
)

// fakeUploader records calls and delegates outcomes to handle. With no
// handler every upload succeeds.
type fakeUploader struct {
	mu        sync.Mutex
	calls     []backend.Request
	bodies    [][]byte
	active    int
	maxActive int
	handle    func(ctx context.Context, req backend.Request, call int) (*backend.Document, error)
}

func (f *fakeUploader) Upload(ctx context.Context, req backend.Request, progress backend.ProgressFunc) (*backend.Document, error) {
	body, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(int64(len(body))/2, req.Size)
		progress(int64(len(body)), req.Size)
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.bodies = append(f.bodies, body)
	call := len(f.calls)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	handle := f.handle
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if handle == nil {
		return &backend.Document{ID: "doc-" + req.Filename, Filename: req.Filename, Size: req.Size}, nil
	}
	return handle(ctx, req, call)
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeUploader) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeUploader) filenames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Filename
	}
	return out
}

func succeed(req backend.Request) (*backend.Document, error) {
	return &backend.Document{ID: "doc-" + req.Filename, Filename: req.Filename, Size: req.Size}, nil
}

// blockUntilCancelled holds a transfer until the manager cancels it.
func blockUntilCancelled(ctx context.Context) (*backend.Document, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var errConnectionReset = errors.New("connection reset by peer")

// fakeScheduler is both the clock and the retry scheduler. Timers only fire
// through fireNext, which moves the clock to the timer's due time.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	due     time.Time
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, due: s.now.Add(d), delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

// fireNext runs the earliest live timer, reporting false if there is none.
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var live []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		s.mu.Unlock()
		return false
	}
	sort.Slice(live, func(i, j int) bool { return live[i].due.Before(live[j].due) })
	t := live[0]
	t.fired = true
	if t.due.After(s.now) {
		s.now = t.due
	}
	s.mu.Unlock()

	t.fn()
	return true
}

// closingReader tracks whether the manager released the payload.
type closingReader struct {
	*bytes.Reader
	closed atomic.Bool
}

func (c *closingReader) Close() error {
	c.closed.Store(true)
	return nil
}

// failingReaderAt refuses every read.
type failingReaderAt struct{}

func (failingReaderAt) ReadAt([]byte, int64) (int, error) {
	return 0, errors.New("permission denied")
}

var fingerprints atomic.Uint64

// passing returns a verdict with a unique content hash.
func passing() *filevalidator.Verdict {
	fp := fingerprints.Add(1)
	return &filevalidator.Verdict{
		MimeValid:      true,
		DetectedMime:   filevalidator.MIMEPDF,
		StructureValid: true,
		ContentHash:    fmt.Sprintf("%064x", fp),
		Fingerprint:    fp,
		Score:          filevalidator.MaxScore,
	}
}

func candidate(name string, size int) Candidate {
	v := passing()
	v.SanitizedName = name
	return Candidate{
		File:    File{Name: name, Size: int64(size), Content: bytes.NewReader(bytes.Repeat([]byte("x"), size))},
		Verdict: v,
		Case:    CaseContext{UserID: "user-1", CaseID: "case-1", DocumentType: "motion"},
	}
}

type testManager struct {
	*Manager
	uploader *fakeUploader
	sched    *fakeScheduler
	recorder *audit.MemoryRecorder
	batches  chan BatchSummary
}

func newTestManager(t *testing.T, mutate func(*Config), opts ...Option) *testManager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetentionSeconds = 0
	if mutate != nil {
		mutate(&cfg)
	}

	tm := &testManager{
		uploader: &fakeUploader{},
		sched:    newFakeScheduler(),
		recorder: audit.NewMemoryRecorder(),
		batches:  make(chan BatchSummary, 8),
	}
	base := []Option{
		WithUploader(tm.uploader),
		WithClock(tm.sched.Now),
		WithAfterFunc(tm.sched.AfterFunc),
		WithRecorder(tm.recorder),
		OnBatchComplete(func(s BatchSummary) { tm.batches <- s }),
	}
	m, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	tm.Manager = m
	return tm
}

func (tm *testManager) statusOf(t *testing.T, id string) Status {
	t.Helper()
	it, err := tm.Item(id)
	require.NoError(t, err)
	return it.Status
}

func (tm *testManager) countStatus(s Status) int {
	n := 0
	for _, it := range tm.Snapshot() {
		if it.Status == s {
			n++
		}
	}
	return n
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// makePDF builds a small well-formed PDF padded to roughly size bytes.
func makePDF(size int, extra string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R " + extra + ">>\nendobj\n")
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	trailer := "xref\n0 3\ntrailer\n<< /Root 1 0 R >>\nstartxref\n0\n%%EOF\n"
	line := "% filler line for size\n"
	for buf.Len()+len(trailer) < size {
		n := min(size-buf.Len()-len(trailer), len(line))
		buf.WriteString(line[:n])
	}
	buf.WriteString(trailer)
	return buf.Bytes()
}

func makeJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func fileOf(name string, data []byte) File {
	return File{Name: name, Size: int64(len(data)), Content: bytes.NewReader(data)}
}
