package uploadkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/uploadkit/audit"
	"github.com/gobeaver/uploadkit/backend"
	"github.com/gobeaver/uploadkit/filevalidator"
	"github.com/gobeaver/uploadkit/ratelimit"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// record is the live state of one item. It is only touched with
// Manager.mu held.
type record struct {
	item   Item
	file   File
	cancel context.CancelFunc
	timer  Timer
}

// Manager is the upload queue. It admits validated files, runs at most
// Config.BatchSize transfers at once, retries failures with exponential
// backoff and reports progress through Subscribe and Snapshot.
type Manager struct {
	cfg        Config
	extensions map[string]bool
	logger     *slog.Logger
	recorder   audit.Recorder
	limiter    *ratelimit.Limiter
	validator  Validator
	uploader   Uploader
	now        func() time.Time
	afterFunc  AfterFunc
	metrics    *metrics
	retention  *ttlcache.Cache[string, struct{}]
	onItem     func(Item)
	onBatch    func(BatchSummary)
	closers    []io.Closer

	mu sync.Mutex
	// items is replaced, never edited in place, when entries come or go.
	items    []*record
	index    map[string]*record
	inFlight int
	running  bool
	paused   bool
	runStart time.Time
	closed   bool
	subs     map[int]chan Event
	nextSub  int
	// deferred runs after mu is released; see unlock.
	deferred []func()
}

// New creates a Manager. Collaborators not supplied through options are
// built from cfg: a security validator, an hourly limiter, a backend client
// for cfg.Endpoint and an audit trail that logs and, when cfg.AuditPath is
// set, persists events.
//
// Zero limits in cfg fall back to DefaultConfig. Zero MaxRetries, AutoStart
// and RetentionSeconds are taken as given; start from DefaultConfig to get
// retries and auto-start.
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()

	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = realAfterFunc
	}

	m := &Manager{
		cfg:       cfg,
		logger:    o.Logger.With(slog.String("component", "upload_manager")),
		recorder:  o.Recorder,
		limiter:   o.Limiter,
		validator: o.Validator,
		uploader:  o.Uploader,
		now:       o.Now,
		afterFunc: o.AfterFunc,
		metrics:   newMetrics(o.Registerer),
		onItem:    o.OnItemComplete,
		onBatch:   o.OnBatchComplete,
		index:     make(map[string]*record),
		subs:      make(map[int]chan Event),
	}

	exts := cfg.ExtensionList()
	if exts == nil {
		exts = filevalidator.DefaultExtensions
	}
	m.extensions = make(map[string]bool, len(exts))
	for _, ext := range exts {
		m.extensions[ext] = true
	}

	if m.recorder == nil {
		recorders := []audit.Recorder{audit.NewLogRecorder(o.Logger)}
		if cfg.AuditPath != "" {
			store, err := audit.OpenBadger(cfg.AuditPath, o.Logger)
			if err != nil {
				return nil, fmt.Errorf("open audit store: %w", err)
			}
			recorders = append(recorders, store)
			m.closers = append(m.closers, store)
		}
		m.recorder = audit.Multi(recorders...)
	}

	if m.limiter == nil {
		m.limiter = ratelimit.New(cfg.RateLimitPerHour, time.Hour, ratelimit.WithClock(m.now))
	}

	if m.validator == nil {
		c := filevalidator.DefaultConstraints()
		if types := cfg.MimeTypeList(); types != nil {
			c.AcceptedTypes = types
		}
		c.ScanWindow = cfg.ScanWindowBytes
		m.validator = filevalidator.NewSecurityValidator(c,
			filevalidator.WithRecorder(m.recorder),
			filevalidator.WithLogger(o.Logger))
	}

	if m.uploader == nil {
		client, err := backend.New(backend.Config{
			Endpoint:          cfg.Endpoint,
			Token:             cfg.APIToken,
			RequestsPerSecond: float64(cfg.RequestsPerSecond),
			Logger:            o.Logger,
		})
		if err != nil {
			_ = m.closeResources()
			return nil, fmt.Errorf("create backend client: %w", err)
		}
		m.uploader = client
	}

	m.retention = newRetention(m, cfg.Retention())
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Limiter returns the submission quota limiter.
func (m *Manager) Limiter() *ratelimit.Limiter {
	return m.limiter
}

// unlock releases mu and then runs the work queued with later: callbacks,
// audit writes and timer scheduling, none of which may run under mu.
func (m *Manager) unlock() {
	fns := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// later queues fn for unlock. m.mu must be held.
func (m *Manager) later(fn func()) {
	m.deferred = append(m.deferred, fn)
}

// audit queues an event for the recorder. m.mu must be held.
func (m *Manager) audit(action audit.Action, rec *record, details map[string]string) {
	ev := audit.NewEvent(action, rec.item.ID, rec.item.Name, nil, details)
	m.later(func() { m.recorder.Record(ev) })
}

// transition moves rec to status to, or refuses with a *TransitionError.
func (m *Manager) transition(rec *record, to Status) error {
	from := rec.item.Status
	if !CanTransition(from, to) {
		return &TransitionError{ID: rec.item.ID, From: from, To: to}
	}
	rec.item.Status = to
	m.logger.Debug("status changed",
		slog.String("id", rec.item.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	m.publish(EventStatusChanged, rec)
	return nil
}

// move is transition for callers that already checked the source status.
func (m *Manager) move(rec *record, to Status) bool {
	if err := m.transition(rec, to); err != nil {
		m.logger.Error("unexpected transition refused", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Enqueue admits candidates. Each one either becomes a Queued item or is
// reported in AdmissionReport.Rejected; a candidate whose verdict failed
// also gets an item, in StatusRejected. Enqueue does not start transfers
// unless a run is already active.
func (m *Manager) Enqueue(candidates ...Candidate) AdmissionReport {
	m.mu.Lock()
	defer m.unlock()
	return m.enqueueLocked(candidates)
}

func (m *Manager) enqueueLocked(candidates []Candidate) AdmissionReport {
	var report AdmissionReport
	if m.closed {
		for i, c := range candidates {
			report.Rejected = append(report.Rejected, &AdmissionError{Index: i, Name: c.File.Name, Err: ErrClosed})
		}
		return report
	}

	activeFiles, activeBytes := 0, int64(0)
	seen := make(map[uint64]bool)
	for _, rec := range m.items {
		if rec.item.Status.isPending() || rec.item.Status == StatusFailed {
			activeFiles++
			activeBytes += rec.item.Size
		}
		if rec.item.Status != StatusCancelled && rec.item.Status != StatusRejected &&
			rec.item.Verdict != nil && rec.item.Verdict.ContentHash != "" {
			seen[rec.item.Verdict.Fingerprint] = true
		}
	}

	now := m.now()
	for i, c := range candidates {
		name := filevalidator.SanitizeFilename(c.File.Name)
		if c.Verdict != nil && c.Verdict.SanitizedName != "" {
			name = c.Verdict.SanitizedName
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}

		refuse := func(err error, reason string) *AdmissionError {
			ae := &AdmissionError{Index: i, Name: name, Reason: reason, Err: err}
			report.Rejected = append(report.Rejected, ae)
			details := map[string]string{"reason": err.Error()}
			ev := audit.NewEvent(audit.ActionAdmissionRejected, id, name, nil, details)
			m.later(func() { m.recorder.Record(ev) })
			return ae
		}

		switch {
		case c.Verdict == nil:
			refuse(ErrNotValidated, "")
			continue
		case !c.Verdict.Passed():
			m.metrics.validations.WithLabelValues("rejected").Inc()
			rec := m.newRecord(id, name, c, now)
			m.add(rec)
			m.move(rec, StatusRejected)
			rec.item.Error = strings.Join(c.Verdict.Errors, "; ")
			rec.item.EndedAt = now
			err := ErrValidationFailed
			if !c.Verdict.MimeValid {
				err = ErrInvalidType
			}
			refuse(err, rec.item.Error).ItemID = id
			continue
		}
		m.metrics.validations.WithLabelValues("passed").Inc()

		switch {
		case c.File.Content == nil:
			refuse(ErrPermission, "")
			continue
		case c.File.Size > m.cfg.MaxFileSize:
			refuse(ErrFileTooLarge, fmt.Sprintf("%s exceeds %s",
				filevalidator.FormatSizeReadable(c.File.Size), filevalidator.FormatSizeReadable(m.cfg.MaxFileSize)))
			continue
		case c.Verdict.ContentHash != "" && seen[c.Verdict.Fingerprint]:
			refuse(ErrDuplicate, "")
			continue
		case activeFiles+1 > m.cfg.MaxBatchFiles:
			refuse(ErrTooManyFiles, fmt.Sprintf("limit is %d files", m.cfg.MaxBatchFiles))
			continue
		case activeBytes+c.File.Size > m.cfg.MaxBatchBytes:
			refuse(ErrBatchTooLarge, fmt.Sprintf("limit is %s", filevalidator.FormatSizeReadable(m.cfg.MaxBatchBytes)))
			continue
		}

		rec := m.newRecord(id, name, c, now)
		m.add(rec)
		m.move(rec, StatusQueued)
		activeFiles++
		activeBytes += c.File.Size
		if c.Verdict.ContentHash != "" {
			seen[c.Verdict.Fingerprint] = true
		}
		report.Admitted = append(report.Admitted, rec.item.clone())
	}

	if len(report.Admitted) > 0 {
		m.logger.Info("files admitted",
			slog.Int("admitted", len(report.Admitted)),
			slog.Int("rejected", len(report.Rejected)))
		if m.running {
			m.dispatch()
		}
	}
	return report
}

func (m *Manager) newRecord(id, name string, c Candidate, now time.Time) *record {
	return &record{
		file: c.File,
		item: Item{
			ID:           id,
			Name:         name,
			Size:         c.File.Size,
			DeclaredType: c.File.DeclaredType,
			Status:       StatusValidating,
			Verdict:      c.Verdict,
			Case:         c.Case,
			AddedAt:      now,
		},
	}
}

// add appends rec. m.mu must be held.
func (m *Manager) add(rec *record) {
	items := make([]*record, len(m.items), len(m.items)+1)
	copy(items, m.items)
	m.items = append(items, rec)
	m.index[rec.item.ID] = rec
	m.publish(EventItemAdded, rec)
}

// remove drops rec and releases its payload. m.mu must be held.
func (m *Manager) remove(rec *record) {
	items := make([]*record, 0, len(m.items))
	for _, r := range m.items {
		if r != rec {
			items = append(items, r)
		}
	}
	m.items = items
	delete(m.index, rec.item.ID)
	m.release(rec)
	m.publish(EventItemRemoved, rec)
}

// release stops rec's transfer and timer and closes its payload. m.mu must
// be held.
func (m *Manager) release(rec *record) {
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if c, ok := rec.file.Content.(io.Closer); ok {
		m.later(func() { _ = c.Close() })
	}
}

// Start begins draining the queue. It does nothing when no item is pending,
// so a batch whose files were all refused never starts a run. A paused
// manager stays paused until Resume.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	if m.startRun() {
		m.dispatch()
	}
}

// startRun marks a run active when there is pending work. m.mu must be held.
func (m *Manager) startRun() bool {
	if !m.hasPending() {
		return false
	}
	if !m.running {
		m.running = true
		m.runStart = m.now()
		m.logger.Info("upload run started", slog.Int("items", len(m.items)))
	}
	return true
}

func (m *Manager) hasPending() bool {
	for _, rec := range m.items {
		if rec.item.Status.isPending() {
			return true
		}
	}
	return false
}

// dispatch fills free transfer slots, smallest eligible file first, ties
// broken by admission order. m.mu must be held.
func (m *Manager) dispatch() {
	if !m.running || m.paused || m.closed {
		return
	}
	now := m.now()
	for m.inFlight < m.cfg.BatchSize {
		var next *record
		for _, rec := range m.items {
			if rec.item.Status != StatusQueued {
				continue
			}
			if !rec.item.NextAttemptAt.IsZero() && now.Before(rec.item.NextAttemptAt) {
				continue
			}
			if next == nil || rec.item.Size < next.item.Size {
				next = rec
			}
		}
		if next == nil {
			return
		}
		m.startTransfer(next, now)
	}
}

func (m *Manager) startTransfer(rec *record, now time.Time) {
	rec.item.Attempt++
	rec.item.NextAttemptAt = time.Time{}
	rec.item.Progress = 0
	rec.item.Throughput = 0
	if rec.item.StartedAt.IsZero() {
		rec.item.StartedAt = now
	}
	if !m.move(rec, StatusUploading) {
		return
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TransferTimeout())
	rec.cancel = cancel
	m.inFlight++
	m.metrics.inFlight.Inc()

	cc := rec.item.Case
	contentType := rec.item.DeclaredType
	if rec.item.Verdict != nil && rec.item.Verdict.DetectedMime != filevalidator.MIMEUnknown {
		contentType = rec.item.Verdict.DetectedMime
	}
	req := backend.Request{
		Filename:      rec.item.Name,
		ContentType:   contentType,
		Size:          rec.item.Size,
		Content:       io.NewSectionReader(rec.file.Content, 0, rec.item.Size),
		DocumentType:  cc.DocumentType,
		CaseID:        cc.CaseID,
		FilingDate:    cc.FilingDate,
		Description:   cc.Description,
		CaseNumber:    cc.CaseNumber,
		ExhibitNumber: cc.ExhibitNumber,
	}

	id, attempt := rec.item.ID, rec.item.Attempt
	m.audit(audit.ActionUploadStarted, rec, map[string]string{"attempt": strconv.Itoa(attempt)})
	m.logger.Debug("transfer started",
		slog.String("id", id),
		slog.String("name", rec.item.Name),
		slog.Int("attempt", attempt))

	go m.transfer(ctx, id, attempt, req)
}

func (m *Manager) transfer(ctx context.Context, id string, attempt int, req backend.Request) {
	started := m.now()
	doc, err := m.uploader.Upload(ctx, req, func(sent, total int64) {
		m.onProgress(id, attempt, sent, total, started)
	})
	if err == nil && doc == nil {
		err = fmt.Errorf("%w: no document returned", backend.ErrMalformedResponse)
	}
	m.finishTransfer(id, attempt, doc, err)
}

func (m *Manager) onProgress(id string, attempt int, sent, total int64, started time.Time) {
	m.mu.Lock()
	defer m.unlock()

	rec, ok := m.index[id]
	if !ok || rec.item.Attempt != attempt || rec.item.Status != StatusUploading {
		return
	}
	if total > 0 {
		rec.item.Progress = min(100, 100*float64(sent)/float64(total))
	}
	if elapsed := m.now().Sub(started).Seconds(); elapsed > 0 {
		rec.item.Throughput = float64(sent) / elapsed
	}
	m.publish(EventProgress, rec)
}

// finishTransfer applies a transfer outcome. Outcomes of attempts that were
// paused, cancelled or cleared meanwhile are discarded.
func (m *Manager) finishTransfer(id string, attempt int, doc *backend.Document, err error) {
	m.mu.Lock()
	defer m.unlock()

	rec, ok := m.index[id]
	if !ok || rec.item.Attempt != attempt || rec.item.Status != StatusUploading {
		return
	}
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	m.inFlight--
	m.metrics.inFlight.Dec()
	now := m.now()

	switch {
	case err == nil:
		m.complete(rec, doc, now)
	case rec.item.RetryCount < m.cfg.MaxRetries:
		m.scheduleRetry(rec, err, now)
	default:
		m.fail(rec, err, now)
	}

	m.dispatch()
	m.checkCompletion()
}

func (m *Manager) complete(rec *record, doc *backend.Document, now time.Time) {
	if !m.move(rec, StatusCompleted) {
		return
	}
	rec.item.Progress = 100
	rec.item.Throughput = 0
	rec.item.Error = ""
	rec.item.EndedAt = now
	rec.item.Document = doc

	m.metrics.uploads.WithLabelValues(string(StatusCompleted)).Inc()
	m.metrics.uploadedBytes.Add(float64(rec.item.Size))
	m.metrics.duration.Observe(rec.item.Duration().Seconds())
	m.audit(audit.ActionUploadCompleted, rec, map[string]string{
		"document_id": doc.ID,
		"attempt":     strconv.Itoa(rec.item.Attempt),
	})
	m.logger.Info("upload completed",
		slog.String("id", rec.item.ID),
		slog.String("name", rec.item.Name),
		slog.String("document_id", doc.ID),
		slog.Duration("duration", rec.item.Duration()))

	m.retain(rec)
	if m.onItem != nil {
		item, fn := rec.item.clone(), m.onItem
		m.later(func() { fn(item) })
	}
}

func (m *Manager) scheduleRetry(rec *record, err error, now time.Time) {
	delay := m.cfg.Backoff(rec.item.RetryCount)
	if !m.move(rec, StatusQueued) {
		return
	}
	rec.item.RetryCount++
	rec.item.NextAttemptAt = now.Add(delay)
	rec.item.Progress = 0
	rec.item.Throughput = 0
	rec.item.Error = backend.UserMessage(err)

	m.metrics.retries.Inc()
	m.audit(audit.ActionRetryScheduled, rec, map[string]string{
		"retry_count": strconv.Itoa(rec.item.RetryCount),
		"delay_ms":    strconv.FormatInt(delay.Milliseconds(), 10),
		"error":       err.Error(),
	})
	m.logger.Warn("upload failed, retry scheduled",
		slog.String("id", rec.item.ID),
		slog.Int("retry_count", rec.item.RetryCount),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()))

	id, due := rec.item.ID, rec.item.NextAttemptAt
	m.later(func() {
		t := m.afterFunc(delay, func() { m.wake(id) })
		m.mu.Lock()
		defer m.unlock()
		if r, ok := m.index[id]; ok && r.item.Status == StatusQueued && r.item.NextAttemptAt.Equal(due) {
			r.timer = t
			return
		}
		t.Stop()
	})
}

// wake runs when a retry backoff elapses.
func (m *Manager) wake(id string) {
	m.mu.Lock()
	defer m.unlock()
	if rec, ok := m.index[id]; ok {
		rec.timer = nil
	}
	m.dispatch()
}

func (m *Manager) fail(rec *record, err error, now time.Time) {
	if !m.move(rec, StatusFailed) {
		return
	}
	rec.item.Throughput = 0
	rec.item.Error = backend.UserMessage(err)
	rec.item.EndedAt = now

	m.metrics.uploads.WithLabelValues(string(StatusFailed)).Inc()
	m.audit(audit.ActionUploadFailed, rec, map[string]string{
		"retry_count": strconv.Itoa(rec.item.RetryCount),
		"error":       err.Error(),
	})
	m.logger.Error("upload failed",
		slog.String("id", rec.item.ID),
		slog.String("name", rec.item.Name),
		slog.Int("retry_count", rec.item.RetryCount),
		slog.String("error", err.Error()))
}

// checkCompletion ends the run once nothing is pending. m.mu must be held.
func (m *Manager) checkCompletion() {
	if !m.running || m.hasPending() {
		return
	}
	m.running = false
	summary := summarize(m.snapshotLocked(), m.runStart, m.now())
	m.runStart = time.Time{}

	m.broadcast(Event{Kind: EventBatchComplete, Progress: Aggregate(m.snapshotLocked()), Summary: &summary})
	m.logger.Info("upload run finished",
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("cancelled", summary.Cancelled),
		slog.Int("rejected", summary.Rejected),
		slog.Duration("duration", summary.Duration))
	if m.onBatch != nil {
		fn := m.onBatch
		m.later(func() { fn(summary) })
	}
}

// Pause aborts in-flight transfers, moving them to Paused, and stops
// dispatch. Retry counts are untouched. Calling it again has no effect.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.unlock()
	if m.paused {
		return
	}
	m.paused = true

	for _, rec := range m.items {
		if rec.item.Status != StatusUploading {
			continue
		}
		rec.cancel()
		rec.cancel = nil
		m.inFlight--
		m.metrics.inFlight.Dec()
		rec.item.Progress = 0
		rec.item.Throughput = 0
		m.move(rec, StatusPaused)
		m.audit(audit.ActionUploadPaused, rec, nil)
	}
	m.logger.Info("queue paused")
}

// Resume returns paused items to the queue and drains it. Calling it again
// has no effect.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	wasPaused := m.paused
	m.paused = false
	for _, rec := range m.items {
		if rec.item.Status == StatusPaused {
			m.move(rec, StatusQueued)
		}
	}
	if wasPaused {
		m.logger.Info("queue resumed")
	}
	if m.startRun() {
		m.dispatch()
	}
}

// Paused reports whether dispatch is stopped by Pause.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Running reports whether a run is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Cancel aborts item id and frees its slot. Finished items cannot be
// cancelled.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.unlock()

	rec, ok := m.index[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrNotFound)
	}
	wasUploading := rec.item.Status == StatusUploading
	if err := m.transition(rec, StatusCancelled); err != nil {
		return err
	}
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if wasUploading {
		m.inFlight--
		m.metrics.inFlight.Dec()
	}
	rec.item.Throughput = 0
	rec.item.NextAttemptAt = time.Time{}
	rec.item.EndedAt = m.now()

	m.metrics.uploads.WithLabelValues(string(StatusCancelled)).Inc()
	m.audit(audit.ActionUploadCancelled, rec, nil)
	m.logger.Info("upload cancelled", slog.String("id", id), slog.String("name", rec.item.Name))
	m.retain(rec)

	m.dispatch()
	m.checkCompletion()
	return nil
}

// Retry returns a failed item to the queue with a fresh retry budget and
// starts a run if none is active.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	defer m.unlock()

	rec, ok := m.index[id]
	if !ok {
		return fmt.Errorf("retry %s: %w", id, ErrNotFound)
	}
	if err := m.retryLocked(rec); err != nil {
		return err
	}
	if m.startRun() {
		m.dispatch()
	}
	return nil
}

// RetryAllFailed retries every failed item and returns how many were
// requeued.
func (m *Manager) RetryAllFailed() int {
	m.mu.Lock()
	defer m.unlock()

	n := 0
	for _, rec := range m.items {
		if rec.item.Status == StatusFailed && m.retryLocked(rec) == nil {
			n++
		}
	}
	if n > 0 && m.startRun() {
		m.dispatch()
	}
	return n
}

func (m *Manager) retryLocked(rec *record) error {
	if rec.item.Status == StatusRejected {
		return fmt.Errorf("retry %s: %w", rec.item.ID, ErrNotRetryable)
	}
	if rec.item.Status != StatusFailed {
		return &TransitionError{ID: rec.item.ID, From: rec.item.Status, To: StatusQueued}
	}
	if !m.move(rec, StatusQueued) {
		return ErrInvalidTransition
	}
	rec.item.RetryCount = 0
	rec.item.Error = ""
	rec.item.Progress = 0
	rec.item.NextAttemptAt = time.Time{}
	rec.item.EndedAt = time.Time{}
	m.logger.Info("upload requeued", slog.String("id", rec.item.ID))
	return nil
}

// ClearAll cancels every transfer, drops all items and releases their
// payloads. The manager stays usable.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	for _, rec := range m.items {
		m.release(rec)
	}
	n := len(m.items)
	m.items = nil
	m.index = make(map[string]*record)
	m.metrics.inFlight.Sub(float64(m.inFlight))
	m.inFlight = 0
	m.running = false
	m.paused = false
	m.runStart = time.Time{}

	if m.retention != nil {
		cache := m.retention
		m.later(cache.DeleteAll)
	}
	m.broadcast(Event{Kind: EventCleared})
	if n > 0 {
		m.logger.Info("queue cleared", slog.Int("items", n))
	}
}

// Snapshot returns copies of all items in admission order.
func (m *Manager) Snapshot() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []Item {
	out := make([]Item, len(m.items))
	for i, rec := range m.items {
		out[i] = rec.item.clone()
	}
	return out
}

// Item returns a copy of item id.
func (m *Manager) Item(id string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.index[id]
	if !ok {
		return Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return rec.item.clone(), nil
}

// Progress aggregates the current items.
func (m *Manager) Progress() Progress {
	return Aggregate(m.Snapshot())
}

// Close clears the queue, ends all subscriptions and releases the audit
// store. Further submissions fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.clearLocked()
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.unlock()

	if m.retention != nil {
		m.retention.Stop()
	}
	return m.closeResources()
}

func (m *Manager) closeResources() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
