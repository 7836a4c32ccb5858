package uploadkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gobeaver/uploadkit/audit"
	"github.com/gobeaver/uploadkit/filevalidator"
	"github.com/gobeaver/uploadkit/ratelimit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// AdmissionReport is the outcome of Enqueue.
type AdmissionReport struct {
	Admitted []Item
	Rejected []*AdmissionError
}

// BatchReport is the outcome of Submit.
type BatchReport struct {
	Admitted []Item
	// Rejected lists every file that did not become a queued item, with the
	// reason.
	Rejected []*AdmissionError
	// Warnings are non-blocking notes such as quota pressure, unexpected
	// extensions and verdict warnings.
	Warnings  []string
	RateLimit ratelimit.Decision
}

// Submit charges the batch to the user's quota, pre-checks every file,
// validates the survivors concurrently and enqueues them. With AutoStart
// the run starts as soon as something was admitted.
//
// A nil error does not mean every file was admitted; see
// BatchReport.Rejected. ErrRateLimited is returned, together with a report
// rejecting every file, when the quota was already spent.
func (m *Manager) Submit(ctx context.Context, files []File, cc CaseContext) (*BatchReport, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}

	decision := m.limiter.CheckAndConsume(cc.UserID, len(files))
	report := &BatchReport{RateLimit: decision}

	if !decision.Allowed {
		reason := "quota resets at " + decision.ResetAt.Format(time.Kitchen)
		for i, f := range files {
			m.reject(report, i, "", f.Name, reason, ErrRateLimited)
		}
		m.logger.Warn("batch refused by rate limit",
			slog.String("user_id", cc.UserID),
			slog.Int("files", len(files)))
		return report, ErrRateLimited
	}
	if decision.Exceeded {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"batch of %d files exceeds the remaining hourly quota; the quota is now spent until %s",
			len(files), decision.ResetAt.Format(time.Kitchen)))
	}

	type pending struct {
		index int
		id    string
		file  File
	}
	var todo []pending
	for i, f := range files {
		id := uuid.NewString()
		if err := m.precheck(f); err != nil {
			m.reject(report, i, id, f.Name, "", err)
			continue
		}
		todo = append(todo, pending{index: i, id: id, file: f})
	}

	verdicts := make([]*filevalidator.Verdict, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ValidationConcurrency)
	for i, p := range todo {
		g.Go(func() error {
			verdicts[i] = m.validator.Validate(gctx, filevalidator.File{
				ID:           p.id,
				Name:         p.file.Name,
				DeclaredType: p.file.DeclaredType,
				Size:         p.file.Size,
				Content:      p.file.Content,
			})
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		for _, p := range todo {
			m.reject(report, p.index, p.id, p.file.Name, "validation did not finish", err)
		}
		return report, fmt.Errorf("validate batch: %w", err)
	}

	candidates := make([]Candidate, len(todo))
	for i, p := range todo {
		candidates[i] = Candidate{ID: p.id, File: p.file, Verdict: verdicts[i], Case: cc}
	}
	ar := m.Enqueue(candidates...)
	for _, rej := range ar.Rejected {
		rej.Index = todo[rej.Index].index
	}
	report.Admitted = ar.Admitted
	report.Rejected = append(report.Rejected, ar.Rejected...)
	for _, it := range ar.Admitted {
		if w := m.extensionWarning(it); w != "" {
			report.Warnings = append(report.Warnings, w)
		}
		for _, w := range it.Verdict.Warnings {
			report.Warnings = append(report.Warnings, it.Name+": "+w)
		}
	}

	m.logger.Info("batch submitted",
		slog.String("user_id", cc.UserID),
		slog.String("case_id", cc.CaseID),
		slog.Int("files", len(files)),
		slog.Int("admitted", len(report.Admitted)),
		slog.Int("rejected", len(report.Rejected)))

	if m.cfg.AutoStart && len(report.Admitted) > 0 {
		m.Start()
	}
	return report, nil
}

// precheck refuses files before any content is inspected. The extension
// is not checked here: the sniffed content decides the type.
func (m *Manager) precheck(f File) error {
	if f.Size > m.cfg.MaxFileSize {
		return ErrFileTooLarge
	}
	if f.Content == nil {
		return ErrPermission
	}
	if f.Size > 0 {
		var b [1]byte
		if _, err := f.Content.ReadAt(b[:], 0); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrPermission, err)
		}
	}
	return nil
}

// extensionWarning notes admitted files whose name does not match the
// allowed extensions. The content already decided the type.
func (m *Manager) extensionWarning(it Item) string {
	ext := filevalidator.Extension(it.Name)
	switch {
	case m.extensions[ext]:
		return ""
	case ext == "":
		return fmt.Sprintf("%s: no file extension; accepted as %s", it.Name, it.Verdict.DetectedMime)
	}
	return fmt.Sprintf("%s: extension %s is not on the allowed list; accepted as %s", it.Name, ext, it.Verdict.DetectedMime)
}

func (m *Manager) reject(report *BatchReport, index int, id, name, reason string, err error) {
	display := filevalidator.SanitizeFilename(name)
	report.Rejected = append(report.Rejected, &AdmissionError{Index: index, Name: display, Reason: reason, Err: err})
	m.recorder.Record(audit.NewEvent(audit.ActionAdmissionRejected, id, display, nil,
		map[string]string{"reason": err.Error()}))
}
