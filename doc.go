// Package uploadkit orchestrates uploads of legal-document batches to an
// analysis backend, gating every file behind a security check.
//
// A [Manager] owns the queue. [Manager.Submit] charges the batch to the
// user's hourly quota, refuses oversized or unreadable files, runs the
// [filevalidator] pipeline over the rest and enqueues the files whose
// verdict carries no errors. The sniffed content decides the type; an
// unexpected extension only adds a warning. Files that fail validation are
// kept as [StatusRejected] items so the caller can show why.
//
// # Queue execution
//
// At most Config.BatchSize transfers run at once, smallest file first. A
// failed transfer is retried after base·2^n milliseconds, capped at
// Config.BackoffMaxMs, until Config.MaxRetries retries were spent; then the
// item is [StatusFailed] and waits for [Manager.Retry].
//
//	m, err := uploadkit.New(uploadkit.DefaultConfig(),
//	    uploadkit.WithUploader(client),
//	    uploadkit.OnBatchComplete(func(s uploadkit.BatchSummary) {
//	        log.Printf("%d of %d uploaded", s.Completed, s.Total)
//	    }))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	report, err := m.Submit(ctx, files, uploadkit.CaseContext{UserID: "u1", CaseID: "c1"})
//
// # Observation
//
// [Manager.Subscribe] delivers [Event] values for every status change and
// progress report. Sends never block; a subscriber that falls behind loses
// events and should call [Manager.Snapshot].
//
// # Status transitions
//
//	validating -> queued | rejected
//	queued     -> uploading | cancelled
//	uploading  -> completed | failed | paused | cancelled | queued (retry)
//	paused     -> queued | cancelled
//	failed     -> queued (manual retry) | cancelled
//
// # Configuration
//
// [GetConfig] reads UPLOADKIT_* environment variables; [DefaultConfig]
// returns the built-in limits.
package uploadkit
