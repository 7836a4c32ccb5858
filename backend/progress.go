package backend

import "io"

// ProgressFunc is a callback function for upload progress
type ProgressFunc func(bytesTransferred int64, totalBytes int64)

// progressReader is a reader that reports progress
type progressReader struct {
	reader        io.Reader
	progress      ProgressFunc
	size          int64
	bytesRead     int64
	lastReported  int64
	reportingStep int64
}

func newProgressReader(r io.Reader, size int64, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	step := size / 100
	if step < 32*1024 {
		step = 32 * 1024
	}
	return &progressReader{reader: r, progress: fn, size: size, reportingStep: step}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.bytesRead += int64(n)
	}
	// Report when a step has accumulated, and always at the end.
	if r.bytesRead != r.lastReported &&
		(r.bytesRead-r.lastReported >= r.reportingStep || err == io.EOF || r.bytesRead == r.size) {
		r.progress(r.bytesRead, r.size)
		r.lastReported = r.bytesRead
	}
	return n, err
}
