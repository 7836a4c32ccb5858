// Package intake turns files on disk into upload batches: a one-shot
// directory collection and a hot folder that submits files as they land.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobeaver/uploadkit"
	"github.com/gobwas/glob"
)

// DefaultPatterns matches the document types the queue accepts.
var DefaultPatterns = []string{"**.{pdf,jpg,jpeg,png,gif,tif,tiff,doc,docx,xls,xlsx}"}

// Submitter accepts a batch. *uploadkit.Manager implements it.
type Submitter interface {
	Submit(ctx context.Context, files []uploadkit.File, cc uploadkit.CaseContext) (*uploadkit.BatchReport, error)
}

// Matcher selects paths by glob. Paths are slash-separated and relative to
// the collected directory; matching ignores case. A single "*" stays within
// one directory, "**" crosses directories.
type Matcher struct {
	globs []glob.Glob
}

// NewMatcher compiles patterns. With no patterns DefaultPatterns is used.
func NewMatcher(patterns ...string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	m := &Matcher{}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p), '/')
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Match reports whether rel matches any pattern.
func (m *Matcher) Match(rel string) bool {
	rel = strings.ToLower(filepath.ToSlash(rel))
	for _, g := range m.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// handle is an open file whose Close may be called more than once.
type handle struct {
	*os.File
	once sync.Once
	err  error
}

func (h *handle) Close() error {
	h.once.Do(func() { h.err = h.File.Close() })
	return h.err
}

// Open opens a regular file as an upload payload. The manager closes it
// when the item is dropped; a file refused at admission must be closed by
// the caller.
func Open(path string) (uploadkit.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return uploadkit.File{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return uploadkit.File{}, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return uploadkit.File{}, fmt.Errorf("%s: not a regular file", path)
	}
	return uploadkit.File{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Content: &handle{File: f},
	}, nil
}

// CollectDir opens every regular file under dir matching patterns. Hidden
// files and directories are skipped.
func CollectDir(dir string, patterns ...string) ([]uploadkit.File, error) {
	m, err := NewMatcher(patterns...)
	if err != nil {
		return nil, err
	}

	var files []uploadkit.File
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if !m.Match(rel) {
			return nil
		}
		f, err := Open(path)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		Close(files)
		return nil, fmt.Errorf("collect %s: %w", dir, err)
	}
	return files, nil
}

// SubmitDir collects dir and submits the files as one batch. Files that
// did not become queue items are closed.
func SubmitDir(ctx context.Context, sub Submitter, dir string, cc uploadkit.CaseContext, patterns ...string) (*uploadkit.BatchReport, error) {
	files, err := CollectDir(dir, patterns...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("collect %s: %w", dir, uploadkit.ErrEmptyBatch)
	}
	report, err := sub.Submit(ctx, files, cc)
	closeRefused(files, report)
	return report, err
}

// Close closes the payloads of files.
func Close(files []uploadkit.File) error {
	var errs []error
	for _, f := range files {
		if c, ok := f.Content.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// closeRefused closes the files for which the manager holds no item. Each
// refusal names its file by input index. Files rejected by validation keep
// an item and stay open until it is dropped.
func closeRefused(files []uploadkit.File, report *uploadkit.BatchReport) {
	if report == nil {
		Close(files)
		return
	}
	var refused []uploadkit.File
	for _, rej := range report.Rejected {
		if rej.ItemID == "" && rej.Index >= 0 && rej.Index < len(files) {
			refused = append(refused, files[rej.Index])
		}
	}
	Close(refused)
}
