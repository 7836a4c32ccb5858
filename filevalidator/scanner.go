package filevalidator

import (
	"bytes"
	"io"
)

// Pattern is a labelled byte sequence searched for in lower-cased content.
type Pattern struct {
	Label string
	Match []byte
}

// DefaultPatterns lists the script and shell payload markers scanned for.
var DefaultPatterns = []Pattern{
	{Label: "script_tag", Match: []byte("<script")},
	{Label: "javascript_uri", Match: []byte("javascript:")},
	{Label: "vbscript_uri", Match: []byte("vbscript:")},
	{Label: "html_data_uri", Match: []byte("data:text/html")},
	{Label: "eval_call", Match: []byte("eval(")},
	{Label: "exec_call", Match: []byte("exec(")},
	{Label: "cmd_exe", Match: []byte("cmd.exe")},
	{Label: "powershell", Match: []byte("powershell")},
	{Label: "bin_sh", Match: []byte("/bin/sh")},
	{Label: "bin_bash", Match: []byte("/bin/bash")},
	{Label: "pdf_javascript", Match: []byte("/javascript")},
	{Label: "pdf_launch", Match: []byte("/launch")},
	{Label: "document_write", Match: []byte("document.write(")},
}

// Scanner searches the leading bytes of a file for known payload markers.
type Scanner struct {
	Window   int64
	Patterns []Pattern
}

// NewScanner creates a scanner over the first window bytes using DefaultPatterns.
func NewScanner(window int64) *Scanner {
	if window <= 0 {
		window = 50 * KB
	}
	return &Scanner{Window: window, Patterns: DefaultPatterns}
}

// Scan returns the label of every pattern found, in table order. The read
// stops after Window bytes.
func (s *Scanner) Scan(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.Window))
	if err != nil {
		return nil, err
	}
	return s.ScanBytes(data), nil
}

// ScanBytes is Scan over an in-memory buffer.
func (s *Scanner) ScanBytes(data []byte) []string {
	if int64(len(data)) > s.Window {
		data = data[:s.Window]
	}
	lower := bytes.ToLower(data)

	var found []string
	for _, p := range s.Patterns {
		if bytes.Contains(lower, p.Match) {
			found = append(found, p.Label)
		}
	}
	return found
}
