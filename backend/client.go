// Package backend is the HTTP client for the document analysis service.
//
// Only three calls are made: a multipart submit, a status poll and a result
// fetch. Non-2xx responses become *StatusError values wrapping a sentinel.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// FilingDateLayout is the wire format of Request.FilingDate.
const FilingDateLayout = "2006-01-02"

const maxErrorBody = 4 * 1024

// Config configures a Client.
type Config struct {
	// Endpoint is the service base URL, e.g. https://api.example.com/v1.
	Endpoint string
	// Token is sent as a bearer token.
	Token string
	// RequestsPerSecond paces outbound requests; zero disables pacing.
	RequestsPerSecond float64
	// OnUnauthorized is called after a 401 so the caller can drop
	// credentials.
	OnUnauthorized func()
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Request is one file submission.
type Request struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader

	DocumentType  string
	CaseID        string
	FilingDate    time.Time
	Description   string
	CaseNumber    string
	ExhibitNumber string
}

// Document describes a stored document.
type Document struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

type uploadResponse struct {
	Documents []Document `json:"documents"`
}

// DocumentStatus is the processing state reported by the status poll.
type DocumentStatus struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// DocumentResult is the analysis output. Its content is opaque here.
type DocumentResult struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Client talks to the analysis backend. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	token          string
	httpClient     *http.Client
	limiter        *rate.Limiter
	onUnauthorized func()
	logger         *slog.Logger
}

// New creates a client for cfg.Endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse backend endpoint %q: %w", cfg.Endpoint, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		baseURL:        base,
		token:          cfg.Token,
		httpClient:     httpClient,
		onUnauthorized: cfg.OnUnauthorized,
		logger:         logger.With(slog.String("component", "backend_client")),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Upload streams req as multipart/form-data to POST /upload and returns the
// first document of the response. progress, if set, observes body bytes as
// they are handed to the transport.
func (c *Client) Upload(ctx context.Context, req Request, progress ProgressFunc) (*Document, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, req, progress))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("upload"), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(httpReq)

	c.logger.Debug("uploading document",
		slog.String("filename", req.Filename),
		slog.Int64("size", req.Size),
		slog.String("case_id", req.CaseID))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, fmt.Errorf("upload %s: %w", req.Filename, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Documents) == 0 {
		return nil, fmt.Errorf("%w: no documents in response", ErrMalformedResponse)
	}
	doc := out.Documents[0]
	return &doc, nil
}

func writeMultipart(mw *multipart.Writer, req Request, progress ProgressFunc) error {
	fields := []struct{ name, value string }{
		{"document_type", req.DocumentType},
		{"case_id", req.CaseID},
	}
	if !req.FilingDate.IsZero() {
		fields = append(fields, struct{ name, value string }{"filing_date", req.FilingDate.Format(FilingDateLayout)})
	}
	for _, opt := range []struct{ name, value string }{
		{"description", req.Description},
		{"case_number", req.CaseNumber},
		{"exhibit_number", req.ExhibitNumber},
	} {
		if opt.value != "" {
			fields = append(fields, opt)
		}
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if req.Content != nil {
		if _, err := io.Copy(part, newProgressReader(req.Content, req.Size, progress)); err != nil {
			return fmt.Errorf("stream %s: %w", req.Filename, err)
		}
	}
	return mw.Close()
}

// Status polls GET /documents/{id}/status.
func (c *Client) Status(ctx context.Context, id string) (*DocumentStatus, error) {
	var out DocumentStatus
	if err := c.getJSON(ctx, "documents/"+id+"/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result fetches GET /documents/{id}/result.
func (c *Client) Result(ctx context.Context, id string) (*DocumentResult, error) {
	var out DocumentResult
	if err := c.getJSON(ctx, "documents/"+id+"/result", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := newStatusError(resp.StatusCode, string(body))

	c.logger.Warn("backend rejected request",
		slog.String("url", resp.Request.URL.String()),
		slog.Int("status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return se
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) resolve(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for request slot: %w", err)
	}
	return nil
}
