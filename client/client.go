// Package client talks to the job-processing API: it uploads jobs, fetches
// their status and resolves download references.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"autoeditor/form"
	"autoeditor/job"
	"autoeditor/monitoring"
)

// ErrUnexpectedStatus is wrapped by every *HTTPError.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// ErrInvalidResponse means the body did not match the API's response shape.
var ErrInvalidResponse = errors.New("invalid response body")

// maxResponseBody bounds JSON bodies read from the API.
const maxResponseBody = 1 << 20

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job api returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("job api returned %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return ErrUnexpectedStatus
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
	limiter *rate.Limiter
	logger  logrus.FieldLogger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRateLimit caps the request rate. A non-positive limit disables it.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Minute},
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// ResolveURL turns a server-relative reference such as /api/download/abc into
// an absolute URL on the API host. Absolute references are returned as is.
func (c *Client) ResolveURL(ref string) string {
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err == nil && parsed.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(&url.URL{Path: "/" + strings.TrimPrefix(ref, "/")}).String()
}

// DownloadURL is the absolute download link for a job.
func (c *Client) DownloadURL(jobID string) string {
	return c.ResolveURL(job.DownloadPath(jobID))
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Upload submits the form as multipart/form-data. The body is streamed so
// large videos are never held in memory.
func (c *Client) Upload(ctx context.Context, f form.Form) (resp *job.UploadResponse, err error) {
	ctx, span := monitoring.StartSpan(ctx, "client.upload",
		attribute.String("video", filepath.Base(f.VideoPath)))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := monitoring.OutcomeSuccess
		if err != nil {
			outcome = monitoring.OutcomeError
			monitoring.SetSpanError(span, err)
		}
		monitoring.RecordClientRequest("upload", outcome, time.Since(start))
	}()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("/api/upload"), pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	requestID := req.Header.Get("X-Request-ID")
	c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"video":      f.VideoPath,
		"has_script": f.ScriptPath != "" || f.HasScriptText(),
	}).Debug("Uploading job")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer res.Body.Close()

	var out job.UploadResponse
	if err := decodeResponse(res, uploadSchemaValidator, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		out.Status = job.StatusQueued
	}

	monitoring.AddSpanEvent(span, "upload.accepted", map[string]interface{}{
		"job_id":            out.JobID,
		"status":            out.Status,
		"estimated_seconds": out.EstimatedWholeSeconds(),
	})
	c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"job_id":     out.JobID,
		"status":     out.Status,
	}).Info("Upload accepted")
	return &out, nil
}

func writeForm(mw *multipart.Writer, f form.Form) error {
	if err := copyFilePart(mw, form.FieldVideo, f.VideoPath); err != nil {
		return err
	}
	if f.HasScriptText() {
		if err := mw.WriteField(form.FieldScriptText, f.ScriptText); err != nil {
			return err
		}
	} else if f.ScriptPath != "" {
		if err := copyFilePart(mw, form.FieldScript, f.ScriptPath); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFilePart(mw *multipart.Writer, field, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

// Status fetches the current status of a job.
func (c *Client) Status(ctx context.Context, jobID string) (resp *job.StatusResponse, err error) {
	ctx, span := monitoring.StartSpan(ctx, "client.status", attribute.String("job_id", jobID))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := monitoring.OutcomeSuccess
		if err != nil {
			outcome = monitoring.OutcomeError
			monitoring.SetSpanError(span, err)
		}
		monitoring.RecordClientRequest("status", outcome, time.Since(start))
	}()

	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(job.StatusPath(url.PathEscape(jobID))), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer res.Body.Close()

	var out job.StatusResponse
	if err := decodeResponse(res, statusSchemaValidator, &out); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(out.Status)))
	return &out, nil
}

// Download streams the artifact behind ref (a job id's download reference)
// into w and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, ref string, w io.Writer) (n int64, err error) {
	ctx, span := monitoring.StartSpan(ctx, "client.download")
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := monitoring.OutcomeSuccess
		if err != nil {
			outcome = monitoring.OutcomeError
			monitoring.SetSpanError(span, err)
		}
		monitoring.RecordClientRequest("download", outcome, time.Since(start))
	}()

	req, err := c.newRequest(ctx, http.MethodGet, c.ResolveURL(ref), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "*/*")
	res, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, errorFromResponse(res)
	}
	return io.Copy(w, res.Body)
}

type validator func(v interface{}) error

var (
	uploadSchemaValidator validator = func(v interface{}) error { return uploadSchema.Validate(v) }
	statusSchemaValidator validator = func(v interface{}) error { return statusSchema.Validate(v) }
)

func decodeResponse(res *http.Response, validate validator, out interface{}) error {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errorFromResponse(res)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := validate(generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func errorFromResponse(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	var payload struct {
		Error string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = payload.Error
	}
	return &HTTPError{StatusCode: res.StatusCode, Message: msg}
}
