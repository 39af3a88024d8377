package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"autoeditor/form"
	"autoeditor/job"
	"autoeditor/logging"
	"autoeditor/monitoring"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNew_RejectsBadBase(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://bad")
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	video := writeTemp(t, "clip.mp4", "fake-video-bytes")
	script := writeTemp(t, "script.md", "# Script")

	t.Run("video and script text", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/upload", r.URL.Path)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

			require.NoError(t, r.ParseMultipartForm(1<<20))
			file, header, err := r.FormFile("video")
			require.NoError(t, err)
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "clip.mp4", header.Filename)
			assert.Equal(t, "fake-video-bytes", string(data))
			assert.Equal(t, "Say hello", r.FormValue("script_text"))
			_, _, err = r.FormFile("script")
			assert.ErrorIs(t, err, http.ErrMissingFile)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"job_id":"abc","status":"queued","estimated_seconds":30}`))
		}, WithToken("tok"))

		resp, err := c.Upload(context.Background(), form.Form{VideoPath: video, ScriptText: "Say hello"})
		require.NoError(t, err)
		assert.Equal(t, "abc", resp.JobID)
		assert.Equal(t, job.StatusQueued, resp.Status)
		assert.Equal(t, 30, resp.EstimatedWholeSeconds())
	})

	t.Run("video and script file", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, header, err := r.FormFile("script")
			require.NoError(t, err)
			assert.Equal(t, "script.md", header.Filename)
			assert.Empty(t, r.FormValue("script_text"))
			_, _ = w.Write([]byte(`{"job_id":"def"}`))
		})

		resp, err := c.Upload(context.Background(), form.Form{VideoPath: video, ScriptPath: script})
		require.NoError(t, err)
		assert.Equal(t, "def", resp.JobID)
		assert.Equal(t, job.StatusQueued, resp.Status, "missing status defaults to queued")
	})

	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"No video file provided"}`))
		})

		_, err := c.Upload(context.Background(), form.Form{VideoPath: video})
		require.Error(t, err)
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		assert.Equal(t, "No video file provided", httpErr.Message)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
	})

	t.Run("missing job id", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			_, _ = w.Write([]byte(`{"status":"queued"}`))
		})
		_, err := c.Upload(context.Background(), form.Form{VideoPath: video})
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestUpload_RecordsAcceptedEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := monitoring.InitTracing("autoeditor-test", recorder)
	defer monitoring.ShutdownTracing(context.Background(), tp, logging.Discard())

	video := writeTemp(t, "clip.mp4", "fake-video-bytes")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"abc","status":"queued","estimated_seconds":42.4}`))
	})

	_, err := c.Upload(context.Background(), form.Form{VideoPath: video})
	require.NoError(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "client.upload", ended[0].Name())
	require.Len(t, ended[0].Events(), 1)
	ev := ended[0].Events()[0]
	assert.Equal(t, "upload.accepted", ev.Name)
	assert.Contains(t, ev.Attributes, attribute.String("job_id", "abc"))
	assert.Contains(t, ev.Attributes, attribute.String("estimated_seconds", "42"))
}

func TestStatus(t *testing.T) {
	t.Run("processing with progress", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/status/abc", r.URL.Path)
			_, _ = w.Write([]byte(`{"status":"processing","progress":{"percent":15,"current_step":1,"total_steps":5,"message":"Extracting audio","estimated_remaining_seconds":90,"formatted_remaining_time":"1m 30s"}}`))
		})

		resp, err := c.Status(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, job.StatusProcessing, resp.Status)
		require.NotNil(t, resp.Progress)
		assert.Equal(t, 15.0, resp.Progress.Percent)
		assert.Equal(t, 1, resp.Progress.CurrentStep)
		assert.Equal(t, 5, resp.Progress.TotalSteps)
		assert.Equal(t, "Extracting audio", resp.Progress.Message)
		require.NotNil(t, resp.Progress.EstimatedRemainingSeconds)
		assert.Equal(t, 90, *resp.Progress.EstimatedRemainingSeconds)
	})

	t.Run("completed", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"completed","download_url":"/api/download/abc"}`))
		})
		resp, err := c.Status(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, resp.Status)
		assert.Equal(t, "/api/download/abc", resp.DownloadURL)
		assert.Nil(t, resp.Progress)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"exploded"}`))
		})
		_, err := c.Status(context.Background(), "abc")
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("malformed json", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":`))
		})
		_, err := c.Status(context.Background(), "abc")
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("not found", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Job not found"}`))
		})
		_, err := c.Status(context.Background(), "nope")
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	})
}

func TestDownload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/download/abc", r.URL.Path)
		_, _ = w.Write([]byte("edited-video"))
	})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "/api/download/abc", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("edited-video")), n)
	assert.Equal(t, "edited-video", buf.String())
}

func TestResolveURL(t *testing.T) {
	c, err := New("https://editor.example.com/")
	require.NoError(t, err)

	assert.Equal(t, "https://editor.example.com/api/download/abc", c.ResolveURL("/api/download/abc"))
	assert.Equal(t, "https://editor.example.com/api/download/abc", c.ResolveURL("api/download/abc"))
	assert.Equal(t, "https://cdn.example.com/x.mp4", c.ResolveURL("https://cdn.example.com/x.mp4"))
	assert.Equal(t, "https://editor.example.com/api/download/abc", c.DownloadURL("abc"))
	assert.Empty(t, c.ResolveURL(""))
}

func TestRateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}, WithRateLimit(rate.Limit(0.001), 1))

	_, err := c.Status(context.Background(), "abc")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Status(ctx, "abc")
	assert.Error(t, err)
}
