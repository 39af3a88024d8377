package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"autoeditor/logging"
)

func TestRecordPoll(t *testing.T) {
	before := testutil.ToFloat64(pollAttemptsTotal.WithLabelValues(OutcomeError))
	RecordPoll(OutcomeError)
	RecordPoll(OutcomeError)
	assert.Equal(t, before+2, testutil.ToFloat64(pollAttemptsTotal.WithLabelValues(OutcomeError)))
}

func TestRecordClientRequest(t *testing.T) {
	before := testutil.ToFloat64(clientRequestsTotal.WithLabelValues("status", OutcomeSuccess))
	RecordClientRequest("status", OutcomeSuccess, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(clientRequestsTotal.WithLabelValues("status", OutcomeSuccess)))
}

func TestMetricsHandler(t *testing.T) {
	RecordEmulatorJob("completed")
	UpdateEmulatorQueueSize(3)

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "autoeditor_emulator_jobs_total")
	assert.Contains(t, w.Body.String(), "autoeditor_emulator_queue_size 3")
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := InitTracing("autoeditor-test", recorder)
	defer ShutdownTracing(context.Background(), tp, logging.Discard())

	_, span := StartSpan(context.Background(), "upload")
	AddSpanEvent(span, "accepted", map[string]interface{}{"job_id": "abc"})
	SetSpanError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "upload", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	require.Len(t, ended[0].Events(), 2) // accepted + recorded exception
	assert.Equal(t, "accepted", ended[0].Events()[0].Name)
}
