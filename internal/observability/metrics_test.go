package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewWorkflowMetrics(t *testing.T) {
	t.Parallel()

	wm, err := NewWorkflowMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	require.NotNil(t, wm)

	ctx := context.Background()

	wm.RecordFile(ctx, "SENT_OK")
	wm.RecordChunk(ctx, "ok")
	wm.RecordWorkflow(ctx, "send", "PASS", 3*time.Second)

	done := wm.TrackInflight(ctx, "send")
	done()
}

func TestWorkflowMetrics_NilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var wm *WorkflowMetrics

	ctx := context.Background()

	wm.RecordFile(ctx, "SENT_OK")
	wm.RecordChunk(ctx, "ok")
	wm.RecordWorkflow(ctx, "send", "PASS", time.Second)
	wm.TrackInflight(ctx, "send")()
}

func TestNewPrometheusMeter_ServesScrape(t *testing.T) {
	t.Parallel()

	meter, handler, err := NewPrometheusMeter()
	require.NoError(t, err)

	wm, err := NewWorkflowMetrics(meter)
	require.NoError(t, err)

	wm.RecordFile(context.Background(), "SENT_OK")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pacsflow_send_files_total")
}
