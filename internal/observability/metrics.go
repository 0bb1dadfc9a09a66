// Package observability provides the OTel metric instruments of the run
// pipeline and their Prometheus scrape surface.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFilesTotal       = "pacsflow.send.files.total"
	metricChunksTotal      = "pacsflow.send.chunks.total"
	metricWorkflowDuration = "pacsflow.workflow.duration.seconds"
	metricInflight         = "pacsflow.workflow.inflight"

	attrWorkflow   = "workflow"
	attrSendStatus = "send_status"
	attrOutcome    = "outcome"
)

// durationBucketBoundaries covers seconds to hours: a send over a slow PACS
// link can run for a very long time.
var durationBucketBoundaries = []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400}

// WorkflowMetrics holds the instruments shared by the three pipeline stages.
type WorkflowMetrics struct {
	filesTotal       metric.Int64Counter
	chunksTotal      metric.Int64Counter
	workflowDuration metric.Float64Histogram
	inflight         metric.Int64UpDownCounter
}

// NewWorkflowMetrics creates the pipeline instruments from the given meter.
func NewWorkflowMetrics(mt metric.Meter) (*WorkflowMetrics, error) {
	b := newMetricBuilder(mt)

	wm := &WorkflowMetrics{
		filesTotal:       b.counter(metricFilesTotal, "Files processed by send status", "{file}"),
		chunksTotal:      b.counter(metricChunksTotal, "Send sub-chunks executed", "{chunk}"),
		workflowDuration: b.histogram(metricWorkflowDuration, "Workflow duration in seconds", "s", durationBucketBoundaries...),
		inflight:         b.upDownCounter(metricInflight, "Workflows currently running", "{workflow}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return wm, nil
}

// RecordFile counts one classified file.
func (wm *WorkflowMetrics) RecordFile(ctx context.Context, sendStatus string) {
	if wm == nil {
		return
	}

	wm.filesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrSendStatus, sendStatus),
	))
}

// RecordChunk counts one executed sub-chunk with its outcome.
func (wm *WorkflowMetrics) RecordChunk(ctx context.Context, outcome string) {
	if wm == nil {
		return
	}

	wm.chunksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrOutcome, outcome),
	))
}

// RecordWorkflow records one completed workflow run.
func (wm *WorkflowMetrics) RecordWorkflow(ctx context.Context, workflow, outcome string, duration time.Duration) {
	if wm == nil {
		return
	}

	wm.workflowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrWorkflow, workflow),
		attribute.String(attrOutcome, outcome),
	))
}

// TrackInflight increments the in-flight gauge and returns its decrement.
func (wm *WorkflowMetrics) TrackInflight(ctx context.Context, workflow string) func() {
	if wm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrWorkflow, workflow))
	wm.inflight.Add(ctx, 1, attrs)

	return func() {
		wm.inflight.Add(ctx, -1, attrs)
	}
}
