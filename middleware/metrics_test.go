package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/lazylmf-ai/Easy-e-Invoice-sub002/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func statusAttr(attrs []metricdata.DataPoint[int64], want string) bool {
	for _, dp := range attrs {
		for _, attr := range dp.Attributes.ToSlice() {
			if string(attr.Key) == "status" && attr.Value.AsString() == want {
				return true
			}
		}
	}
	return false
}

func TestMetricsRecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "jobqueue.attempt.duration")
	if metric == nil {
		t.Fatal("jobqueue.attempt.duration metric not found")
	}

	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded for duration")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", hist.DataPoints[0].Count)
	}
}

func TestMetricsRecordsExecutionsSuccess(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "jobqueue.attempt.executions")
	if metric == nil {
		t.Fatal("jobqueue.attempt.executions metric not found")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("executions = %v, want one data point with value 1", sum.DataPoints)
	}
	if !statusAttr(sum.DataPoints, "ok") {
		t.Error("expected status=ok attribute on executions counter")
	}
}

func TestMetricsRecordsExecutionsError(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	wantErr := errors.New("gateway unavailable")
	err := m(context.Background(), newTestJob(), func(_ context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("middleware must pass the error through, got %v", err)
	}

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "jobqueue.attempt.executions")
	if metric == nil {
		t.Fatal("jobqueue.attempt.executions metric not found")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if !statusAttr(sum.DataPoints, "error") {
		t.Error("expected status=error attribute on executions counter")
	}
}
