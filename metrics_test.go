package signalengine

import (
	"testing"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

type testExporter struct {
	expectMetricName string
	hasMetric        bool
}

func (e *testExporter) ExportView(vd *view.Data) {
	if vd.View.Name == e.expectMetricName {
		e.hasMetric = true
	}
}

func TestMetricsRecording(t *testing.T) {
	RegisterViews()

	exporter := &testExporter{expectMetricName: MBarsObserved.Name()}
	view.RegisterExporter(exporter)
	defer view.UnregisterExporter(exporter)
	view.SetReportingPeriod(100 * time.Millisecond)

	ctx := GetNewContextFromFile("2025-01-01.csv")
	stats.Record(ctx, MBarsObserved.M(1))

	bar := hourlyBars(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1)[0]
	stats.Record(GetNewContextFromBar(bar, SignalBuy), MSignalsWritten.M(1))

	time.Sleep(500 * time.Millisecond)

	if !exporter.hasMetric {
		t.Errorf("opencensus exporter didn't get the metric")
	}
}
