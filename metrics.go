package signalengine

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	MBarsObserved       = stats.Float64("signalengine/bars/observed", "", stats.UnitDimensionless)
	MWindowLoads        = stats.Float64("signalengine/window/loads", "", stats.UnitDimensionless)
	MInsufficientWindow = stats.Float64("signalengine/window/insufficient", "", stats.UnitDimensionless)
	MSignalsWritten     = stats.Float64("signalengine/signals/written", "", stats.UnitDimensionless)

	KeySourceFile, _ = tag.NewKey("sourceFile")
	KeySignal, _     = tag.NewKey("signal")
	KeyBarTime, _    = tag.NewKey("barTime") // Time in the canonical string representation

	DefaultViews = []*view.View{
		{Measure: MBarsObserved, Aggregation: view.Count(), TagKeys: []tag.Key{KeySourceFile}},
		{Measure: MWindowLoads, Aggregation: view.Count(), TagKeys: []tag.Key{KeySourceFile}},
		{Measure: MInsufficientWindow, Aggregation: view.Count(), TagKeys: []tag.Key{KeySourceFile}},
		{Measure: MSignalsWritten, Aggregation: view.Count(), TagKeys: []tag.Key{KeySignal, KeyBarTime}},
	}
)

// RegisterViews registers the given views, or DefaultViews when called
// with none. Call it once at startup before running the pipeline.
func RegisterViews(views ...*view.View) {
	if len(views) == 0 {
		views = DefaultViews
	}
	if err := view.Register(views...); err != nil {
		panic(err) // This should never happen, really
	}
}

// GetNewContextFromBar tags a context with the bar it belongs to, so
// recorded measures can be linked back to the originating candle.
func GetNewContextFromBar(b Bar, signal Signal) context.Context {
	ctx, err := tag.New(context.Background(),
		tag.Insert(KeyBarTime, FormatTime(b.OpenTime)),
		tag.Insert(KeySignal, signal.String()),
	)
	if err != nil {
		panic(err)
	}
	return ctx
}

// GetNewContextFromFile tags a context with the bar file that produced
// an event.
func GetNewContextFromFile(filename string) context.Context {
	ctx, err := tag.New(context.Background(), tag.Insert(KeySourceFile, filename))
	if err != nil {
		panic(err)
	}
	return ctx
}
