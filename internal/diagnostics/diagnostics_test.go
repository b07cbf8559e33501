package diagnostics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/rfp-agent-memory/internal/async"
	"github.com/rcliao/rfp-agent-memory/internal/diagnostics"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

func TestCollectDegradesPerSource(t *testing.T) {
	ctx := context.Background()
	ok := diagnostics.SourceFunc{SourceName: "jobs", Fn: func(context.Context, diagnostics.Query) (any, error) {
		return map[string]int{"queued": 2}, nil
	}}
	broken := diagnostics.SourceFunc{SourceName: "events", Fn: func(context.Context, diagnostics.Query) (any, error) {
		return nil, errors.New("events backend down")
	}}
	slow := diagnostics.SourceFunc{SourceName: "daily", Fn: func(ctx context.Context, _ diagnostics.Query) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	agg := diagnostics.New([]diagnostics.Source{ok, broken, slow}, diagnostics.WithSourceTimeout(50*time.Millisecond))
	report, err := agg.Collect(ctx, diagnostics.Query{})
	gt.NoError(t, err).Required()

	gt.Value(t, report.Query.WindowHours).Equal(diagnostics.DefaultWindowHours)
	gt.Value(t, report.DataSourceStatus["jobs"]).Equal(diagnostics.StatusOK)
	gt.Value(t, report.DataSourceStatus["events"]).Equal(diagnostics.StatusFailed)
	gt.Value(t, report.DataSourceStatus["daily"]).Equal(diagnostics.StatusFailed)
	gt.Bool(t, report.Degraded()).True()
	gt.Value(t, report.Message()).Equal("results may be incomplete")
	gt.Value(t, report.FailedSources()).Equal([]string{"daily", "events"})
	gt.S(t, report.Errors["events"]).Contains("events backend down")

	again, err := agg.Collect(ctx, diagnostics.Query{WindowHours: diagnostics.DefaultWindowHours})
	gt.NoError(t, err).Required()
	gt.Value(t, again).Equal(report)
}

func TestBuiltInSources(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := async.New(async.WithTimeout(time.Second))
	svc := memory.New(st, memory.WithDispatcher(d))

	_, err := svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: "USER#u1", Content: "drafted the executive summary"})
	gt.NoError(t, err).Required()
	_, err = svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: "RFP#r1", Content: "evaluation criteria posted"})
	gt.NoError(t, err).Required()
	_, err = svc.StoreErrorLog(ctx, "USER#u1", "export job timed out", map[string]any{"job": "export"})
	gt.NoError(t, err).Required()

	now := func() time.Time { return time.Now().Add(time.Minute) }
	agg := diagnostics.New([]diagnostics.Source{
		diagnostics.MetricsSource(st, now),
		diagnostics.ErrorsSource(st, now),
		diagnostics.IndexingSource(d),
	}, diagnostics.WithPersistence(svc))

	report, err := agg.Collect(ctx, diagnostics.Query{WindowHours: 1, UserSub: "u1"})
	gt.NoError(t, err).Required()
	gt.Bool(t, report.Degraded()).False()
	gt.Value(t, report.Message()).Equal("")

	metrics := report.Data["metrics"].(*diagnostics.Metrics)
	gt.Value(t, metrics.Total).Equal(2)
	gt.Value(t, metrics.ByType[model.MemoryEpisodic]).Equal(1)
	gt.Value(t, metrics.ByType[model.MemoryErrorLog]).Equal(1)

	errs := report.Data["errors"].([]diagnostics.ErrorEntry)
	gt.Array(t, errs).Length(1).Required()
	gt.Value(t, errs[0].Message).Equal("export job timed out")

	indexing := report.Data["indexing"].(*diagnostics.IndexingStatus)
	gt.Value(t, indexing.TotalFailures).Equal(0)

	d.Wait()
	page, err := svc.ListByScope(ctx, "GLOBAL", memory.ListOptions{MemoryType: model.MemoryDiagnostics})
	gt.NoError(t, err).Required()
	gt.Array(t, page.Items).Length(1)
}
