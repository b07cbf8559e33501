package async_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/rcliao/rfp-agent-memory/internal/async"
)

func TestDispatchRecordsFailures(t *testing.T) {
	d := async.New(async.WithCapacity(2))
	ctx := context.Background()

	d.Dispatch(ctx, "ok", func(ctx context.Context) error { return nil })
	d.Dispatch(ctx, "a", func(ctx context.Context) error { return errors.New("boom a") })
	d.Dispatch(ctx, "b", func(ctx context.Context) error { panic("boom b") })
	d.Wait()

	gt.Number(t, d.TotalFailures()).Equal(2)
	gt.Array(t, d.Failures()).Length(2)

	drained := d.Drain()
	gt.Array(t, drained).Length(2)
	gt.Array(t, d.Failures()).Length(0)
}

func TestDispatchCapacityKeepsNewest(t *testing.T) {
	d := async.New(async.WithCapacity(1))
	ctx := context.Background()

	d.Dispatch(ctx, "first", func(ctx context.Context) error { return errors.New("first") })
	d.Wait()
	d.Dispatch(ctx, "second", func(ctx context.Context) error { return errors.New("second") })
	d.Wait()

	got := d.Failures()
	gt.Array(t, got).Length(1)
	gt.Value(t, got[0].Task).Equal("second")
	gt.Number(t, d.TotalFailures()).Equal(2)
}

func TestDispatchTimeoutBoundsTask(t *testing.T) {
	d := async.New(async.WithTimeout(20 * time.Millisecond))

	d.Dispatch(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d.Wait()

	got := d.Failures()
	gt.Array(t, got).Length(1)
	gt.S(t, got[0].Error).Contains("deadline")
}
