package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridtrade/pkg/types"
)

func baseInputs() Inputs {
	return Inputs{
		StartedAt: time.Now().UTC().Add(-time.Minute),
		Counts: types.OrderCounts{
			Total: 10, Pending: 2, Matched: 0, Completed: 6, Cancelled: 2,
		},
		Submitted:           10,
		MatchesAttempted:    5,
		MatchesCompleted:    3,
		MatchesFailed:       1,
		CancelledAfterMatch: 1,
		VolumeByCategory: map[types.Category]decimal.Decimal{
			types.CategorySolar: decimal.NewFromInt(600),
		},
		TotalValueCompleted: decimal.RequireFromString("66"),
		GasSpentETH:         decimal.RequireFromString("0.009"),
	}
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()

	stats := compute(baseInputs())
	// 3 completed of 5 resolved (3 + 1 failed + 1 cancelled after match).
	if got := stats.SuccessRatePct; got != 60 {
		t.Errorf("successRate = %v, want 60", got)
	}
}

func TestSuccessRateZeroDenominator(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.MatchesCompleted, in.MatchesFailed, in.CancelledAfterMatch = 0, 0, 0
	stats := compute(in)
	if stats.SuccessRatePct != 0 {
		t.Errorf("successRate = %v with no resolved matches, want 0", stats.SuccessRatePct)
	}
}

func TestAvgExecutionLatency(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.CompletedLatenciesSec = []float64{0.1, 0.2, 0.3}
	stats := compute(in)
	if math.Abs(stats.AvgExecutionLatencySec-0.2) > 1e-12 {
		t.Errorf("avgExecutionLatency = %v, want 0.2", stats.AvgExecutionLatencySec)
	}
}

func TestVWAP(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.Views = []types.BookView{{
		Category: types.CategoryWind,
		Buy: []types.BookEntry{
			{OrderID: "a", Price: decimal.RequireFromString("0.10"), Quantity: decimal.NewFromInt(100)},
			{OrderID: "b", Price: decimal.RequireFromString("0.08"), Quantity: decimal.NewFromInt(300)},
		},
	}}

	stats := compute(in)
	wind := stats.VWAP[types.CategoryWind]
	if wind.Buy == nil {
		t.Fatal("buy VWAP nil for a populated side")
	}
	// (0.10×100 + 0.08×300) / 400 = 0.085
	if math.Abs(*wind.Buy-0.085) > 1e-9 {
		t.Errorf("buy VWAP = %v, want 0.085", *wind.Buy)
	}
	if wind.Sell != nil {
		t.Error("sell VWAP should be nil for an empty side")
	}
}

func TestDepthStats(t *testing.T) {
	t.Parallel()

	bid := decimal.RequireFromString("0.09")
	ask := decimal.RequireFromString("0.10")
	spread := decimal.RequireFromString("0.01")
	in := baseInputs()
	in.Views = []types.BookView{{
		Category: types.CategorySolar,
		Buy:      []types.BookEntry{{OrderID: "a", Price: bid, Quantity: decimal.NewFromInt(10)}},
		Sell:     []types.BookEntry{{OrderID: "b", Price: ask, Quantity: decimal.NewFromInt(10)}},
		BestBid:  &bid,
		BestAsk:  &ask,
		Spread:   &spread,
	}}

	stats := compute(in)
	depth := stats.Depth[types.CategorySolar]
	if depth.BuyOrders != 1 || depth.SellOrders != 1 {
		t.Errorf("depth = %d/%d orders, want 1/1", depth.BuyOrders, depth.SellOrders)
	}
	if depth.Spread == nil || !depth.Spread.Equal(spread) {
		t.Errorf("spread = %v, want 0.01", depth.Spread)
	}
}

func TestOrdersPerMinute(t *testing.T) {
	t.Parallel()

	in := baseInputs()
	in.StartedAt = time.Now().UTC().Add(-2 * time.Minute)
	in.Submitted = 10
	stats := compute(in)
	if stats.OrdersPerMinute < 4.9 || stats.OrdersPerMinute > 5.1 {
		t.Errorf("ordersPerMinute = %v, want ≈5", stats.OrdersPerMinute)
	}
}

func TestStatsCachedWithinTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	svc := New(time.Second, func() Inputs {
		calls++
		return baseInputs()
	})

	ctx := context.Background()
	if _, err := svc.Stats(ctx); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if _, err := svc.Stats(ctx); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if calls != 1 {
		t.Errorf("collector ran %d times within the TTL, want 1", calls)
	}

	svc.Invalidate()
	if _, err := svc.Stats(ctx); err != nil {
		t.Fatalf("Stats after invalidate: %v", err)
	}
	if calls != 2 {
		t.Errorf("collector ran %d times after invalidate, want 2", calls)
	}
}

func TestStatsExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	svc := New(20*time.Millisecond, func() Inputs {
		calls++
		return baseInputs()
	})

	ctx := context.Background()
	svc.Stats(ctx)
	time.Sleep(50 * time.Millisecond)
	svc.Stats(ctx)
	if calls != 2 {
		t.Errorf("collector ran %d times across the TTL boundary, want 2", calls)
	}
}
