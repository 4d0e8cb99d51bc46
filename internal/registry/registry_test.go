package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridtrade/pkg/types"
)

func newOrder(id string, side types.Side, cat types.Category) types.Order {
	now := time.Now().UTC()
	return types.Order{
		ID:         id,
		Side:       side,
		Category:   cat,
		Quantity:   decimal.NewFromInt(100),
		LimitPrice: decimal.RequireFromString("0.10"),
		UserID:     "u-" + id,
		State:      types.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()
	r := New()

	o := newOrder("a", types.SideBuy, types.CategorySolar)
	if err := r.Add(o); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(o); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("second Add error = %v, want ErrDuplicateOrder", err)
	}

	got, ok := r.Get("a")
	if !ok {
		t.Fatal("Get did not find the order")
	}
	if !got.Equal(o) {
		t.Errorf("Get = %+v, want %+v", got, o)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get found a never-added order")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("a", types.SideBuy, types.CategorySolar))

	got, _ := r.Get("a")
	got.State = types.OrderCancelled

	fresh, _ := r.Get("a")
	if fresh.State != types.OrderPending {
		t.Error("mutating a Get result changed registry state")
	}
}

func TestListNewestFirstAndFilters(t *testing.T) {
	t.Parallel()
	r := New()

	for _, id := range []string{"a", "b", "c"} {
		r.Add(newOrder(id, types.SideBuy, types.CategorySolar))
	}
	r.SetState("b", types.OrderPending, types.OrderCancelled)

	all := r.List(Filter{})
	if len(all) != 3 {
		t.Fatalf("List returned %d orders, want 3", len(all))
	}
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("List order = %s..%s, want newest-first c..a", all[0].ID, all[2].ID)
	}

	pending := types.OrderPending
	byState := r.List(Filter{State: &pending})
	if len(byState) != 2 {
		t.Errorf("pending filter returned %d, want 2", len(byState))
	}

	byUser := r.List(Filter{UserID: "u-a"})
	if len(byUser) != 1 || byUser[0].ID != "a" {
		t.Errorf("user filter = %v, want [a]", byUser)
	}

	limited := r.List(Filter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Errorf("limited list = %v, want [c]", limited)
	}
}

func TestListLimitCap(t *testing.T) {
	t.Parallel()
	r := New()

	got := r.List(Filter{Limit: 10 * MaxListLimit})
	if cap(got) > MaxListLimit {
		t.Errorf("list capacity %d exceeds cap %d", cap(got), MaxListLimit)
	}
}

func TestSetStateCAS(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("a", types.SideBuy, types.CategorySolar))

	if err := r.SetState("a", types.OrderPending, types.OrderCancelled); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	// Stale from-state loses.
	if err := r.SetState("a", types.OrderPending, types.OrderCancelled); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("stale SetState error = %v, want ErrStaleTransition", err)
	}
	if err := r.SetState("missing", types.OrderPending, types.OrderCancelled); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("a", types.SideBuy, types.CategorySolar))

	// pending → completed skips matched.
	if err := r.SetState("a", types.OrderPending, types.OrderCompleted); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("pending→completed error = %v, want ErrIllegalTransition", err)
	}

	// Terminal states allow nothing.
	r.SetState("a", types.OrderPending, types.OrderCancelled)
	if err := r.SetState("a", types.OrderCancelled, types.OrderPending); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("cancelled→pending error = %v, want ErrIllegalTransition", err)
	}
}

func TestRecordMatchSymmetry(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("buy", types.SideBuy, types.CategorySolar))
	r.Add(newOrder("sell", types.SideSell, types.CategorySolar))

	if err := r.RecordMatch("buy", "sell"); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}

	buy, _ := r.Get("buy")
	sell, _ := r.Get("sell")
	if buy.State != types.OrderMatched || sell.State != types.OrderMatched {
		t.Errorf("states = %s/%s, want matched/matched", buy.State, sell.State)
	}
	if buy.MatchedWith != "sell" || sell.MatchedWith != "buy" {
		t.Errorf("matchedWith = %s/%s, want sell/buy", buy.MatchedWith, sell.MatchedWith)
	}
}

func TestRecordMatchRequiresBothPending(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("buy", types.SideBuy, types.CategorySolar))
	r.Add(newOrder("sell", types.SideSell, types.CategorySolar))
	r.SetState("sell", types.OrderPending, types.OrderCancelled)

	if err := r.RecordMatch("buy", "sell"); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("RecordMatch error = %v, want ErrStaleTransition", err)
	}
	buy, _ := r.Get("buy")
	if buy.State != types.OrderPending {
		t.Errorf("buy state = %s after failed match, want pending", buy.State)
	}
}

func TestRevertMatchPreservesCreatedAt(t *testing.T) {
	t.Parallel()
	r := New()
	buy := newOrder("buy", types.SideBuy, types.CategorySolar)
	r.Add(buy)
	r.Add(newOrder("sell", types.SideSell, types.CategorySolar))
	r.RecordMatch("buy", "sell")

	if err := r.RevertMatch("buy", "sell"); err != nil {
		t.Fatalf("RevertMatch: %v", err)
	}

	got, _ := r.Get("buy")
	if got.State != types.OrderPending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if got.MatchedWith != "" {
		t.Errorf("matchedWith = %q, want cleared", got.MatchedWith)
	}
	if !got.CreatedAt.Equal(buy.CreatedAt) {
		t.Errorf("createdAt changed on revert: %v != %v", got.CreatedAt, buy.CreatedAt)
	}
}

func TestRecordCompletion(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("buy", types.SideBuy, types.CategorySolar))
	r.Add(newOrder("sell", types.SideSell, types.CategorySolar))
	r.RecordMatch("buy", "sell")

	if err := r.RecordCompletion("buy", "ctr-1", 30*time.Millisecond); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	got, _ := r.Get("buy")
	if got.State != types.OrderCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.ContractID != "ctr-1" {
		t.Errorf("contractID = %q, want ctr-1", got.ContractID)
	}
	if got.ExecutionLatency != 30*time.Millisecond {
		t.Errorf("latency = %v, want 30ms", got.ExecutionLatency)
	}

	// Completing a pending order must fail.
	if err := r.RecordCompletion("buy", "ctr-2", 0); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("double completion error = %v, want ErrStaleTransition", err)
	}
}

func TestCountsAndPendingByCategory(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("a", types.SideBuy, types.CategorySolar))
	r.Add(newOrder("b", types.SideSell, types.CategorySolar))
	r.Add(newOrder("c", types.SideBuy, types.CategoryWind))
	r.SetState("c", types.OrderPending, types.OrderCancelled)

	c := r.Counts()
	if c.Total != 3 || c.Pending != 2 || c.Cancelled != 1 {
		t.Errorf("counts = %+v, want total 3 pending 2 cancelled 1", c)
	}

	pending := r.PendingByCategory()
	if pending[types.CategorySolar][types.SideBuy] != 1 {
		t.Errorf("solar buy pending = %d, want 1", pending[types.CategorySolar][types.SideBuy])
	}
	if pending[types.CategoryWind][types.SideBuy] != 0 {
		t.Errorf("wind buy pending = %d, want 0", pending[types.CategoryWind][types.SideBuy])
	}
}

func TestVolumeByCategoryCountsBothSides(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(newOrder("buy", types.SideBuy, types.CategoryHydro))
	r.Add(newOrder("sell", types.SideSell, types.CategoryHydro))
	r.RecordMatch("buy", "sell")
	r.RecordCompletion("buy", "ctr", time.Millisecond)
	r.RecordCompletion("sell", "ctr", time.Millisecond)

	vol := r.VolumeByCategory()
	if !vol[types.CategoryHydro].Equal(decimal.NewFromInt(200)) {
		t.Errorf("hydro volume = %s, want 200 (both sides)", vol[types.CategoryHydro])
	}
	if !vol[types.CategorySolar].IsZero() {
		t.Errorf("solar volume = %s, want 0", vol[types.CategorySolar])
	}
}

func TestSweepKeepsLiveOrders(t *testing.T) {
	t.Parallel()
	r := New()

	old := newOrder("old", types.SideBuy, types.CategorySolar)
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	r.Add(old)
	r.SetState("old", types.OrderPending, types.OrderCancelled)

	stillPending := newOrder("live", types.SideBuy, types.CategorySolar)
	stillPending.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	r.Add(stillPending)

	fresh := newOrder("fresh", types.SideBuy, types.CategorySolar)
	r.Add(fresh)
	r.SetState("fresh", types.OrderPending, types.OrderCancelled)

	removed := r.Sweep(time.Now().UTC().Add(-24 * time.Hour))
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old terminal order survived the sweep")
	}
	if _, ok := r.Get("live"); !ok {
		t.Error("pending order was swept; pending orders are never evicted")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("fresh terminal order was swept before the cutoff")
	}
}
