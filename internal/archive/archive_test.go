package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridtrade/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOrder(id string, offset time.Duration) types.Order {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return types.Order{
		ID:               id,
		Side:             types.SideBuy,
		Category:         types.CategorySolar,
		Quantity:         decimal.NewFromInt(100),
		LimitPrice:       decimal.RequireFromString("0.12"),
		UserID:           "u1",
		State:            types.OrderCompleted,
		CreatedAt:        now,
		UpdatedAt:        now.Add(time.Second),
		MatchedWith:      "other",
		ContractID:       "ctr",
		ExecutionLatency: 30 * time.Millisecond,
	}
}

func sampleContract(id string, offset time.Duration) types.Contract {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	deployed := now.Add(time.Millisecond)
	executed := now.Add(2 * time.Millisecond)
	return types.Contract{
		ID:                id,
		BuyerOrderID:      "ord-b",
		SellerOrderID:     "ord-s",
		Buyer:             "u1",
		Seller:            "u2",
		Category:          types.CategoryWind,
		Quantity:          decimal.NewFromInt(150),
		ExecutionPrice:    decimal.RequireFromString("0.095"),
		TotalValue:        decimal.RequireFromString("14.25"),
		TxHash:            "abcd1234",
		State:             types.ContractCompleted,
		Verification:      types.VerificationVerified,
		CreatedAt:         now,
		DeployedAt:        &deployed,
		ExecutedAt:        &executed,
		ExecutionDuration: 25 * time.Millisecond,
		GasUsed:           decimal.RequireFromString("0.003145"),
		BlockNumber:       9,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleOrder("ord-1", 0)
	if err := s.SaveOrder(ctx, want); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := s.Orders(ctx, 0)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("archive holds %d orders, want 1", len(got))
	}
	if !got[0].Equal(want) {
		t.Errorf("round trip changed the order:\n got %+v\nwant %+v", got[0], want)
	}
}

func TestContractRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleContract("ctr-1", 0)
	if err := s.SaveContract(ctx, want); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}

	got, err := s.Contracts(ctx, 0)
	if err != nil {
		t.Fatalf("Contracts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("archive holds %d contracts, want 1", len(got))
	}
	if !got[0].Equal(want) {
		t.Errorf("round trip changed the contract:\n got %+v\nwant %+v", got[0], want)
	}
}

func TestContractNilTimestamps(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleContract("ctr-pending", 0)
	want.State = types.ContractFailed
	want.Verification = types.VerificationUnverified
	want.DeployedAt = nil
	want.ExecutedAt = nil
	want.FailureReason = "settlement refused"

	if err := s.SaveContract(ctx, want); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}
	got, err := s.Contracts(ctx, 0)
	if err != nil {
		t.Fatalf("Contracts: %v", err)
	}
	if got[0].DeployedAt != nil || got[0].ExecutedAt != nil {
		t.Error("nil timestamps came back set")
	}
	if got[0].FailureReason != "settlement refused" {
		t.Errorf("failureReason = %q, want settlement refused", got[0].FailureReason)
	}
}

func TestSaveOrderUpsert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	o := sampleOrder("ord-1", 0)
	o.State = types.OrderPending
	o.ContractID = ""
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("first save: %v", err)
	}

	o.State = types.OrderCompleted
	o.ContractID = "ctr-9"
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.Orders(ctx, 0)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("upsert produced %d rows, want 1", len(got))
	}
	if got[0].State != types.OrderCompleted || got[0].ContractID != "ctr-9" {
		t.Errorf("row not updated: state %s, contract %q", got[0].State, got[0].ContractID)
	}
}

func TestOrdersNewestFirstAndLimit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := s.SaveOrder(ctx, sampleOrder(id, time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := s.Orders(ctx, 2)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit ignored: %d rows, want 2", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("order = %s, %s; want newest-first c, b", got[0].ID, got[1].ID)
	}
}

func TestNopStore(t *testing.T) {
	t.Parallel()

	var s NopStore
	ctx := context.Background()
	if err := s.SaveOrder(ctx, sampleOrder("x", 0)); err != nil {
		t.Errorf("NopStore.SaveOrder: %v", err)
	}
	if err := s.SaveContract(ctx, sampleContract("y", 0)); err != nil {
		t.Errorf("NopStore.SaveContract: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("NopStore.Close: %v", err)
	}
}
