package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSide(t *testing.T) {
	t.Parallel()

	for _, label := range []string{"buy", "sell"} {
		s, err := ParseSide(label)
		if err != nil {
			t.Errorf("ParseSide(%q) error: %v", label, err)
		}
		if string(s) != label {
			t.Errorf("ParseSide(%q) = %q", label, s)
		}
	}
	if _, err := ParseSide("hold"); err == nil {
		t.Error("ParseSide(\"hold\") should fail")
	}
	if _, err := ParseSide(""); err == nil {
		t.Error("ParseSide(\"\") should fail")
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if got := SideBuy.Opposite(); got != SideSell {
		t.Errorf("SideBuy.Opposite() = %q, want sell", got)
	}
	if got := SideSell.Opposite(); got != SideBuy {
		t.Errorf("SideSell.Opposite() = %q, want buy", got)
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	for _, cat := range Categories() {
		got, err := ParseCategory(string(cat))
		if err != nil {
			t.Errorf("ParseCategory(%q) error: %v", cat, err)
		}
		if got != cat {
			t.Errorf("ParseCategory(%q) = %q", cat, got)
		}
	}
	if _, err := ParseCategory("coal"); err == nil {
		t.Error("ParseCategory(\"coal\") should fail")
	}
}

func TestCategoriesClosed(t *testing.T) {
	t.Parallel()

	cats := Categories()
	if len(cats) != 4 {
		t.Fatalf("Categories() has %d entries, want 4", len(cats))
	}
	for _, cat := range cats {
		if !cat.Valid() {
			t.Errorf("category %q reports invalid", cat)
		}
	}
}

func TestOrderStateTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    OrderState
		terminal bool
	}{
		{OrderPending, false},
		{OrderMatched, false},
		{OrderCompleted, true},
		{OrderCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestOrderJSONRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	o := Order{
		ID:               "ord-1",
		Side:             SideBuy,
		Category:         CategorySolar,
		Quantity:         decimal.NewFromInt(100),
		LimitPrice:       decimal.RequireFromString("0.12"),
		UserID:           "u1",
		State:            OrderCompleted,
		CreatedAt:        now,
		UpdatedAt:        now.Add(time.Second),
		MatchedWith:      "ord-2",
		ContractID:       "ctr-1",
		ExecutionLatency: 42 * time.Millisecond,
	}

	raw, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Order
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !o.Equal(back) {
		t.Errorf("round trip changed the order:\n got %+v\nwant %+v", back, o)
	}
}

func TestContractJSONRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	deployed := now.Add(time.Millisecond)
	executed := now.Add(2 * time.Millisecond)
	c := Contract{
		ID:                "ctr-1",
		BuyerOrderID:      "ord-1",
		SellerOrderID:     "ord-2",
		Buyer:             "u1",
		Seller:            "u2",
		Category:          CategoryWind,
		Quantity:          decimal.NewFromInt(150),
		ExecutionPrice:    decimal.RequireFromString("0.095"),
		TotalValue:        decimal.RequireFromString("14.25"),
		TxHash:            "deadbeef",
		State:             ContractCompleted,
		Verification:      VerificationVerified,
		CreatedAt:         now,
		DeployedAt:        &deployed,
		ExecutedAt:        &executed,
		ExecutionDuration: 25 * time.Millisecond,
		GasUsed:           decimal.RequireFromString("0.003145"),
		BlockNumber:       7,
	}

	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Contract
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !c.Equal(back) {
		t.Errorf("round trip changed the contract:\n got %+v\nwant %+v", back, c)
	}
}

func TestContractEqualNilTimes(t *testing.T) {
	t.Parallel()

	a := Contract{ID: "c", GasUsed: decimal.Zero}
	b := Contract{ID: "c", GasUsed: decimal.Zero}
	if !a.Equal(b) {
		t.Error("contracts with nil timestamps should be equal")
	}

	now := time.Now()
	b.DeployedAt = &now
	if a.Equal(b) {
		t.Error("nil and set DeployedAt should not be equal")
	}
}
