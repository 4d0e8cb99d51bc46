// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading core — energy
// categories, order and contract records, book views, engine events, and
// analytics snapshots. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side an order of this side can match against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide converts a wire label into a Side. Unknown labels are rejected;
// the enum is closed and invalid values must never be stored.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Category identifies the energy source of a traded lot. Orders only ever
// match within a single category.
type Category string

const (
	CategorySolar   Category = "solar"
	CategoryWind    Category = "wind"
	CategoryHydro   Category = "hydro"
	CategoryBiomass Category = "biomass"
)

// Categories returns all known categories in a stable order.
func Categories() []Category {
	return []Category{CategorySolar, CategoryWind, CategoryHydro, CategoryBiomass}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySolar, CategoryWind, CategoryHydro, CategoryBiomass:
		return true
	}
	return false
}

// ParseCategory converts a wire label into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// OrderState is the lifecycle state of an order.
//
// pending → matched → completed is the happy path. A matched order whose
// contract fails reverts to pending. pending and (narrowly) matched orders
// can be cancelled. completed and cancelled are terminal.
type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderMatched   OrderState = "matched"
	OrderCompleted OrderState = "completed"
	OrderCancelled OrderState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s OrderState) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Valid reports whether s is a known order state.
func (s OrderState) Valid() bool {
	switch s {
	case OrderPending, OrderMatched, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// ParseOrderState converts a wire label into an OrderState.
func ParseOrderState(s string) (OrderState, error) {
	st := OrderState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order state %q", s)
	}
	return st, nil
}

// ContractState is the lifecycle state of a settlement contract:
// pending → active → (completed | failed). Progression is monotone.
type ContractState string

const (
	ContractPending   ContractState = "pending"
	ContractActive    ContractState = "active"
	ContractCompleted ContractState = "completed"
	ContractFailed    ContractState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ContractState) Terminal() bool {
	return s == ContractCompleted || s == ContractFailed
}

// Verification is the recorded outcome of contract verification.
// It transitions away from unverified exactly once.
type Verification string

const (
	VerificationUnverified Verification = "unverified"
	VerificationVerified   Verification = "verified"
	VerificationFailed     Verification = "failed"
)

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is a limit order for a whole energy lot. Quantity is in kWh and
// LimitPrice in currency units per kWh; both are decimals end to end so
// midpoint prices and traded values never pick up float error.
//
// CreatedAt is assigned once at admission and never changes afterwards; it
// is the time component of price-time priority, so reverting a failed match
// restores the order's original queue position.
type Order struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	Category   Category        `json:"category"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	UserID     string          `json:"user_id"`
	State      OrderState      `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	// MatchedWith is the counterparty order ID while matched or completed.
	MatchedWith string `json:"matched_with,omitempty"`
	// ContractID is set when the order completes.
	ContractID string `json:"contract_id,omitempty"`
	// ExecutionLatency is the time from match to settled contract,
	// zero until the order completes.
	ExecutionLatency time.Duration `json:"execution_latency_ns,omitempty"`
}

// Equal reports whether two orders are the same record. Decimal and time
// fields need dedicated comparisons (== on decimal.Decimal compares
// internal representation, not value).
func (o Order) Equal(other Order) bool {
	return o.ID == other.ID &&
		o.Side == other.Side &&
		o.Category == other.Category &&
		o.Quantity.Equal(other.Quantity) &&
		o.LimitPrice.Equal(other.LimitPrice) &&
		o.UserID == other.UserID &&
		o.State == other.State &&
		o.CreatedAt.Equal(other.CreatedAt) &&
		o.UpdatedAt.Equal(other.UpdatedAt) &&
		o.MatchedWith == other.MatchedWith &&
		o.ContractID == other.ContractID &&
		o.ExecutionLatency == other.ExecutionLatency
}

// ————————————————————————————————————————————————————————————————————————
// Contracts
// ————————————————————————————————————————————————————————————————————————

// Contract is the settlement record created when two orders match.
// TxHash is deterministic over the economic terms (parties, category,
// quantity, execution price, creation time), so re-creating the same match
// yields the same hash.
type Contract struct {
	ID            string          `json:"id"`
	BuyerOrderID  string          `json:"buyer_order_id"`
	SellerOrderID string          `json:"seller_order_id"`
	Buyer         string          `json:"buyer"`  // buyer user ID
	Seller        string          `json:"seller"` // seller user ID
	Category      Category        `json:"category"`
	Quantity      decimal.Decimal `json:"quantity"`
	// ExecutionPrice is the midpoint of the two limit prices.
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	// TotalValue = Quantity × ExecutionPrice.
	TotalValue decimal.Decimal `json:"total_value"`
	// TxHash is 64 lowercase hex characters (keccak-256).
	TxHash       string        `json:"tx_hash"`
	State        ContractState `json:"state"`
	Verification Verification  `json:"verification"`

	CreatedAt  time.Time  `json:"created_at"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	// ExecutionDuration is the measured wall time of the execute step.
	ExecutionDuration time.Duration `json:"execution_duration_ns,omitempty"`
	// GasUsed is in ETH equivalent, 6 decimal places.
	GasUsed       decimal.Decimal `json:"gas_used"`
	BlockNumber   uint64          `json:"block_number,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Equal reports whether two contracts are the same record.
func (c Contract) Equal(other Contract) bool {
	return c.ID == other.ID &&
		c.BuyerOrderID == other.BuyerOrderID &&
		c.SellerOrderID == other.SellerOrderID &&
		c.Buyer == other.Buyer &&
		c.Seller == other.Seller &&
		c.Category == other.Category &&
		c.Quantity.Equal(other.Quantity) &&
		c.ExecutionPrice.Equal(other.ExecutionPrice) &&
		c.TotalValue.Equal(other.TotalValue) &&
		c.TxHash == other.TxHash &&
		c.State == other.State &&
		c.Verification == other.Verification &&
		c.CreatedAt.Equal(other.CreatedAt) &&
		timePtrEqual(c.DeployedAt, other.DeployedAt) &&
		timePtrEqual(c.ExecutedAt, other.ExecutedAt) &&
		c.ExecutionDuration == other.ExecutionDuration &&
		c.GasUsed.Equal(other.GasUsed) &&
		c.BlockNumber == other.BlockNumber &&
		c.FailureReason == other.FailureReason
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// ————————————————————————————————————————————————————————————————————————
// Order book views
// ————————————————————————————————————————————————————————————————————————

// BookEntry is one resting order as seen by the book: the immutable
// attributes that determine priority plus what snapshots display. The order
// registry remains the source of truth for state.
type BookEntry struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// BookView is a point-in-time copy of one category's book. Buy is sorted
// best bid first (highest price, earliest time); Sell best ask first
// (lowest price, earliest time). BestBid/BestAsk/Spread are nil when the
// relevant side is empty.
type BookView struct {
	Category        Category         `json:"category"`
	Buy             []BookEntry      `json:"buy"`
	Sell            []BookEntry      `json:"sell"`
	BestBid         *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk         *decimal.Decimal `json:"best_ask,omitempty"`
	Spread          *decimal.Decimal `json:"spread,omitempty"`
	TotalBuyVolume  decimal.Decimal  `json:"total_buy_volume"`
	TotalSellVolume decimal.Decimal  `json:"total_sell_volume"`
	Timestamp       time.Time        `json:"timestamp"`
}

// DepthLevel is one price level of aggregated market depth.
type DepthLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// MarketDepth is price-aggregated book depth for one category. Bids are
// sorted best first (descending price), asks best first (ascending price),
// each with cumulative volume.
type MarketDepth struct {
	Category  Category     `json:"category"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Engine events
// ————————————————————————————————————————————————————————————————————————

// EventType labels the engine event stream.
type EventType string

const (
	EventOrderAdmitted    EventType = "order_admitted"
	EventOrderMatched     EventType = "order_matched"
	EventOrderCancelled   EventType = "order_cancelled"
	EventContractDeployed EventType = "contract_deployed"
	EventContractExecuted EventType = "contract_executed"
	EventContractVerified EventType = "contract_verified"
	EventContractFailed   EventType = "contract_failed"
)

// Event is the wrapper for all notifications emitted by the engine.
// Fields beyond Type and Timestamp are populated per event type:
//
//   - order_admitted / order_cancelled: OrderID, UserID, Side, Category,
//     Price (limit), Quantity.
//   - order_matched: BuyerOrderID, SellerOrderID, ContractID, Category,
//     Price (execution), Quantity.
//   - contract_deployed: ContractID, TxHash.
//   - contract_executed: ContractID, TxHash, GasUsed, BlockNumber, Latency.
//   - contract_verified: ContractID, TxHash, Verified, Latency.
//   - contract_failed: ContractID, Reason.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	OrderID       string          `json:"order_id,omitempty"`
	BuyerOrderID  string          `json:"buyer_order_id,omitempty"`
	SellerOrderID string          `json:"seller_order_id,omitempty"`
	ContractID    string          `json:"contract_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	Side          Side            `json:"side,omitempty"`
	Category      Category        `json:"category,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	TxHash        string          `json:"tx_hash,omitempty"`
	GasUsed       decimal.Decimal `json:"gas_used"`
	BlockNumber   uint64          `json:"block_number,omitempty"`
	Verified      bool            `json:"verified,omitempty"`
	Latency       time.Duration   `json:"latency_ns,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Analytics
// ————————————————————————————————————————————————————————————————————————

// OrderCounts breaks the registry down by state.
type OrderCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Matched   int `json:"matched"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// MatchCounts tracks match attempts and their outcomes. CancelledAfterMatch
// counts matched orders that were cancelled before their contract deployed.
type MatchCounts struct {
	Attempted           int `json:"attempted"`
	Completed           int `json:"completed"`
	Failed              int `json:"failed"`
	CancelledAfterMatch int `json:"cancelled_after_match"`
}

// SideVWAP is the volume-weighted average price of the resting orders on
// each side of one category's book. Nil when the side is empty.
type SideVWAP struct {
	Buy  *float64 `json:"buy,omitempty"`
	Sell *float64 `json:"sell,omitempty"`
}

// VerificationStats summarizes contract verification performance against
// the configured baseline.
type VerificationStats struct {
	Checks         int     `json:"checks"`
	CacheHits      int     `json:"cache_hits"`
	MeanLatencySec float64 `json:"mean_latency_sec"`
	BaselineSec    float64 `json:"baseline_sec"`
	ReductionPct   float64 `json:"reduction_pct"`
}

// DepthStats is the per-category book shape included in Stats.
type DepthStats struct {
	BuyOrders  int              `json:"buy_orders"`
	SellOrders int              `json:"sell_orders"`
	BestBid    *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk    *decimal.Decimal `json:"best_ask,omitempty"`
	Spread     *decimal.Decimal `json:"spread,omitempty"`
}

// Stats is the analytics snapshot assembled on demand from the registry,
// the books, the contract manager, and the verifier. It is a read model:
// nothing in it is authoritative.
type Stats struct {
	GeneratedAt time.Time `json:"generated_at"`

	Orders  OrderCounts `json:"orders"`
	Matches MatchCounts `json:"matches"`

	// SuccessRatePct = completed / (completed + failed + cancelled after
	// match) × 100. Zero when no match has resolved yet.
	SuccessRatePct float64 `json:"success_rate_pct"`
	// AvgExecutionLatencySec is the mean ExecutionLatency over completed
	// orders, in seconds.
	AvgExecutionLatencySec float64 `json:"avg_execution_latency_sec"`

	Submitted        int     `json:"submitted"`
	OrdersPerMinute  float64 `json:"orders_per_minute"`
	UptimeSec        float64 `json:"uptime_sec"`

	VolumeByCategory    map[Category]decimal.Decimal `json:"volume_by_category"`
	TotalValueCompleted decimal.Decimal              `json:"total_value_completed"`
	GasSpentETH         decimal.Decimal              `json:"gas_spent_eth"`

	VWAP  map[Category]SideVWAP   `json:"vwap"`
	Depth map[Category]DepthStats `json:"depth"`

	Verification VerificationStats `json:"verification"`
}
