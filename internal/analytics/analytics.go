// Package analytics assembles the read-only statistics of the trading core.
//
// The Service owns no authoritative state: a collector callback gathers one
// consistent snapshot of raw inputs from the engine's components, and the
// service derives the published numbers from it. Recomputation is deduped
// with singleflight and the finished snapshot is cached for a short TTL, so
// a burst of Stats callers costs one collection.
package analytics

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/stat"

	"gridtrade/pkg/types"
)

// cacheKey is the single entry the snapshot cache holds.
const cacheKey = "stats"

// Inputs is the raw material for one recomputation, collected by the engine
// under its read lock so every number describes the same instant.
type Inputs struct {
	StartedAt time.Time

	Counts    types.OrderCounts
	Submitted int

	MatchesAttempted    int
	MatchesCompleted    int
	MatchesFailed       int
	CancelledAfterMatch int

	// Views holds one book snapshot per category, for VWAP and depth.
	Views []types.BookView

	CompletedLatenciesSec []float64
	VolumeByCategory      map[types.Category]decimal.Decimal
	TotalValueCompleted   decimal.Decimal
	GasSpentETH           decimal.Decimal

	Verification types.VerificationStats
}

// Collector gathers a consistent Inputs snapshot.
type Collector func() Inputs

// Service derives statistics on demand.
type Service struct {
	collect Collector
	cache   *gocache.Cache
	group   singleflight.Group
}

// New creates a service caching snapshots for ttl.
func New(ttl time.Duration, collect Collector) *Service {
	return &Service{
		collect: collect,
		cache:   gocache.New(ttl, 2*ttl),
	}
}

// Stats returns the current snapshot, recomputing at most once per TTL.
// Concurrent callers during a recomputation share the one result.
func (s *Service) Stats(ctx context.Context) (types.Stats, error) {
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(types.Stats), nil
	}

	result, err, _ := s.group.Do(cacheKey, func() (interface{}, error) {
		stats := compute(s.collect())
		s.cache.SetDefault(cacheKey, stats)
		return stats, nil
	})
	if err != nil {
		return types.Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Stats{}, err
	}
	return result.(types.Stats), nil
}

// Invalidate drops the cached snapshot so the next Stats recomputes.
func (s *Service) Invalidate() {
	s.cache.Delete(cacheKey)
}

// compute derives the published snapshot from one set of inputs.
func compute(in Inputs) types.Stats {
	now := time.Now().UTC()

	out := types.Stats{
		GeneratedAt: now,
		Orders:      in.Counts,
		Matches: types.MatchCounts{
			Attempted:           in.MatchesAttempted,
			Completed:           in.MatchesCompleted,
			Failed:              in.MatchesFailed,
			CancelledAfterMatch: in.CancelledAfterMatch,
		},
		Submitted:           in.Submitted,
		VolumeByCategory:    in.VolumeByCategory,
		TotalValueCompleted: in.TotalValueCompleted,
		GasSpentETH:         in.GasSpentETH,
		VWAP:                make(map[types.Category]types.SideVWAP, len(in.Views)),
		Depth:               make(map[types.Category]types.DepthStats, len(in.Views)),
		Verification:        in.Verification,
	}

	if resolved := in.MatchesCompleted + in.MatchesFailed + in.CancelledAfterMatch; resolved > 0 {
		out.SuccessRatePct = float64(in.MatchesCompleted) / float64(resolved) * 100
	}
	if len(in.CompletedLatenciesSec) > 0 {
		out.AvgExecutionLatencySec = stat.Mean(in.CompletedLatenciesSec, nil)
	}
	if uptime := now.Sub(in.StartedAt); uptime > 0 {
		out.UptimeSec = uptime.Seconds()
		out.OrdersPerMinute = float64(in.Submitted) / uptime.Minutes()
	}

	for _, view := range in.Views {
		out.VWAP[view.Category] = types.SideVWAP{
			Buy:  sideVWAP(view.Buy),
			Sell: sideVWAP(view.Sell),
		}
		out.Depth[view.Category] = types.DepthStats{
			BuyOrders:  len(view.Buy),
			SellOrders: len(view.Sell),
			BestBid:    view.BestBid,
			BestAsk:    view.BestAsk,
			Spread:     view.Spread,
		}
	}
	return out
}

// sideVWAP is the volume-weighted average price over one side's resting
// entries: Σ(price×quantity) / Σ(quantity). Nil when the side is empty.
func sideVWAP(entries []types.BookEntry) *float64 {
	if len(entries) == 0 {
		return nil
	}
	prices := make([]float64, len(entries))
	weights := make([]float64, len(entries))
	for i, e := range entries {
		prices[i], _ = e.Price.Float64()
		weights[i], _ = e.Quantity.Float64()
	}
	vwap := stat.Mean(prices, weights)
	return &vwap
}
