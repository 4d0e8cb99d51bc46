// Package book implements the resting order books of the matching core.
//
// One Book holds a B-tree per (category, side) pair. Trees are ordered
// best-first by price-time priority: buys by highest price then earliest
// admission, sells by lowest price then earliest admission, with the order
// ID as the final tie-break so iteration order is total and deterministic.
//
// The book is an index, not a data store: entries carry only the immutable
// attributes of an order (price, quantity, creation time). Order state
// lives in the registry, and the engine keeps the two in step: an order is
// resting here exactly while it is pending there.
package book

import (
	"errors"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"gridtrade/pkg/types"
)

// btreeDegree affects node size and cache efficiency.
const btreeDegree = 32

var (
	// ErrInvalidCategory is returned for categories outside the closed enum.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidSide is returned for sides outside the closed enum.
	ErrInvalidSide = errors.New("invalid side")
	// ErrDuplicateOrder is returned when an order ID is already resting on
	// the targeted side.
	ErrDuplicateOrder = errors.New("order already in book")
)

// entryLess builds the priority comparator for one side. Both sides sort
// best-first, so Min() is always the next order to match.
func entryLess(side types.Side) btree.LessFunc[types.BookEntry] {
	return func(a, b types.BookEntry) bool {
		if !a.Price.Equal(b.Price) {
			if side == types.SideBuy {
				return a.Price.GreaterThan(b.Price)
			}
			return a.Price.LessThan(b.Price)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.OrderID < b.OrderID
	}
}

// bookSide is one side of one category's book: the priority tree plus an
// ID index for O(log n) removal and a running volume sum.
type bookSide struct {
	tree   *btree.BTreeG[types.BookEntry]
	byID   map[string]types.BookEntry
	volume decimal.Decimal
}

func newBookSide(side types.Side) *bookSide {
	return &bookSide{
		tree:   btree.NewG(btreeDegree, entryLess(side)),
		byID:   make(map[string]types.BookEntry),
		volume: decimal.Zero,
	}
}

func (s *bookSide) insert(e types.BookEntry) error {
	if _, ok := s.byID[e.OrderID]; ok {
		return ErrDuplicateOrder
	}
	s.tree.ReplaceOrInsert(e)
	s.byID[e.OrderID] = e
	s.volume = s.volume.Add(e.Quantity)
	return nil
}

func (s *bookSide) remove(orderID string) bool {
	e, ok := s.byID[orderID]
	if !ok {
		return false
	}
	s.tree.Delete(e)
	delete(s.byID, orderID)
	s.volume = s.volume.Sub(e.Quantity)
	return true
}

// Book is the full set of resting orders across all categories and sides.
// All methods are safe for concurrent use; mutation is additionally
// serialized by the engine's writer lock.
type Book struct {
	mu    sync.RWMutex
	sides map[types.Category]map[types.Side]*bookSide
}

// New creates an empty book with a side pair for every known category.
func New() *Book {
	sides := make(map[types.Category]map[types.Side]*bookSide, len(types.Categories()))
	for _, cat := range types.Categories() {
		sides[cat] = map[types.Side]*bookSide{
			types.SideBuy:  newBookSide(types.SideBuy),
			types.SideSell: newBookSide(types.SideSell),
		}
	}
	return &Book{sides: sides}
}

// side resolves the tree for a (category, side) pair. The caller holds b.mu.
func (b *Book) side(cat types.Category, side types.Side) (*bookSide, error) {
	pair, ok := b.sides[cat]
	if !ok {
		return nil, ErrInvalidCategory
	}
	s, ok := pair[side]
	if !ok {
		return nil, ErrInvalidSide
	}
	return s, nil
}

// Insert adds a resting entry to its category and side.
func (b *Book) Insert(cat types.Category, side types.Side, e types.BookEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.side(cat, side)
	if err != nil {
		return err
	}
	return s.insert(e)
}

// Remove deletes the entry with the given order ID from one side.
// Removing an absent ID (or an unknown category) is a no-op returning false.
func (b *Book) Remove(cat types.Category, side types.Side, orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.side(cat, side)
	if err != nil {
		return false
	}
	return s.remove(orderID)
}

// PeekBest returns the highest-priority resting entry without removing it.
// ok is false when the side is empty.
func (b *Book) PeekBest(cat types.Category, side types.Side) (e types.BookEntry, ok bool, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, err := b.side(cat, side)
	if err != nil {
		return types.BookEntry{}, false, err
	}
	e, ok = s.tree.Min()
	return e, ok, nil
}

// Contains reports whether the order ID is resting on the given side.
func (b *Book) Contains(cat types.Category, side types.Side, orderID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, err := b.side(cat, side)
	if err != nil {
		return false
	}
	_, ok := s.byID[orderID]
	return ok
}

// Len returns the number of resting orders on one side, 0 for unknown pairs.
func (b *Book) Len(cat types.Category, side types.Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, err := b.side(cat, side)
	if err != nil {
		return 0
	}
	return s.tree.Len()
}

// TotalVolume returns the summed resting quantity on one side.
func (b *Book) TotalVolume(cat types.Category, side types.Side) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, err := b.side(cat, side)
	if err != nil {
		return decimal.Zero, err
	}
	return s.volume, nil
}

// BestBidAsk returns the top-of-book prices for a category. Either pointer
// is nil when its side is empty.
func (b *Book) BestBidAsk(cat types.Category) (bid, ask *decimal.Decimal, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buys, err := b.side(cat, types.SideBuy)
	if err != nil {
		return nil, nil, err
	}
	sells, err := b.side(cat, types.SideSell)
	if err != nil {
		return nil, nil, err
	}
	if e, ok := buys.tree.Min(); ok {
		p := e.Price
		bid = &p
	}
	if e, ok := sells.tree.Min(); ok {
		p := e.Price
		ask = &p
	}
	return bid, ask, nil
}

// Snapshot returns a point-in-time copy of one category's book. The slices
// are owned by the caller; later book mutations do not show through.
func (b *Book) Snapshot(cat types.Category) (types.BookView, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buys, err := b.side(cat, types.SideBuy)
	if err != nil {
		return types.BookView{}, err
	}
	sells, err := b.side(cat, types.SideSell)
	if err != nil {
		return types.BookView{}, err
	}

	view := types.BookView{
		Category:        cat,
		Buy:             collect(buys),
		Sell:            collect(sells),
		TotalBuyVolume:  buys.volume,
		TotalSellVolume: sells.volume,
		Timestamp:       time.Now().UTC(),
	}
	if len(view.Buy) > 0 {
		p := view.Buy[0].Price
		view.BestBid = &p
	}
	if len(view.Sell) > 0 {
		p := view.Sell[0].Price
		view.BestAsk = &p
	}
	if view.BestBid != nil && view.BestAsk != nil {
		spread := view.BestAsk.Sub(*view.BestBid)
		view.Spread = &spread
	}
	return view, nil
}

// Depth aggregates one category's book into price levels with cumulative
// volume, best level first on each side. levels caps the number of price
// levels per side; 0 means all.
func (b *Book) Depth(cat types.Category, levels int) (types.MarketDepth, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buys, err := b.side(cat, types.SideBuy)
	if err != nil {
		return types.MarketDepth{}, err
	}
	sells, err := b.side(cat, types.SideSell)
	if err != nil {
		return types.MarketDepth{}, err
	}

	return types.MarketDepth{
		Category:  cat,
		Bids:      aggregate(buys, levels),
		Asks:      aggregate(sells, levels),
		Timestamp: time.Now().UTC(),
	}, nil
}

// collect copies a side's entries in priority order.
func collect(s *bookSide) []types.BookEntry {
	out := make([]types.BookEntry, 0, s.tree.Len())
	s.tree.Ascend(func(e types.BookEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// aggregate folds a side's entries into per-price levels. Entries at the
// same price are adjacent in the tree, so one pass suffices.
func aggregate(s *bookSide, levels int) []types.DepthLevel {
	out := make([]types.DepthLevel, 0, levels)
	cumulative := decimal.Zero
	s.tree.Ascend(func(e types.BookEntry) bool {
		if n := len(out); n > 0 && out[n-1].Price.Equal(e.Price) {
			out[n-1].Quantity = out[n-1].Quantity.Add(e.Quantity)
			cumulative = cumulative.Add(e.Quantity)
			out[n-1].Cumulative = cumulative
			return true
		}
		if levels > 0 && len(out) == levels {
			return false
		}
		cumulative = cumulative.Add(e.Quantity)
		out = append(out, types.DepthLevel{
			Price:      e.Price,
			Quantity:   e.Quantity,
			Cumulative: cumulative,
		})
		return true
	})
	return out
}
