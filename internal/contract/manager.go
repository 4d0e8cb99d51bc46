// Package contract drives the settlement lifecycle of matched orders.
//
// A contract is created the moment two orders match, with a deterministic
// transaction hash over its economic terms. It then moves pending → active
// (deploy) → completed (execute) or failed, and once settled can be
// verified any number of times through a bounded result cache. The Manager
// owns contract records, the Executor runs settlement against a chain
// backend, and the Verifier answers hash checks and tracks how far below
// the latency baseline verification runs.
package contract

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridtrade/pkg/types"
)

// ConfirmationDepth is reported for every successfully verified contract.
const ConfirmationDepth = 12

var (
	// ErrNotFound is returned for unknown contract IDs.
	ErrNotFound = errors.New("contract not found")
	// ErrNotDeployable is returned when deploying a settled contract.
	ErrNotDeployable = errors.New("contract is not deployable")
	// ErrNotExecutable is returned when executing a contract that is not active.
	ErrNotExecutable = errors.New("contract is not active")
	// ErrTerminalState is returned when failing a contract that already settled.
	ErrTerminalState = errors.New("contract already settled")
)

// CreateParams carries the match terms a new contract is built from.
type CreateParams struct {
	BuyerOrderID   string
	SellerOrderID  string
	Buyer          string
	Seller         string
	Category       types.Category
	Quantity       decimal.Decimal
	ExecutionPrice decimal.Decimal
	// CreatedAt is the match time, assigned by the engine inside its
	// writer section. It is part of the hash input.
	CreatedAt time.Time
}

// TxHash derives the deterministic transaction hash of a contract from its
// economic terms: same parties, category, quantity, price, and creation
// time always produce the same 64 lowercase hex characters.
func TxHash(buyer, seller string, cat types.Category, quantity, price decimal.Decimal, createdAt time.Time) string {
	payload := strings.Join([]string{
		buyer,
		seller,
		string(cat),
		quantity.String(),
		price.String(),
		strconv.FormatInt(createdAt.UnixNano(), 10),
	}, "|")
	return hex.EncodeToString(crypto.Keccak256([]byte(payload)))
}

// Manager holds all contract records. Safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	contracts map[string]*types.Contract
	seq       []string // creation order, for newest-first listing
	logger    *slog.Logger
}

// NewManager creates an empty contract manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		contracts: make(map[string]*types.Contract),
		logger:    logger.With("component", "contracts"),
	}
}

// Create registers a pending contract for a staged match.
func (m *Manager) Create(p CreateParams) types.Contract {
	c := types.Contract{
		ID:             uuid.NewString(),
		BuyerOrderID:   p.BuyerOrderID,
		SellerOrderID:  p.SellerOrderID,
		Buyer:          p.Buyer,
		Seller:         p.Seller,
		Category:       p.Category,
		Quantity:       p.Quantity,
		ExecutionPrice: p.ExecutionPrice,
		TotalValue:     p.Quantity.Mul(p.ExecutionPrice),
		TxHash:         TxHash(p.Buyer, p.Seller, p.Category, p.Quantity, p.ExecutionPrice, p.CreatedAt),
		State:          types.ContractPending,
		Verification:   types.VerificationUnverified,
		CreatedAt:      p.CreatedAt,
		GasUsed:        decimal.Zero,
	}

	m.mu.Lock()
	m.contracts[c.ID] = &c
	m.seq = append(m.seq, c.ID)
	m.mu.Unlock()

	m.logger.Debug("contract created",
		"contract_id", c.ID,
		"tx_hash", c.TxHash,
		"category", c.Category,
		"total_value", c.TotalValue,
	)
	return c
}

// Deploy activates a pending contract. Deploying an already-active contract
// is idempotent and returns the unchanged record, hash included.
func (m *Manager) Deploy(id string) (types.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contracts[id]
	if !ok {
		return types.Contract{}, ErrNotFound
	}
	switch c.State {
	case types.ContractActive:
		return *c, nil
	case types.ContractPending:
	default:
		return *c, ErrNotDeployable
	}

	now := time.Now().UTC()
	c.State = types.ContractActive
	c.DeployedAt = &now
	return *c, nil
}

// Fail settles a non-terminal contract as failed with the given reason.
func (m *Manager) Fail(id, reason string) (types.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contracts[id]
	if !ok {
		return types.Contract{}, ErrNotFound
	}
	if c.State.Terminal() {
		return *c, ErrTerminalState
	}
	c.State = types.ContractFailed
	c.FailureReason = reason
	return *c, nil
}

// markExecuted settles an active contract as completed with its receipt data.
func (m *Manager) markExecuted(id string, duration time.Duration, gasUsed decimal.Decimal, blockNumber uint64) (types.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contracts[id]
	if !ok {
		return types.Contract{}, ErrNotFound
	}
	if c.State != types.ContractActive {
		return *c, ErrNotExecutable
	}

	now := time.Now().UTC()
	c.State = types.ContractCompleted
	c.ExecutedAt = &now
	c.ExecutionDuration = duration
	c.GasUsed = gasUsed
	c.BlockNumber = blockNumber
	return *c, nil
}

// setVerification records the first verification outcome on the contract.
// Later verifications never flip the recorded state.
func (m *Manager) setVerification(id string, verified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contracts[id]
	if !ok || c.Verification != types.VerificationUnverified {
		return
	}
	if verified {
		c.Verification = types.VerificationVerified
	} else {
		c.Verification = types.VerificationFailed
	}
}

// Get returns a copy of the contract.
func (m *Manager) Get(id string) (types.Contract, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[id]
	if !ok {
		return types.Contract{}, false
	}
	return *c, true
}

// ListFilter narrows List results. Limit 0 means no cap.
type ListFilter struct {
	State *types.ContractState
	Limit int
}

// List returns matching contracts newest-first.
func (m *Manager) List(f ListFilter) []types.Contract {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Contract, 0, len(m.seq))
	for i := len(m.seq) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
		c := m.contracts[m.seq[i]]
		if f.State != nil && c.State != *f.State {
			continue
		}
		out = append(out, *c)
	}
	return out
}

// Counts returns the number of contracts per state.
func (m *Manager) Counts() map[types.ContractState]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[types.ContractState]int, 4)
	for _, c := range m.contracts {
		out[c.State]++
	}
	return out
}

// GasSpent sums gas over completed contracts.
func (m *Manager) GasSpent() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, c := range m.contracts {
		if c.State == types.ContractCompleted {
			total = total.Add(c.GasUsed)
		}
	}
	return total
}

// TotalValueCompleted sums the traded value of completed contracts.
func (m *Manager) TotalValueCompleted() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, c := range m.contracts {
		if c.State == types.ContractCompleted {
			total = total.Add(c.TotalValue)
		}
	}
	return total
}
