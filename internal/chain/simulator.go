// Package chain simulates the settlement network contracts execute on.
//
// The simulator keeps a tiny proof-of-work chain in memory: every processed
// transaction is mined into its own block at a fixed low difficulty, and the
// receipt carries the block position and a gas figure drawn from the
// configured range. It exists so the contract executor has a real collaborator
// with real latency and failure modes, without any network dependency.
package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const (
	// miningDifficulty is the number of leading zero hex characters a block
	// hash must have. Two keeps mining around a few hundred hashes.
	miningDifficulty = 2
	// receiptConfirmations is reported on every mined receipt.
	receiptConfirmations = 12
	// gasScale is the decimal precision of simulated gas figures.
	gasScale = 6
)

// Block is one mined block.
type Block struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	TxHashes     []string  `json:"tx_hashes"`
	PreviousHash string    `json:"previous_hash"`
	Nonce        uint64    `json:"nonce"`
	Hash         string    `json:"hash"`
}

// Receipt reports the outcome of processing one transaction.
type Receipt struct {
	TxHash        string          `json:"tx_hash"`
	BlockNumber   uint64          `json:"block_number"`
	BlockHash     string          `json:"block_hash"`
	GasUsed       decimal.Decimal `json:"gas_used"`
	Confirmations int             `json:"confirmations"`
}

// Config tunes the simulator.
type Config struct {
	// Delay is the simulated network latency per processed transaction.
	Delay time.Duration
	// GasMinETH and GasMaxETH bound the uniform gas draw.
	GasMinETH float64
	GasMaxETH float64
}

// Simulator is an in-memory proof-of-work chain. Safe for concurrent use.
type Simulator struct {
	mu     sync.Mutex
	blocks []Block
	cfg    Config
	rng    *rand.Rand
	logger *slog.Logger
}

// New creates a simulator and mines its genesis block.
func New(cfg Config, logger *slog.Logger) *Simulator {
	s := &Simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: logger.With("component", "chain"),
	}
	genesis := newBlock(0, nil, strings.Repeat("0", 64))
	s.blocks = append(s.blocks, genesis)
	s.logger.Debug("genesis block mined", "hash", genesis.Hash, "nonce", genesis.Nonce)
	return s
}

// Process mines the transaction into a new block and returns its receipt.
// The configured delay runs first and honors ctx cancellation, so a caller
// deadline cuts the simulated network wait, not the bookkeeping.
func (s *Simulator) Process(ctx context.Context, txHash string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if s.cfg.Delay > 0 {
		timer := time.NewTimer(s.cfg.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.blocks[len(s.blocks)-1]
	block := newBlock(prev.Index+1, []string{txHash}, prev.Hash)
	s.blocks = append(s.blocks, block)

	gas := s.cfg.GasMinETH + s.rng.Float64()*(s.cfg.GasMaxETH-s.cfg.GasMinETH)
	receipt := Receipt{
		TxHash:        txHash,
		BlockNumber:   block.Index,
		BlockHash:     block.Hash,
		GasUsed:       decimal.NewFromFloat(gas).Round(gasScale),
		Confirmations: receiptConfirmations,
	}
	s.logger.Debug("transaction mined",
		"tx_hash", txHash,
		"block", block.Index,
		"nonce", block.Nonce,
		"gas_used", receipt.GasUsed,
	)
	return receipt, nil
}

// Height returns the index of the latest block.
func (s *Simulator) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[len(s.blocks)-1].Index
}

// Block returns the block at the given index.
func (s *Simulator) Block(index uint64) (Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= uint64(len(s.blocks)) {
		return Block{}, false
	}
	return s.blocks[index], true
}

// Valid walks the chain and reports whether every block links to its
// predecessor and carries a hash that meets the difficulty target.
func (s *Simulator) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := strings.Repeat("0", miningDifficulty)
	for i, b := range s.blocks {
		if b.Hash != hashBlock(b) || !strings.HasPrefix(b.Hash, target) {
			return false
		}
		if i > 0 && b.PreviousHash != s.blocks[i-1].Hash {
			return false
		}
	}
	return true
}

// newBlock mines a block until its hash meets the difficulty target.
func newBlock(index uint64, txHashes []string, previousHash string) Block {
	b := Block{
		Index:        index,
		Timestamp:    time.Now().UTC(),
		TxHashes:     txHashes,
		PreviousHash: previousHash,
	}
	target := strings.Repeat("0", miningDifficulty)
	b.Hash = hashBlock(b)
	for !strings.HasPrefix(b.Hash, target) {
		b.Nonce++
		b.Hash = hashBlock(b)
	}
	return b
}

func hashBlock(b Block) string {
	payload := fmt.Sprintf("%d|%d|%s|%s|%d",
		b.Index,
		b.Timestamp.UnixNano(),
		strings.Join(b.TxHashes, ","),
		b.PreviousHash,
		b.Nonce,
	)
	return hex.EncodeToString(crypto.Keccak256([]byte(payload)))
}
