// Package cache stores found salts so a request that was already mined can
// be answered with a single verification call.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/hook-salt-miner/internal/crypto"
	"github.com/screa/hook-salt-miner/pkg/types"
)

// ErrNotFound is returned by Get when no entry exists for the key
var ErrNotFound = errors.New("salt not cached")

// Entry is a previously found salt
type Entry struct {
	OuterSalt common.Hash    `json:"outer_salt"`
	InnerSalt common.Hash    `json:"inner_salt"`
	Address   common.Address `json:"address"`
	Attempts  int            `json:"attempts"`
	FoundAt   time.Time      `json:"found_at"`
}

// NewEntry captures the found fields of r
func NewEntry(r *types.Result) *Entry {
	return &Entry{
		OuterSalt: r.OuterSalt,
		InnerSalt: r.InnerSalt,
		Address:   r.Address,
		Attempts:  r.Attempts,
		FoundAt:   time.Now().UTC(),
	}
}

// Cache maps request keys to found salts
type Cache interface {
	Get(ctx context.Context, key common.Hash) (*Entry, error)
	Put(ctx context.Context, key common.Hash, e *Entry) error
	Close() error
}

// Key identifies every input that influences the salt search. scope names
// the address predictor, since two predictors may disagree on addresses.
func Key(req *types.MiningRequest, scope string) common.Hash {
	var u16 [2]byte
	bits := func(v uint16) []byte {
		binary.BigEndian.PutUint16(u16[:], v)
		return append([]byte(nil), u16[:]...)
	}

	var supply [32]byte
	if req.TotalSupply != nil {
		req.TotalSupply.FillBytes(supply[:])
	}
	var cfgLen [8]byte
	binary.BigEndian.PutUint64(cfgLen[:], uint64(len(req.ConfigData)))

	return common.BytesToHash(crypto.Keccak256(
		req.Factory[:],
		req.Token[:],
		req.User[:],
		req.Deployer[:],
		bits(req.Mask),
		bits(req.RequiredBits),
		[]byte{byte(req.Encoding)},
		supply[:],
		cfgLen[:],
		req.ConfigData,
		[]byte(scope),
	))
}

// Memory is a process-local Cache
type Memory struct {
	mu      sync.RWMutex
	entries map[common.Hash]Entry
}

// NewMemory creates an empty in-memory cache
func NewMemory() *Memory {
	return &Memory{entries: make(map[common.Hash]Entry)}
}

func (m *Memory) Get(_ context.Context, key common.Hash) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *Memory) Put(_ context.Context, key common.Hash, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = *e
	return nil
}

func (m *Memory) Close() error { return nil }
