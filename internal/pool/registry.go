package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/amm"
)

var (
	ErrInvalidRange       = errors.New("invalid range")
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrUnknownPool        = errors.New("unknown pool")
)

// InitializeParams configures a new pool.
type InitializeParams struct {
	ID              amm.PoolID
	RangeLower      int32
	RangeUpper      int32
	TickSpacing     int32
	FeeRate         int64
	PaymentIsToken0 bool
	Asset0          common.Address
	Asset1          common.Address
}

// Registry owns every pool the core manages: one PoolState plus one account
// table per pool ID, nothing else. There is no ambient global state.
type Registry struct {
	mu    sync.RWMutex
	pools map[amm.PoolID]*Pool
}

func NewRegistry() *Registry {
	return &Registry{
		pools: make(map[amm.PoolID]*Pool),
	}
}

// Initialize creates a pool. Range bounds must be ordered, aligned to the
// tick granularity and inside the engine's tick domain. The option notionals
// per unit are derived here, once, from the fixed range.
func (r *Registry) Initialize(p InitializeParams) (*Pool, error) {
	if p.RangeLower >= p.RangeUpper {
		return nil, fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidRange, p.RangeLower, p.RangeUpper)
	}
	if p.RangeLower < amm.MinTick || p.RangeUpper > amm.MaxTick {
		return nil, fmt.Errorf("%w: bounds [%d, %d] outside tick domain", ErrInvalidRange, p.RangeLower, p.RangeUpper)
	}
	if !amm.Aligned(p.RangeLower, p.TickSpacing) || !amm.Aligned(p.RangeUpper, p.TickSpacing) {
		return nil, fmt.Errorf("%w: bounds [%d, %d] not aligned to spacing %d", ErrInvalidRange, p.RangeLower, p.RangeUpper, p.TickSpacing)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[p.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, p.ID)
	}

	per0, per1 := amm.AmountsForLiquidity(p.RangeLower, p.RangeUpper, PositionUnit)

	pl := &Pool{
		State: PoolState{
			ID:               p.ID,
			RangeLower:       p.RangeLower,
			RangeUpper:       p.RangeUpper,
			TickSpacing:      p.TickSpacing,
			FeeRate:          p.FeeRate,
			PaymentIsToken0:  p.PaymentIsToken0,
			Asset0:           p.Asset0,
			Asset1:           p.Asset1,
			NotionalPerUnit0: per0,
			NotionalPerUnit1: per1,
			Manager:          NoManager,
		},
		Accounts: make(map[common.Address]*Account),
	}
	r.pools[p.ID] = pl

	return pl, nil
}

// Get returns the pool for id.
func (r *Registry) Get(id amm.PoolID) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	return p, nil
}

// Replace swaps in a new version of a pool. Used by the engine to commit a
// successfully mutated clone.
func (r *Registry) Replace(id amm.PoolID, p *Pool) {
	r.mu.Lock()
	r.pools[id] = p
	r.mu.Unlock()
}

// IDs returns all registered pool IDs.
func (r *Registry) IDs() []amm.PoolID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]amm.PoolID, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
