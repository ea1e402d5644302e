// Package state holds per-network cross-chain correlation state. The store is
// an explicit object constructed once per sync process and threaded through
// the funnel; it is not safe for concurrent use and is only ever touched by
// the single synchronization loop.
package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mosaicgames/chainfunnel/pkg/chain"
	"github.com/mosaicgames/chainfunnel/pkg/rpc"
	"github.com/mosaicgames/chainfunnel/pkg/timing"
)

// TimePair maps a DA block's logical time to its block number. The index of
// pairs is kept ascending by time: appended at the tail as headers arrive,
// trimmed from the head as windows are consumed.
type TimePair struct {
	Time  int64
	Block uint64
}

// PrimarySource resolves primary-chain blocks during bootstrap.
type PrimarySource interface {
	GetBlock(ctx context.Context, number uint64) (rpc.PrimaryBlock, error)
}

// DASource resolves DA headers during bootstrap.
type DASource interface {
	timing.HeaderSource
	FinalizedHeight(ctx context.Context) (uint64, error)
}

// CorrelationState tracks correlation progress for one DA network across all
// poll calls of a sync session.
type CorrelationState struct {
	Network string

	// StartingBlockHeight is the primary height where sync begins.
	StartingBlockHeight uint64

	// DAStartBlock is the DA height where presync ends.
	DAStartBlock uint64

	// MappedStartBlock is the first DA block whose logical time exceeds the
	// starting primary block's delayed timestamp, resolved at bootstrap.
	MappedStartBlock uint64

	// LastBlock is the highest DA block fully correlated; -1 until the resume
	// cursor is resolved on first use. It only increases.
	LastBlock int64

	// LastMaxTime is the highest logical-time boundary already correlated.
	LastMaxTime int64

	// Buffered holds primary blocks fetched but not yet correlated, FIFO.
	Buffered []chain.ChainData

	// TimeIndex holds (logical time, DA block) pairs not yet consumed,
	// ascending by time.
	TimeIndex []TimePair

	// LatestHead is the most recent confirmation-delayed finalized DA header.
	LatestHead chain.DAHeader

	// PresyncFinished is set once the presync backlog has been exhausted;
	// presync is never re-entered afterwards.
	PresyncFinished bool
}

// BootstrapConfig carries the values the one-time bootstrap needs.
type BootstrapConfig struct {
	StartingBlockHeight uint64
	DAStartBlock        uint64
	DelaySeconds        int64
}

// Store is the keyed, get-or-create registry of correlation state, one entry
// per DA network, living for the sync process.
type Store struct {
	states map[string]*CorrelationState
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{states: make(map[string]*CorrelationState)}
}

// Get returns the state for a network. Fails with ErrUninitializedState when
// GetOrInit has not run for it; that is an ordering bug in the caller.
func (s *Store) Get(network string) (*CorrelationState, error) {
	st, ok := s.states[network]
	if !ok {
		return nil, fmt.Errorf("%w: network %q", chain.ErrUninitializedState, network)
	}
	return st, nil
}

// GetOrInit returns the existing state for a network or constructs it,
// running the one-time bootstrap: resolve the starting primary block, derive
// its delayed logical time, and binary-search the DA chain for the first
// block past it. A second call for the same network returns the cached state
// untouched.
func (s *Store) GetOrInit(ctx context.Context, network string, primary PrimarySource, da DASource, cfg BootstrapConfig) (*CorrelationState, error) {
	if st, ok := s.states[network]; ok {
		return st, nil
	}

	blk, err := primary.GetBlock(ctx, cfg.StartingBlockHeight)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: starting block %d: %w", network, cfg.StartingBlockHeight, err)
	}

	target := chain.DelayedTimestamp(blk.Timestamp, cfg.DelaySeconds)

	finalized, err := da.FinalizedHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: finalized height: %w", network, err)
	}

	mapped, err := timing.FirstBlockAfter(ctx, da, finalized, target)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: correlate starting block: %w", network, err)
	}

	slog.Info("correlation state bootstrapped",
		"network", network,
		"starting_block_height", cfg.StartingBlockHeight,
		"target_time", target,
		"mapped_da_block", mapped,
	)

	st := &CorrelationState{
		Network:             network,
		StartingBlockHeight: cfg.StartingBlockHeight,
		DAStartBlock:        cfg.DAStartBlock,
		MappedStartBlock:    mapped,
		LastBlock:           -1,
	}
	s.states[network] = st
	return st, nil
}

// AppendPairs appends header-derived pairs at the tail of the time index,
// skipping any at or below the already-consumed boundary.
func (st *CorrelationState) AppendPairs(headers []chain.DAHeader) {
	for _, h := range headers {
		t := h.LogicalTime()
		if t <= st.LastMaxTime {
			continue
		}
		st.TimeIndex = append(st.TimeIndex, TimePair{Time: t, Block: h.Number})
	}
}

// TrimConsumed drops pairs from the head of the time index whose time is at
// or below the consumed boundary. The index is never reordered.
func (st *CorrelationState) TrimConsumed() {
	idx := st.TimeIndex
	for len(idx) > 0 && idx[0].Time <= st.LastMaxTime {
		idx = idx[1:]
	}
	st.TimeIndex = idx
}
