// Package funnel turns two chains' block streams into a single ordered stream
// of per-block application data. The base funnel reads the primary EVM chain;
// the DA funnel wraps it and splices in timestamp-correlated DA-chain data.
package funnel

import (
	"context"

	"github.com/mosaicgames/chainfunnel/pkg/chain"
)

// BlockRange is an inclusive block-number range in a network's own numbering.
type BlockRange struct {
	From uint64
	To   uint64
}

// PresyncResult is either a batch of historical data or the finished marker
// for one network's presync backlog.
type PresyncResult struct {
	Finished bool
	Data     []chain.PresyncChainData
}

// Funnel is the two-phase read API the sync loop consumes. Implementations
// are not safe for concurrent calls; the caller serializes access.
type Funnel interface {
	// ReadData returns correlated block data starting at the given primary
	// height. Safe to call repeatedly with increasing heights; blocks are
	// emitted at most once.
	ReadData(ctx context.Context, atHeight uint64) ([]chain.ChainData, error)

	// ReadPresyncData serves each requested network's historical backlog,
	// or the finished marker once it is exhausted.
	ReadPresyncData(ctx context.Context, ranges map[string]BlockRange) (map[string]PresyncResult, error)
}

// DAReader fetches finalized headers from the DA chain.
type DAReader interface {
	FinalizedHeight(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number uint64) (chain.DAHeader, error)
	FetchHeaders(ctx context.Context, from, to uint64) ([]chain.DAHeader, error)
}

// DataReader fetches per-block submitted data from the DA light client.
type DataReader interface {
	FetchSubmittedData(ctx context.Context, network string, from, to uint64) ([]chain.SubmittedData, error)
}

// CursorStore is the durable cursor consultation used to pick a resume point.
// Reads only; progress recording happens in the sync loop, outside the
// correlation engine.
type CursorStore interface {
	LatestProcessedHeight(ctx context.Context, network string) (uint64, bool, error)
}
