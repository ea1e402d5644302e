package funnel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mosaicgames/chainfunnel/pkg/chain"
	"github.com/mosaicgames/chainfunnel/pkg/rpc"
)

// PrimaryReader is the primary-chain block source.
type PrimaryReader interface {
	LatestHeight(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (rpc.PrimaryBlock, error)
	GetPastEvents(ctx context.Context, from, to uint64) ([]rpc.RawEvent, error)
}

// BaseFunnel reads the primary EVM chain: block headers plus their event logs,
// in bounded groups. It has no presync backlog of its own.
type BaseFunnel struct {
	reader    PrimaryReader
	network   string
	groupSize uint64
}

// NewBaseFunnel creates a primary-chain funnel.
func NewBaseFunnel(reader PrimaryReader, network string, groupSize uint64) *BaseFunnel {
	if groupSize == 0 {
		groupSize = 100
	}
	return &BaseFunnel{reader: reader, network: network, groupSize: groupSize}
}

// ReadData fetches up to groupSize primary blocks starting at atHeight,
// bounded by the chain head. Returns an empty batch when the chain has not
// reached atHeight yet.
func (f *BaseFunnel) ReadData(ctx context.Context, atHeight uint64) ([]chain.ChainData, error) {
	head, err := f.reader.LatestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("primary head: %w", err)
	}
	if head < atHeight {
		return nil, nil
	}

	to := atHeight + f.groupSize - 1
	if to > head {
		to = head
	}

	rawEvents, err := f.reader.GetPastEvents(ctx, atHeight, to)
	if err != nil {
		return nil, fmt.Errorf("primary events [%d, %d]: %w", atHeight, to, err)
	}

	eventsByBlock := make(map[uint64][]chain.Event)
	for _, ev := range rawEvents {
		name := ""
		if len(ev.Topics) > 0 {
			name = ev.Topics[0]
		}
		eventsByBlock[ev.BlockNumber] = append(eventsByBlock[ev.BlockNumber], chain.Event{
			Name:        name,
			Address:     ev.Address,
			TxHash:      ev.TxHash,
			LogIndex:    ev.LogIndex,
			BlockNumber: ev.BlockNumber,
			Data:        []byte(ev.Data),
		})
	}

	blocks := make([]chain.ChainData, 0, to-atHeight+1)
	for n := atHeight; n <= to; n++ {
		blk, err := f.reader.GetBlock(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("primary block %d: %w", n, err)
		}
		blocks = append(blocks, chain.ChainData{
			Timestamp:     blk.Timestamp,
			BlockHash:     blk.Hash,
			BlockNumber:   blk.Number,
			SubmittedData: eventsByBlock[n],
		})
	}

	slog.Debug("primary blocks read", "from", atHeight, "to", to, "count", len(blocks))
	return blocks, nil
}

// ReadPresyncData reports the primary chain's backlog as finished for every
// requested network; historical primary data is handled by its own presync
// pipeline upstream of this funnel.
func (f *BaseFunnel) ReadPresyncData(ctx context.Context, ranges map[string]BlockRange) (map[string]PresyncResult, error) {
	out := make(map[string]PresyncResult, len(ranges))
	for network := range ranges {
		out[network] = PresyncResult{Finished: true}
	}
	return out, nil
}
