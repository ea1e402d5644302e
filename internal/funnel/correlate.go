package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mosaicgames/chainfunnel/internal/state"
	"github.com/mosaicgames/chainfunnel/pkg/chain"
)

// ReadData runs one correlation round: pull primary blocks (or reuse the
// carry-over buffer), hold back any block the DA chain has not caught up to,
// extend the timestamp index far enough to cover the rest, and splice the
// matching DA data onto each block before returning it. Returned blocks are
// removed from the buffer and never re-emitted.
func (f *DAFunnel) ReadData(ctx context.Context, atHeight uint64) ([]chain.ChainData, error) {
	st := f.st

	if len(st.Buffered) == 0 {
		blocks, err := f.base.ReadData(ctx, atHeight)
		if err != nil {
			slog.Error("base funnel read failed", "at_height", atHeight, "err", err)
			return nil, err
		}
		if len(blocks) == 0 {
			return nil, nil
		}
		st.Buffered = append(st.Buffered, blocks...)
	}

	if err := f.refreshHead(ctx); err != nil {
		slog.Error("da head refresh failed", "network", f.cfg.Network, "err", err)
		return nil, err
	}

	// Hold back primary blocks the DA chain cannot corroborate yet. Primary
	// timestamps are monotonic, so the ready blocks form a prefix.
	headTime := st.LatestHead.LogicalTime()
	n := 0
	for n < len(st.Buffered) && f.delayed(st.Buffered[n].Timestamp) <= headTime {
		n++
	}
	if n == 0 {
		slog.Debug("da chain behind primary buffer",
			"network", f.cfg.Network,
			"head_time", headTime,
			"oldest_buffered_time", f.delayed(st.Buffered[0].Timestamp),
		)
		return nil, nil
	}
	ready := st.Buffered[:n:n]
	st.Buffered = st.Buffered[n:]

	if st.LastBlock < 0 {
		if err := f.resolveResumePoint(ctx); err != nil {
			return nil, err
		}
	}

	maxDelayed := f.delayed(ready[len(ready)-1].Timestamp)

	if err := f.extendTimeIndex(ctx, maxDelayed); err != nil {
		return nil, err
	}

	st.TrimConsumed()

	merged, err := f.spliceWindow(ctx, ready, maxDelayed)
	if err != nil {
		slog.Error("da splice failed", "network", f.cfg.Network, "err", err)
		return nil, err
	}
	return merged, nil
}

func (f *DAFunnel) delayed(ts int64) int64 {
	return chain.DelayedTimestamp(ts, f.cfg.DelaySeconds)
}

// refreshHead re-reads the DA chain's finalized head, lagged by the
// configured confirmation depth (floored at block 1).
func (f *DAFunnel) refreshHead(ctx context.Context) error {
	finalized, err := f.da.FinalizedHeight(ctx)
	if err != nil {
		return err
	}
	confirmed := uint64(1)
	if finalized > f.cfg.ConfirmationDepth {
		confirmed = finalized - f.cfg.ConfirmationDepth
	}
	hdr, err := f.da.HeaderByNumber(ctx, confirmed)
	if err != nil {
		return err
	}
	f.st.LatestHead = hdr
	return nil
}

// resolveResumePoint picks the DA cursor on first use: a durably persisted
// highest-correlated height when one is recorded at or past the bootstrap
// mapping, otherwise the bootstrap mapping itself.
func (f *DAFunnel) resolveResumePoint(ctx context.Context) error {
	st := f.st
	st.LastBlock = int64(st.MappedStartBlock) - 1

	persisted, ok, err := f.cursor.LatestProcessedHeight(ctx, f.cfg.Network)
	if err != nil {
		return fmt.Errorf("consult cursor: %w", err)
	}
	if ok && int64(persisted) >= int64(st.MappedStartBlock)-1 {
		st.LastBlock = int64(persisted)
	}

	slog.Info("da resume point resolved",
		"network", f.cfg.Network,
		"last_block", st.LastBlock,
		"bootstrap_mapping", st.MappedStartBlock,
		"persisted", persisted,
		"persisted_used", ok && int64(persisted) >= int64(st.MappedStartBlock)-1,
	)
	return nil
}

// extendTimeIndex fetches DA headers in bounded chunks from LastBlock+1 until
// the index covers maxDelayed. Reaching the confirmed tip before that blocks
// on a cancellable poll until the tip advances; this is the funnel's only
// wait point.
func (f *DAFunnel) extendTimeIndex(ctx context.Context, maxDelayed int64) error {
	st := f.st
	for {
		if len(st.TimeIndex) > 0 && st.TimeIndex[len(st.TimeIndex)-1].Time >= maxDelayed {
			return nil
		}

		tip := st.LatestHead.Number
		if st.LastBlock >= int64(tip) {
			if err := f.waitForHeadAdvance(ctx, tip); err != nil {
				return err
			}
			continue
		}

		from := uint64(st.LastBlock) + 1
		to := from + f.cfg.BlockGroupSize - 1
		if to > tip {
			to = tip
		}

		headers, err := f.da.FetchHeaders(ctx, from, to)
		if err != nil {
			return fmt.Errorf("extend time index [%d, %d]: %w", from, to, err)
		}
		st.AppendPairs(headers)
		st.LastBlock = int64(to)
	}
}

// waitForHeadAdvance polls the DA finalized head until it moves past prevTip.
// There is no internal timeout; the supervising context bounds the wait.
func (f *DAFunnel) waitForHeadAdvance(ctx context.Context, prevTip uint64) error {
	slog.Info("waiting for da head to advance", "network", f.cfg.Network, "tip", prevTip)
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.refreshHead(ctx); err != nil {
				return err
			}
			if f.st.LatestHead.Number > prevTip {
				return nil
			}
		}
	}
}

// spliceWindow maps each unconsumed DA block in the current logical-time
// window to the first primary block whose delayed timestamp is at least as
// large, fetches the window's submitted data, and merges it in. Blocks with
// no matching DA data are returned unchanged.
func (f *DAFunnel) spliceWindow(ctx context.Context, ready []chain.ChainData, maxDelayed int64) ([]chain.ChainData, error) {
	st := f.st

	consumed := 0
	for _, p := range st.TimeIndex {
		if p.Time > maxDelayed {
			break
		}
		consumed++
	}
	if consumed == 0 {
		st.LastMaxTime = maxDelayed
		return ready, nil
	}

	window := st.TimeIndex[:consumed]
	fromBlock, toBlock := window[0].Block, window[consumed-1].Block
	if toBlock < fromBlock {
		st.LastMaxTime = maxDelayed
		return ready, nil
	}

	blockMap := f.mapWindow(window, ready)

	submitted, err := f.data.FetchSubmittedData(ctx, f.cfg.Network, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch submitted data [%d, %d]: %w", fromBlock, toBlock, err)
	}

	byPrimary := make(map[uint64][]chain.ExtensionDatum)
	for _, s := range submitted {
		primaryNumber, ok := blockMap[s.BlockNumber]
		if !ok {
			continue
		}
		byPrimary[primaryNumber] = chain.ComposeExtensions(byPrimary[primaryNumber], s.Datums)
	}

	merged := chain.ComposeChainData(ready, byPrimary)
	st.LastMaxTime = maxDelayed

	slog.Info("da window spliced",
		"network", f.cfg.Network,
		"da_from", fromBlock,
		"da_to", toBlock,
		"primary_blocks", len(merged),
		"blocks_with_data", len(byPrimary),
	)
	return merged, nil
}

// mapWindow walks the window and the ready blocks in lockstep, assigning each
// DA block to the first primary block whose delayed timestamp is >= the DA
// block's logical time. Both sequences are ascending, so a single pass
// suffices; multiple DA blocks may map to one primary block.
func (f *DAFunnel) mapWindow(window []state.TimePair, ready []chain.ChainData) map[uint64]uint64 {
	blockMap := make(map[uint64]uint64, len(window))
	i := 0
	for _, p := range window {
		for i < len(ready) && f.delayed(ready[i].Timestamp) < p.Time {
			i++
		}
		if i == len(ready) {
			break
		}
		blockMap[p.Block] = ready[i].BlockNumber
	}
	return blockMap
}
