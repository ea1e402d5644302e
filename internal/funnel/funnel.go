package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mosaicgames/chainfunnel/internal/state"
	"github.com/mosaicgames/chainfunnel/pkg/chain"
)

// Config tunes the DA funnel's correlation behavior.
type Config struct {
	Network           string
	ConfirmationDepth uint64
	DelaySeconds      int64
	BlockGroupSize    uint64
	PollInterval      time.Duration
}

// DAFunnel composes a base primary-chain funnel with DA-chain correlation:
// every emitted primary block carries the DA data whose logical time falls in
// its window. Construct it with RecoverState.
type DAFunnel struct {
	base   Funnel
	da     DAReader
	data   DataReader
	cursor CursorStore
	cfg    Config
	st     *state.CorrelationState
}

// RecoverState constructs (or reuses, via the state store) the correlation
// state for the configured network, performs one head refresh, and returns a
// ready facade. Re-invocation within a process reuses the cached state
// instead of re-bootstrapping. A bootstrap failure aborts construction;
// there is no degraded mode.
func RecoverState(
	ctx context.Context,
	store *state.Store,
	base Funnel,
	primary state.PrimarySource,
	da DAReader,
	data DataReader,
	cursor CursorStore,
	cfg Config,
	boot state.BootstrapConfig,
) (*DAFunnel, error) {
	if cfg.BlockGroupSize == 0 {
		cfg.BlockGroupSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	st, err := store.GetOrInit(ctx, cfg.Network, primary, da, boot)
	if err != nil {
		return nil, fmt.Errorf("recover state: %w", err)
	}

	f := &DAFunnel{
		base:   base,
		da:     da,
		data:   data,
		cursor: cursor,
		cfg:    cfg,
		st:     st,
	}
	if err := f.refreshHead(ctx); err != nil {
		return nil, fmt.Errorf("recover state: %w", err)
	}
	return f, nil
}

// ReadPresyncData delegates to the base funnel for other networks and serves
// the DA network's own historical backlog: the requested range clamped to
// [0, DAStartBlock-1]. Once the lower bound reaches DAStartBlock the finished
// marker is returned without querying, and presync is never re-entered.
func (f *DAFunnel) ReadPresyncData(ctx context.Context, ranges map[string]BlockRange) (map[string]PresyncResult, error) {
	baseRanges := make(map[string]BlockRange, len(ranges))
	for network, r := range ranges {
		if network != f.cfg.Network {
			baseRanges[network] = r
		}
	}

	out, err := f.base.ReadPresyncData(ctx, baseRanges)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]PresyncResult)
	}

	r, ok := ranges[f.cfg.Network]
	if !ok {
		return out, nil
	}

	if f.st.PresyncFinished || r.From >= f.st.DAStartBlock || f.st.DAStartBlock == 0 {
		f.st.PresyncFinished = true
		out[f.cfg.Network] = PresyncResult{Finished: true}
		return out, nil
	}

	to := r.To
	if to >= f.st.DAStartBlock {
		to = f.st.DAStartBlock - 1
	}

	submitted, err := f.data.FetchSubmittedData(ctx, f.cfg.Network, r.From, to)
	if err != nil {
		slog.Error("presync fetch failed", "network", f.cfg.Network, "from", r.From, "to", to, "err", err)
		return nil, err
	}

	items := make([]chain.PresyncChainData, 0, len(submitted))
	for _, s := range submitted {
		items = append(items, chain.PresyncChainData{
			Network:     f.cfg.Network,
			BlockNumber: s.BlockNumber,
			Datums:      s.Datums,
		})
	}

	slog.Info("presync range read",
		"network", f.cfg.Network,
		"from", r.From,
		"to", to,
		"blocks_with_data", len(items),
	)
	out[f.cfg.Network] = PresyncResult{Data: items}
	return out, nil
}

// Status is a point-in-time snapshot of funnel progress for the status API.
type Status struct {
	Network          string `json:"network"`
	Phase            string `json:"phase"`
	BufferedBlocks   int    `json:"bufferedBlocks"`
	LastDABlock      int64  `json:"lastDaBlock"`
	LatestHeadNumber uint64 `json:"latestHeadNumber"`
	LatestHeadTime   int64  `json:"latestHeadTime"`
}

// Status reports current correlation progress.
func (f *DAFunnel) Status() Status {
	phase := "presync"
	if f.st.PresyncFinished {
		phase = "sync"
	}
	return Status{
		Network:          f.cfg.Network,
		Phase:            phase,
		BufferedBlocks:   len(f.st.Buffered),
		LastDABlock:      f.st.LastBlock,
		LatestHeadNumber: f.st.LatestHead.Number,
		LatestHeadTime:   f.st.LatestHead.LogicalTime(),
	}
}
