package funnel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicgames/chainfunnel/internal/state"
	"github.com/mosaicgames/chainfunnel/pkg/chain"
	"github.com/mosaicgames/chainfunnel/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBase serves pre-canned primary batches keyed by starting height.
type fakeBase struct {
	batches map[uint64][]chain.ChainData
	calls   int
}

func (f *fakeBase) ReadData(_ context.Context, atHeight uint64) ([]chain.ChainData, error) {
	f.calls++
	return f.batches[atHeight], nil
}

func (f *fakeBase) ReadPresyncData(_ context.Context, ranges map[string]BlockRange) (map[string]PresyncResult, error) {
	out := make(map[string]PresyncResult, len(ranges))
	for network := range ranges {
		out[network] = PresyncResult{Finished: true}
	}
	return out, nil
}

// fakePrimary only serves the bootstrap's starting-block lookup.
type fakePrimary struct {
	blocks map[uint64]rpc.PrimaryBlock
}

func (f *fakePrimary) GetBlock(_ context.Context, number uint64) (rpc.PrimaryBlock, error) {
	blk, ok := f.blocks[number]
	if !ok {
		return rpc.PrimaryBlock{}, fmt.Errorf("no block %d", number)
	}
	return blk, nil
}

// fakeDAChain derives every header's slot from its number (slot == number, so
// logical time == number*20) and lets tests advance the finalized tip.
type fakeDAChain struct {
	finalized      uint64
	finalizedAfter uint64 // tip reported once finalizedCalls > advanceAfter
	advanceAfter   int
	finalizedCalls int
	headerFetches  []uint64
}

func (f *fakeDAChain) FinalizedHeight(_ context.Context) (uint64, error) {
	f.finalizedCalls++
	if f.advanceAfter > 0 && f.finalizedCalls > f.advanceAfter {
		return f.finalizedAfter, nil
	}
	return f.finalized, nil
}

func (f *fakeDAChain) HeaderByNumber(_ context.Context, number uint64) (chain.DAHeader, error) {
	f.headerFetches = append(f.headerFetches, number)
	return chain.DAHeader{Number: number, Slot: number}, nil
}

func (f *fakeDAChain) FetchHeaders(ctx context.Context, from, to uint64) ([]chain.DAHeader, error) {
	headers := make([]chain.DAHeader, 0, to-from+1)
	for n := from; n <= to; n++ {
		hdr, err := f.HeaderByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		headers = append(headers, hdr)
	}
	return headers, nil
}

// fakeData records every requested range and serves canned datums per DA
// block.
type fakeData struct {
	data   map[uint64][]chain.ExtensionDatum
	ranges [][2]uint64
}

func (f *fakeData) FetchSubmittedData(_ context.Context, network string, from, to uint64) ([]chain.SubmittedData, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []chain.SubmittedData
	for n := from; n <= to; n++ {
		if datums, ok := f.data[n]; ok {
			out = append(out, chain.SubmittedData{BlockNumber: n, Datums: datums})
		}
	}
	return out, nil
}

type fakeCursor struct {
	height uint64
	ok     bool
}

func (f *fakeCursor) LatestProcessedHeight(_ context.Context, _ string) (uint64, bool, error) {
	return f.height, f.ok, nil
}

func datum(payload string) chain.ExtensionDatum {
	return chain.ExtensionDatum{Network: "da", Payload: []byte(payload)}
}

func primaryBlock(number uint64, ts int64) chain.ChainData {
	return chain.ChainData{
		Timestamp:   ts,
		BlockHash:   fmt.Sprintf("0x%x", number),
		BlockNumber: number,
	}
}

func newTestFunnel(t *testing.T, base Funnel, primary state.PrimarySource, da DAReader, data DataReader, cursor CursorStore, daStart uint64) *DAFunnel {
	t.Helper()
	f, err := RecoverState(context.Background(), state.NewStore(), base, primary, da, data, cursor,
		Config{
			Network:        "da",
			DelaySeconds:   0,
			BlockGroupSize: 100,
			PollInterval:   time.Millisecond,
		},
		state.BootstrapConfig{StartingBlockHeight: 10, DAStartBlock: daStart},
	)
	require.NoError(t, err)
	return f
}

func TestReadDataSplicesWindow(t *testing.T) {
	// Primary blocks 10..12 at timestamps 110,130,150. DA chain at block n
	// has logical time n*20; finalized tip 8 (time 160) covers all three.
	base := &fakeBase{batches: map[uint64][]chain.ChainData{
		10: {primaryBlock(10, 110), primaryBlock(11, 130), primaryBlock(12, 150)},
		13: {primaryBlock(13, 170)},
	}}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 110}}}
	da := &fakeDAChain{finalized: 8}
	data := &fakeData{data: map[uint64][]chain.ExtensionDatum{
		6: {datum("d6")},
		8: {datum("d8")},
	}}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{}, 0)

	blocks, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	// Bootstrap maps the starting block's time (110) to DA block 6 (120).
	// DA block 6 attaches to the first primary block whose timestamp is at
	// least 120, which is block 11.
	assert.Empty(t, blocks[0].ExtensionDatums)
	assert.Equal(t, []chain.ExtensionDatum{datum("d6")}, blocks[1].ExtensionDatums)
	assert.Empty(t, blocks[2].ExtensionDatums, "DA block 7 has no data")

	// Only the resolved window [6, 7] is queried; DA block 8 (time 160)
	// exceeds the round's boundary (150) and stays indexed for later.
	require.Equal(t, [][2]uint64{{6, 7}}, data.ranges)

	// Next round: DA block 8's data lands on primary block 13 without loss.
	da.finalized = 9
	blocks, err = f.ReadData(context.Background(), 13)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, []chain.ExtensionDatum{datum("d8")}, blocks[0].ExtensionDatums)
}

func TestReadDataHoldsBackUncorroboratedBlocks(t *testing.T) {
	// Block 11's timestamp (200) is past the DA head's time (140): it must
	// stay buffered, not be emitted.
	base := &fakeBase{batches: map[uint64][]chain.ChainData{
		10: {primaryBlock(10, 100), primaryBlock(11, 200)},
	}}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 100}}}
	da := &fakeDAChain{finalized: 7}
	data := &fakeData{data: map[uint64][]chain.ExtensionDatum{
		6:  {datum("d6")},
		9:  {datum("d9")},
		10: {datum("d10")},
	}}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{}, 0)

	blocks, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(10), blocks[0].BlockNumber)
	assert.Equal(t, 1, f.Status().BufferedBlocks)
	require.Equal(t, 1, base.calls)

	// DA head advances; the buffered block is now coverable. The base funnel
	// must not be re-consulted while the carry-over buffer is non-empty.
	da.finalized = 11
	blocks, err = f.ReadData(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(11), blocks[0].BlockNumber)
	require.Equal(t, 1, base.calls)

	// DA blocks 6 (120), 9 (180) and 10 (200) all map to block 11 (ts 200);
	// the boundary is inclusive, and datums concatenate in DA block order.
	assert.Equal(t, []chain.ExtensionDatum{datum("d6"), datum("d9"), datum("d10")}, blocks[0].ExtensionDatums)
}

func TestReadDataEmptyWhenDABehind(t *testing.T) {
	base := &fakeBase{batches: map[uint64][]chain.ChainData{
		10: {primaryBlock(10, 500)},
	}}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 500}}}
	da := &fakeDAChain{finalized: 3} // head time 60, far behind
	data := &fakeData{}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{}, 0)

	blocks, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, blocks)
	assert.Equal(t, 1, f.Status().BufferedBlocks)
	assert.Empty(t, data.ranges, "no data fetch when nothing is ready")
}

func TestReadDataResumesFromPersistedCursor(t *testing.T) {
	// A persisted DA height past the bootstrap mapping wins; header fetches
	// start after it.
	base := &fakeBase{batches: map[uint64][]chain.ChainData{
		10: {primaryBlock(10, 150)},
	}}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 150}}}
	da := &fakeDAChain{finalized: 12}
	data := &fakeData{}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{height: 10, ok: true}, 0)
	da.headerFetches = nil // ignore bootstrap's binary-search probes

	_, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)

	require.NotEmpty(t, da.headerFetches)
	for _, n := range da.headerFetches {
		assert.Greater(t, n, uint64(10), "headers at or below the persisted cursor must not be refetched")
	}
}

func TestReadDataWaitsForHeadAdvance(t *testing.T) {
	// The persisted cursor sits at the confirmed tip, so the engine must
	// block on the polling wait until the tip advances past it.
	base := &fakeBase{batches: map[uint64][]chain.ChainData{
		10: {primaryBlock(10, 150)},
	}}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 150}}}
	da := &fakeDAChain{finalized: 8, finalizedAfter: 12, advanceAfter: 3}
	data := &fakeData{}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{height: 8, ok: true}, 0)

	blocks, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Greater(t, da.finalizedCalls, 3, "engine must poll the head until it advances")
}

func TestReadDataWaitIsCancellable(t *testing.T) {
	base := &fakeBase{batches: map[uint64][]chain.ChainData{
		10: {primaryBlock(10, 150)},
	}}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 150}}}
	da := &fakeDAChain{finalized: 8} // never advances
	data := &fakeData{}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{height: 8, ok: true}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.ReadData(ctx, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadPresyncDataClampsRange(t *testing.T) {
	base := &fakeBase{}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 100}}}
	da := &fakeDAChain{finalized: 8}
	data := &fakeData{data: map[uint64][]chain.ExtensionDatum{
		10: {datum("early")},
		60: {datum("late")},
	}}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{}, 50)

	res, err := f.ReadPresyncData(context.Background(), map[string]BlockRange{
		"da":  {From: 0, To: 100},
		"evm": {From: 0, To: 10},
	})
	require.NoError(t, err)

	r := res["da"]
	require.False(t, r.Finished)
	require.Len(t, r.Data, 1, "block 60 is past the presync boundary")
	assert.Equal(t, uint64(10), r.Data[0].BlockNumber)
	assert.Equal(t, "da", r.Data[0].Network)
	require.Equal(t, [][2]uint64{{0, 49}}, data.ranges)

	assert.True(t, res["evm"].Finished, "other networks delegate to the base funnel")
}

func TestReadPresyncDataFinishes(t *testing.T) {
	base := &fakeBase{}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 100}}}
	da := &fakeDAChain{finalized: 8}
	data := &fakeData{}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{}, 50)

	res, err := f.ReadPresyncData(context.Background(), map[string]BlockRange{
		"da": {From: 50, To: 80},
	})
	require.NoError(t, err)
	assert.True(t, res["da"].Finished)
	assert.Empty(t, data.ranges, "finished presync must not query the light client")

	// Presync is never re-entered, even for an earlier range.
	res, err = f.ReadPresyncData(context.Background(), map[string]BlockRange{
		"da": {From: 0, To: 10},
	})
	require.NoError(t, err)
	assert.True(t, res["da"].Finished)
	assert.Empty(t, data.ranges)
}

func TestTimeIndexStaysSorted(t *testing.T) {
	base := &fakeBase{batches: map[uint64][]chain.ChainData{
		10: {primaryBlock(10, 110), primaryBlock(11, 130)},
		12: {primaryBlock(12, 150)},
	}}
	primary := &fakePrimary{blocks: map[uint64]rpc.PrimaryBlock{10: {Number: 10, Timestamp: 110}}}
	da := &fakeDAChain{finalized: 8}
	data := &fakeData{}

	f := newTestFunnel(t, base, primary, da, data, &fakeCursor{}, 0)

	for _, h := range []uint64{10, 12} {
		if h == 12 {
			da.finalized = 10
		}
		_, err := f.ReadData(context.Background(), h)
		require.NoError(t, err)

		idx := f.st.TimeIndex
		for i := 1; i < len(idx); i++ {
			require.Less(t, idx[i-1].Time, idx[i].Time, "time index must stay ascending")
		}
	}
}
