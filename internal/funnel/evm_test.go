package funnel

import (
	"context"
	"fmt"
	"testing"

	"github.com/mosaicgames/chainfunnel/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	head   uint64
	blocks map[uint64]rpc.PrimaryBlock
	events []rpc.RawEvent
}

func (f *fakeReader) LatestHeight(_ context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeReader) GetBlock(_ context.Context, number uint64) (rpc.PrimaryBlock, error) {
	blk, ok := f.blocks[number]
	if !ok {
		return rpc.PrimaryBlock{}, fmt.Errorf("no block %d", number)
	}
	return blk, nil
}

func (f *fakeReader) GetPastEvents(_ context.Context, from, to uint64) ([]rpc.RawEvent, error) {
	var out []rpc.RawEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestBaseFunnelGroupsEventsByBlock(t *testing.T) {
	reader := &fakeReader{
		head: 12,
		blocks: map[uint64]rpc.PrimaryBlock{
			10: {Number: 10, Hash: "0xa", Timestamp: 100},
			11: {Number: 11, Hash: "0xb", Timestamp: 120},
			12: {Number: 12, Hash: "0xc", Timestamp: 140},
		},
		events: []rpc.RawEvent{
			{BlockNumber: 11, Topics: []string{"0xdead"}, TxHash: "0x1", LogIndex: 0, Data: "aa"},
			{BlockNumber: 11, Topics: []string{"0xbeef"}, TxHash: "0x2", LogIndex: 1, Data: "bb"},
		},
	}

	f := NewBaseFunnel(reader, "evm", 100)

	blocks, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Empty(t, blocks[0].SubmittedData)
	require.Len(t, blocks[1].SubmittedData, 2)
	assert.Equal(t, "0xdead", blocks[1].SubmittedData[0].Name)
	assert.Equal(t, "0xbeef", blocks[1].SubmittedData[1].Name)
	assert.Empty(t, blocks[2].SubmittedData)

	assert.Equal(t, int64(120), blocks[1].Timestamp)
	assert.Equal(t, "0xb", blocks[1].BlockHash)
}

func TestBaseFunnelBoundsByGroupSize(t *testing.T) {
	blocks := make(map[uint64]rpc.PrimaryBlock)
	for n := uint64(10); n <= 20; n++ {
		blocks[n] = rpc.PrimaryBlock{Number: n, Timestamp: int64(n) * 10}
	}
	reader := &fakeReader{head: 20, blocks: blocks}

	f := NewBaseFunnel(reader, "evm", 2)

	got, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(10), got[0].BlockNumber)
	assert.Equal(t, uint64(11), got[1].BlockNumber)
}

func TestBaseFunnelEmptyWhenHeadBehind(t *testing.T) {
	reader := &fakeReader{head: 5}
	f := NewBaseFunnel(reader, "evm", 100)

	got, err := f.ReadData(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBaseFunnelPresyncAlwaysFinished(t *testing.T) {
	f := NewBaseFunnel(&fakeReader{}, "evm", 100)

	res, err := f.ReadPresyncData(context.Background(), map[string]BlockRange{
		"evm": {From: 0, To: 100},
	})
	require.NoError(t, err)
	assert.True(t, res["evm"].Finished)
}
