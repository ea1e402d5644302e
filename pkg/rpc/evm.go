package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// PrimaryBlock is the subset of an EVM block header the funnel consumes.
type PrimaryBlock struct {
	Number    uint64
	Hash      string
	Timestamp int64
}

// evmBlock is the JSON shape of an eth_getBlockByNumber result.
type evmBlock struct {
	Number    string `json:"number"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

// evmLog is the JSON shape of an eth_getLogs entry.
type evmLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
}

// RawEvent is an undecoded primary-chain log. The chain-specific event mapper
// downstream turns these into typed events.
type RawEvent struct {
	Address     string
	Topics      []string
	Data        string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
}

// EVMClient is the primary-chain block source: block headers by number and
// past event logs by range, over plain JSON-RPC.
type EVMClient struct {
	http *HTTPClient
}

// NewEVMClient creates a primary-chain reader on top of an HTTPClient.
func NewEVMClient(http *HTTPClient) *EVMClient {
	return &EVMClient{http: http}
}

// LatestHeight returns the primary chain's current block number.
func (c *EVMClient) LatestHeight(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.http.CallRPC(ctx, "eth_blockNumber", nil, &hex); err != nil {
		return 0, err
	}
	return parseHexQuantity(hex)
}

// GetBlock fetches the block header at the given height.
func (c *EVMClient) GetBlock(ctx context.Context, number uint64) (PrimaryBlock, error) {
	var raw json.RawMessage
	params := []any{fmt.Sprintf("0x%x", number), false}
	if err := c.http.CallRPC(ctx, "eth_getBlockByNumber", params, &raw); err != nil {
		return PrimaryBlock{}, err
	}
	if string(raw) == "null" {
		return PrimaryBlock{}, fmt.Errorf("block %d not found", number)
	}
	var blk evmBlock
	if err := json.Unmarshal(raw, &blk); err != nil {
		return PrimaryBlock{}, fmt.Errorf("decode block %d: %w", number, err)
	}
	n, err := parseHexQuantity(blk.Number)
	if err != nil {
		return PrimaryBlock{}, fmt.Errorf("block %d: parse number: %w", number, err)
	}
	ts, err := parseHexQuantity(blk.Timestamp)
	if err != nil {
		return PrimaryBlock{}, fmt.Errorf("block %d: parse timestamp: %w", number, err)
	}
	return PrimaryBlock{Number: n, Hash: blk.Hash, Timestamp: int64(ts)}, nil
}

// GetPastEvents fetches logs for the inclusive block range [from, to].
func (c *EVMClient) GetPastEvents(ctx context.Context, from, to uint64) ([]RawEvent, error) {
	filter := map[string]string{
		"fromBlock": fmt.Sprintf("0x%x", from),
		"toBlock":   fmt.Sprintf("0x%x", to),
	}
	var raw []evmLog
	if err := c.http.CallRPC(ctx, "eth_getLogs", []any{filter}, &raw); err != nil {
		return nil, err
	}

	events := make([]RawEvent, 0, len(raw))
	for _, l := range raw {
		bn, err := parseHexQuantity(l.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("log %s: parse block number: %w", l.TxHash, err)
		}
		idx, err := parseHexQuantity(l.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("log %s: parse log index: %w", l.TxHash, err)
		}
		events = append(events, RawEvent{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: bn,
			TxHash:      l.TxHash,
			LogIndex:    idx,
		})
	}
	return events, nil
}
