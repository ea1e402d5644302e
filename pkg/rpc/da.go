package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mosaicgames/chainfunnel/pkg/chain"
)

// daHeader is the JSON shape of a Substrate-style chain_getHeader result.
type daHeader struct {
	Number string `json:"number"`
	Digest struct {
		Logs []string `json:"logs"`
	} `json:"digest"`
}

// DAClient reads finalized headers from the DA chain's JSON-RPC endpoint and
// derives each header's consensus slot from its pre-runtime digest.
type DAClient struct {
	http *HTTPClient
}

// NewDAClient creates a DA-chain reader on top of an HTTPClient.
func NewDAClient(http *HTTPClient) *DAClient {
	return &DAClient{http: http}
}

// FinalizedHeight returns the block number of the latest finalized header.
func (c *DAClient) FinalizedHeight(ctx context.Context) (uint64, error) {
	var hash string
	if err := c.http.CallRPC(ctx, "chain_getFinalizedHead", nil, &hash); err != nil {
		return 0, err
	}
	hdr, err := c.headerByHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	return hdr.Number, nil
}

// HeaderByNumber fetches the header at the given block number, resolving its
// hash first and decoding the slot from the pre-runtime digest.
func (c *DAClient) HeaderByNumber(ctx context.Context, number uint64) (chain.DAHeader, error) {
	var hash string
	if err := c.http.CallRPC(ctx, "chain_getBlockHash", []any{number}, &hash); err != nil {
		return chain.DAHeader{}, err
	}
	if hash == "" {
		return chain.DAHeader{}, &chain.RPCError{
			Method: "chain_getBlockHash",
			Err:    fmt.Errorf("no hash for block %d", number),
		}
	}
	return c.headerByHash(ctx, hash)
}

// FetchHeaders fetches headers for the inclusive range [from, to], one block
// at a time, in ascending order.
func (c *DAClient) FetchHeaders(ctx context.Context, from, to uint64) ([]chain.DAHeader, error) {
	if to < from {
		return nil, nil
	}
	headers := make([]chain.DAHeader, 0, to-from+1)
	for n := from; n <= to; n++ {
		hdr, err := c.HeaderByNumber(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("fetch header %d: %w", n, err)
		}
		headers = append(headers, hdr)
	}
	slog.Debug("fetched da headers", "from", from, "to", to, "count", len(headers))
	return headers, nil
}

func (c *DAClient) headerByHash(ctx context.Context, hash string) (chain.DAHeader, error) {
	var raw daHeader
	if err := c.http.CallRPC(ctx, "chain_getHeader", []any{hash}, &raw); err != nil {
		return chain.DAHeader{}, err
	}
	number, err := parseHexQuantity(raw.Number)
	if err != nil {
		return chain.DAHeader{}, fmt.Errorf("header %s: parse number %q: %w", hash, raw.Number, err)
	}
	digest, err := chain.DecodePreDigest(raw.Digest.Logs)
	if err != nil {
		return chain.DAHeader{}, fmt.Errorf("header %s: %w", hash, err)
	}
	return chain.DAHeader{
		Number: number,
		Hash:   hash,
		Slot:   digest.SlotNumber(),
	}, nil
}

// parseHexQuantity parses a 0x-prefixed hex integer as used by both chains'
// JSON-RPC encodings.
func parseHexQuantity(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
