package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mosaicgames/chainfunnel/pkg/chain"
)

// blockDataResponse is the JSON shape of the light client's block data
// endpoint.
type blockDataResponse struct {
	BlockNumber      uint64 `json:"block_number"`
	DataTransactions []struct {
		Data []byte `json:"data"`
	} `json:"data_transactions"`
}

// LightClient queries the DA chain's light-client HTTP endpoint for per-block
// submitted data. A non-200 response means "no data for this block", not an
// error; the funnel never retries or surfaces it.
type LightClient struct {
	baseURL string
	client  *http.Client
}

// NewLightClient creates a light-client data reader for the given base URL.
func NewLightClient(baseURL string, client *http.Client) *LightClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &LightClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// BlockData fetches the submitted data for a single DA block. ok is false
// when the endpoint has no data for the block (non-200, or 200 with zero
// data transactions).
func (c *LightClient) BlockData(ctx context.Context, network string, number uint64) (chain.SubmittedData, bool, error) {
	url := fmt.Sprintf("%s/v2/blocks/%d/data", c.baseURL, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return chain.SubmittedData{}, false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return chain.SubmittedData{}, false, fmt.Errorf("light client %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Blocks with no submitted data are not served by the light client.
		slog.Debug("no da data", "block", number, "status", resp.StatusCode)
		return chain.SubmittedData{}, false, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return chain.SubmittedData{}, false, fmt.Errorf("light client %s: read body: %w", url, err)
	}

	var decoded blockDataResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return chain.SubmittedData{}, false, fmt.Errorf("light client %s: decode: %w", url, err)
	}
	if len(decoded.DataTransactions) == 0 {
		return chain.SubmittedData{}, false, nil
	}

	datums := make([]chain.ExtensionDatum, 0, len(decoded.DataTransactions))
	for _, tx := range decoded.DataTransactions {
		datums = append(datums, chain.ExtensionDatum{
			Network: network,
			Payload: tx.Data,
		})
	}
	return chain.SubmittedData{BlockNumber: decoded.BlockNumber, Datums: datums}, true, nil
}

// FetchSubmittedData fetches submitted data for the inclusive range
// [from, to], skipping blocks that have none. Records are returned in
// ascending block order.
func (c *LightClient) FetchSubmittedData(ctx context.Context, network string, from, to uint64) ([]chain.SubmittedData, error) {
	if to < from {
		return nil, nil
	}
	var out []chain.SubmittedData
	for n := from; n <= to; n++ {
		data, ok, err := c.BlockData(ctx, network, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}
