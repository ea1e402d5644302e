package rpc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDataServer serves block data for the given blocks; everything else 404s.
// Payloads are base64-encoded in the JSON body, matching the wire format.
func newDataServer(t *testing.T, payloads map[uint64][]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for number, items := range payloads {
		number, items := number, items
		mux.HandleFunc(fmt.Sprintf("/v2/blocks/%d/data", number), func(w http.ResponseWriter, _ *http.Request) {
			body := fmt.Sprintf(`{"block_number":%d,"data_transactions":[`, number)
			for i, item := range items {
				if i > 0 {
					body += ","
				}
				body += fmt.Sprintf(`{"data":%q}`, item)
			}
			body += "]}"
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		})
	}
	return httptest.NewServer(mux)
}

func TestLightClientBlockData(t *testing.T) {
	// "aGVsbG8=" decodes to "hello".
	srv := newDataServer(t, map[uint64][]string{5: {"aGVsbG8="}})
	defer srv.Close()

	c := NewLightClient(srv.URL, nil)

	data, ok, err := c.BlockData(context.Background(), "da", 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), data.BlockNumber)
	require.Len(t, data.Datums, 1)
	assert.Equal(t, "da", data.Datums[0].Network)
	assert.Equal(t, []byte("hello"), data.Datums[0].Payload)
}

func TestLightClientMissingBlockIsNotAnError(t *testing.T) {
	srv := newDataServer(t, nil)
	defer srv.Close()

	c := NewLightClient(srv.URL, nil)

	_, ok, err := c.BlockData(context.Background(), "da", 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLightClientEmptyTransactionsIsNoData(t *testing.T) {
	srv := newDataServer(t, map[uint64][]string{9: {}})
	defer srv.Close()

	c := NewLightClient(srv.URL, nil)

	_, ok, err := c.BlockData(context.Background(), "da", 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchSubmittedDataSkipsEmptyBlocks(t *testing.T) {
	srv := newDataServer(t, map[uint64][]string{
		4: {"YQ=="}, // "a"
		6: {"Yg=="}, // "b"
	})
	defer srv.Close()

	c := NewLightClient(srv.URL, nil)

	out, err := c.FetchSubmittedData(context.Background(), "da", 3, 7)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(4), out[0].BlockNumber)
	assert.Equal(t, uint64(6), out[1].BlockNumber)
	assert.Equal(t, []byte("a"), out[0].Datums[0].Payload)
	assert.Equal(t, []byte("b"), out[1].Datums[0].Payload)
}

func TestFetchSubmittedDataEmptyRange(t *testing.T) {
	c := NewLightClient("http://unused", nil)

	out, err := c.FetchSubmittedData(context.Background(), "da", 10, 5)
	require.NoError(t, err)
	assert.Nil(t, out)
}
