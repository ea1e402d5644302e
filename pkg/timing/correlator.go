// Package timing maps logical timestamps onto DA-chain block numbers.
package timing

import (
	"context"
	"fmt"

	"github.com/mosaicgames/chainfunnel/pkg/chain"
)

// HeaderSource resolves finalized DA headers by block number.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number uint64) (chain.DAHeader, error)
}

// FirstBlockAfter returns the smallest DA block number whose logical time
// strictly exceeds target, binary-searching [1, finalizedHeight+1]. When no
// finalized header exceeds target it returns finalizedHeight+1, meaning
// "nothing yet". Ties resolve to the first block past the matching run, so
// repeated timestamps never shift the result.
func FirstBlockAfter(ctx context.Context, src HeaderSource, finalizedHeight uint64, target int64) (uint64, error) {
	low, high := uint64(1), finalizedHeight+1
	for low < high {
		mid := low + (high-low)/2
		hdr, err := src.HeaderByNumber(ctx, mid)
		if err != nil {
			return 0, fmt.Errorf("probe header %d: %w", mid, err)
		}
		if hdr.LogicalTime() <= target {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low, nil
}
