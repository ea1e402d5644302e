package chain

// ComposeExtensions merges two extension-datum lists, preserving the order of
// each side and placing existing datums first. Merging with an empty side
// returns the other side unchanged.
func ComposeExtensions(existing, incoming []ExtensionDatum) []ExtensionDatum {
	if len(existing) == 0 {
		return incoming
	}
	if len(incoming) == 0 {
		return existing
	}
	out := make([]ExtensionDatum, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	out = append(out, incoming...)
	return out
}

// ComposeChainData attaches DA-chain datums to their matching primary blocks.
// byPrimary keys are primary-chain block numbers. Blocks with no match are
// returned unchanged; matches concatenate onto any datums already present.
func ComposeChainData(blocks []ChainData, byPrimary map[uint64][]ExtensionDatum) []ChainData {
	for i := range blocks {
		if datums, ok := byPrimary[blocks[i].BlockNumber]; ok {
			blocks[i].ExtensionDatums = ComposeExtensions(blocks[i].ExtensionDatums, datums)
		}
	}
	return blocks
}
