package chain

// SlotDurationSeconds is the DA chain's fixed slot length. Logical time for a
// DA header is slot * SlotDurationSeconds.
const SlotDurationSeconds = 20

// Event is a decoded primary-chain log entry.
type Event struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	TxHash      string `json:"txHash"`
	LogIndex    uint64 `json:"logIndex"`
	BlockNumber uint64 `json:"blockNumber"`
	Data        []byte `json:"data"`
}

// ExtensionDatum is one unit of DA-chain-sourced data attached to a primary
// block after correlation.
type ExtensionDatum struct {
	Network string `json:"network"`
	Payload []byte `json:"payload"`
}

// SubmittedData is the DA-chain submitted data for a single DA block.
type SubmittedData struct {
	BlockNumber uint64           `json:"blockNumber"`
	Datums      []ExtensionDatum `json:"datums"`
}

// ChainData is one primary-chain block's worth of application input.
// ExtensionDatums is nil until the correlation engine attaches DA data;
// the struct is not mutated after that.
type ChainData struct {
	Timestamp       int64            `json:"timestamp"`
	BlockHash       string           `json:"blockHash"`
	BlockNumber     uint64           `json:"blockNumber"`
	SubmittedData   []Event          `json:"submittedData"`
	ExtensionDatums []ExtensionDatum `json:"extensionDatums,omitempty"`
}

// PresyncChainData is a DA-chain-only record served before the starting
// height is reached. BlockNumber is in DA-chain numbering.
type PresyncChainData struct {
	Network     string           `json:"network"`
	BlockNumber uint64           `json:"blockNumber"`
	Datums      []ExtensionDatum `json:"datums"`
}

// DAHeader is a finalized DA-chain header with its consensus slot.
type DAHeader struct {
	Number uint64
	Hash   string
	Slot   uint64
}

// LogicalTime returns the header's logical timestamp in seconds.
func (h DAHeader) LogicalTime() int64 {
	return int64(h.Slot) * SlotDurationSeconds
}

// DelayedTimestamp subtracts delay seconds from ts, floored at zero.
func DelayedTimestamp(ts, delay int64) int64 {
	if ts <= delay {
		return 0
	}
	return ts - delay
}
