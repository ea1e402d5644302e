package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest item type tag for pre-runtime entries in a SCALE-encoded digest log.
const preRuntimeTag = 0x06

// Consensus engine IDs carried in pre-runtime digests.
const (
	engineBabe = "BABE"
	engineAura = "aura"
)

// BABE pre-digest variants.
const (
	babePrimary        = 0x01
	babeSecondaryPlain = 0x02
	babeSecondaryVRF   = 0x03
)

// PreDigest is the decoded pre-runtime consensus digest of a DA header.
// Every variant carries the slot the block was authored in.
type PreDigest interface {
	SlotNumber() uint64
}

// BabePrimaryPreDigest is a BABE primary (VRF-selected) authorship digest.
type BabePrimaryPreDigest struct {
	AuthorityIndex uint32
	Slot           uint64
}

func (d BabePrimaryPreDigest) SlotNumber() uint64 { return d.Slot }

// BabeSecondaryPlainPreDigest is a BABE round-robin fallback digest.
type BabeSecondaryPlainPreDigest struct {
	AuthorityIndex uint32
	Slot           uint64
}

func (d BabeSecondaryPlainPreDigest) SlotNumber() uint64 { return d.Slot }

// BabeSecondaryVRFPreDigest is a BABE fallback digest with VRF output.
type BabeSecondaryVRFPreDigest struct {
	AuthorityIndex uint32
	Slot           uint64
}

func (d BabeSecondaryVRFPreDigest) SlotNumber() uint64 { return d.Slot }

// AuraPreDigest is an AURA slot-claim digest.
type AuraPreDigest struct {
	Slot uint64
}

func (d AuraPreDigest) SlotNumber() uint64 { return d.Slot }

// DecodePreDigest scans a header's digest logs for the first pre-runtime
// entry and decodes it into a known consensus variant. Returns
// ErrMalformedHeader when no pre-runtime entry exists or the entry does not
// match a recognized variant.
func DecodePreDigest(logs []string) (PreDigest, error) {
	for _, log := range logs {
		raw, err := hex.DecodeString(strings.TrimPrefix(log, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: digest log is not hex: %v", ErrMalformedHeader, err)
		}
		if len(raw) < 5 || raw[0] != preRuntimeTag {
			continue
		}
		engine := string(raw[1:5])
		payload, err := decodeCompactBytes(raw[5:])
		if err != nil {
			return nil, fmt.Errorf("%w: pre-runtime payload: %v", ErrMalformedHeader, err)
		}
		return decodeEnginePayload(engine, payload)
	}
	return nil, ErrMalformedHeader
}

func decodeEnginePayload(engine string, payload []byte) (PreDigest, error) {
	switch engine {
	case engineBabe:
		if len(payload) < 13 {
			return nil, fmt.Errorf("%w: BABE pre-digest too short (%d bytes)", ErrMalformedHeader, len(payload))
		}
		authority := binary.LittleEndian.Uint32(payload[1:5])
		slot := binary.LittleEndian.Uint64(payload[5:13])
		switch payload[0] {
		case babePrimary:
			return BabePrimaryPreDigest{AuthorityIndex: authority, Slot: slot}, nil
		case babeSecondaryPlain:
			return BabeSecondaryPlainPreDigest{AuthorityIndex: authority, Slot: slot}, nil
		case babeSecondaryVRF:
			return BabeSecondaryVRFPreDigest{AuthorityIndex: authority, Slot: slot}, nil
		default:
			return nil, fmt.Errorf("%w: unknown BABE pre-digest variant 0x%02x", ErrMalformedHeader, payload[0])
		}
	case engineAura:
		if len(payload) < 8 {
			return nil, fmt.Errorf("%w: AURA pre-digest too short (%d bytes)", ErrMalformedHeader, len(payload))
		}
		return AuraPreDigest{Slot: binary.LittleEndian.Uint64(payload[:8])}, nil
	default:
		return nil, fmt.Errorf("%w: unknown consensus engine %q", ErrMalformedHeader, engine)
	}
}

// decodeCompactBytes strips a SCALE compact-u32 length prefix and returns the
// prefixed bytes. Big-integer mode (mode 3) never appears for digest payload
// lengths and is rejected.
func decodeCompactBytes(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty compact bytes")
	}
	var n, off uint64
	switch raw[0] & 0x03 {
	case 0:
		n, off = uint64(raw[0])>>2, 1
	case 1:
		if len(raw) < 2 {
			return nil, fmt.Errorf("truncated two-byte compact")
		}
		n, off = uint64(binary.LittleEndian.Uint16(raw[:2]))>>2, 2
	case 2:
		if len(raw) < 4 {
			return nil, fmt.Errorf("truncated four-byte compact")
		}
		n, off = uint64(binary.LittleEndian.Uint32(raw[:4]))>>2, 4
	default:
		return nil, fmt.Errorf("big-integer compact length not supported")
	}
	if uint64(len(raw)) < off+n {
		return nil, fmt.Errorf("compact length %d exceeds remaining %d bytes", n, uint64(len(raw))-off)
	}
	return raw[off : off+n], nil
}
