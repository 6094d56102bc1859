package logstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/atomix/catalog/pkg/types"
)

// recordHeaderSize is the on-disk framing per §6: entry_length (u32) +
// entry_type_id (u16), followed by the payload.
const recordHeaderSize = 4 + 2

// EncodeEntry serializes an entry as the §6 wire record: a length-
// prefixed, type-tagged payload. The payload itself is JSON, matching
// the encoding/json idiom used throughout this codebase for command
// bodies.
func EncodeEntry(e types.Entry) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("logstore: encode entry: %w", err)
	}
	out := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint16(out[4:6], uint16(e.EntryType()))
	copy(out[recordHeaderSize:], payload)
	return out, nil
}

// DecodeEntry parses a single §6 wire record starting at the beginning of
// b, returning the decoded entry and the number of bytes consumed.
func DecodeEntry(b []byte) (types.Entry, int, error) {
	if len(b) < recordHeaderSize {
		return nil, 0, fmt.Errorf("logstore: short record header")
	}
	length := binary.BigEndian.Uint32(b[0:4])
	typeID := types.EntryType(binary.BigEndian.Uint16(b[4:6]))
	total := recordHeaderSize + int(length)
	if len(b) < total {
		return nil, 0, fmt.Errorf("logstore: short record payload")
	}
	payload := b[recordHeaderSize:total]

	var e types.Entry
	switch typeID {
	case types.EntryNoOp:
		e = &types.NoOpEntry{}
	case types.EntryConfiguration:
		e = &types.ConfigurationEntry{}
	case types.EntryRegister:
		e = &types.RegisterEntry{}
	case types.EntryConnect:
		e = &types.ConnectEntry{}
	case types.EntryKeepAlive:
		e = &types.KeepAliveEntry{}
	case types.EntryUnregister:
		e = &types.UnregisterEntry{}
	case types.EntryCommand:
		e = &types.CommandEntry{}
	case types.EntryHeartbeat:
		e = &types.HeartbeatEntry{}
	default:
		return nil, 0, fmt.Errorf("logstore: unknown entry type id %d", typeID)
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, 0, fmt.Errorf("logstore: decode entry: %w", err)
	}
	return e, total, nil
}
