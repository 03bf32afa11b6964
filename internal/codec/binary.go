package codec

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Binary frame flag bits.
const (
	FlagCompressed uint8 = 1 << 0
	FlagChunked    uint8 = 1 << 1
	FlagFinal      uint8 = 1 << 2
)

const binaryVersion uint8 = 1
const fixedHeaderSize = 22 // version(1) + flags(1) + correlationId(16) + metaLen(4)

// BinaryFrame is the fixed-header opaque-payload format: uploads, media,
// and other byte-oriented call data that doesn't belong in JSON.
type BinaryFrame struct {
	Version       uint8
	Flags         uint8
	CorrelationID uuid.UUID
	Metadata      map[string]any
	Payload       []byte
}

func (f BinaryFrame) Compressed() bool { return f.Flags&FlagCompressed != 0 }
func (f BinaryFrame) Chunked() bool    { return f.Flags&FlagChunked != 0 }
func (f BinaryFrame) Final() bool      { return f.Flags&FlagFinal != 0 }

// EncodeBinary serializes a BinaryFrame to the bit-exact wire layout
// described in SPEC_FULL.md §4.1.
func (c *Codec) EncodeBinary(f BinaryFrame) ([]byte, error) {
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "encode binary metadata")
	}
	if f.Metadata == nil {
		meta = []byte("{}")
	}

	buf := make([]byte, fixedHeaderSize+len(meta)+len(f.Payload))
	buf[0] = binaryVersion
	buf[1] = f.Flags
	copy(buf[2:18], f.CorrelationID[:])
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(meta)))
	copy(buf[22:22+len(meta)], meta)
	copy(buf[22+len(meta):], f.Payload)
	return buf, nil
}

// DecodeBinary parses the fixed-header binary format, failing with a
// distinct error for each of: short buffer, unsupported version, and
// metadata length exceeding the remaining buffer.
func (c *Codec) DecodeBinary(b []byte) (BinaryFrame, error) {
	if len(b) < fixedHeaderSize {
		return BinaryFrame{}, errors.Newf("binary frame shorter than fixed header (%d < %d)", len(b), fixedHeaderSize)
	}
	version := b[0]
	if version != binaryVersion {
		return BinaryFrame{}, errors.Newf("unsupported binary frame version %d", version)
	}
	flags := b[1]
	var corrID uuid.UUID
	copy(corrID[:], b[2:18])
	metaLen := binary.BigEndian.Uint32(b[18:22])

	remaining := len(b) - fixedHeaderSize
	if int64(metaLen) > int64(remaining) {
		return BinaryFrame{}, errors.New("metadata truncated")
	}

	metaBytes := b[fixedHeaderSize : fixedHeaderSize+int(metaLen)]
	var meta map[string]any
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return BinaryFrame{}, errors.Wrap(err, "decode binary metadata")
		}
	}
	payload := b[fixedHeaderSize+int(metaLen):]

	return BinaryFrame{
		Version:       version,
		Flags:         flags,
		CorrelationID: corrID,
		Metadata:      meta,
		Payload:       payload,
	}, nil
}
