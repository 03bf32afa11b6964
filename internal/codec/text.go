package codec

import (
	"bytes"
	stdjson "encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// DefaultMaxBatchSize bounds the number of frames accepted in one batch.
const DefaultMaxBatchSize = 50

// DecodeResult is the outcome of decoding one inbound text message: as
// many valid frames as could be parsed, plus a diagnostic per invalid
// element, and whether the message was a JSON array (batch) on the wire.
type DecodeResult struct {
	Frames  []Frame
	Errors  []Diag
	IsBatch bool
}

// DecodeText parses a single JSON object or a JSON array of 1..N objects.
// It never aborts on a single bad element: each array element is decoded
// independently and a per-index Diag is recorded for ones that fail.
func (c *Codec) DecodeText(b []byte) (DecodeResult, error) {
	if c.messageSizeLimit > 0 && int64(len(b)) > c.messageSizeLimit {
		return DecodeResult{}, errors.New("exceeds size limit")
	}

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return DecodeResult{}, errors.New("empty message")
	}

	if trimmed[0] == '[' {
		var raw []stdjson.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return DecodeResult{}, errors.Wrap(err, "decode batch array")
		}
		if len(raw) == 0 {
			return DecodeResult{}, errors.New("empty batch")
		}
		max := c.maxBatchSize
		if max <= 0 {
			max = DefaultMaxBatchSize
		}
		if len(raw) > max {
			return DecodeResult{}, errors.Newf("batch exceeds max size %d", max)
		}
		res := DecodeResult{IsBatch: true}
		for i, elem := range raw {
			var f Frame
			if err := json.Unmarshal(elem, &f); err != nil {
				res.Errors = append(res.Errors, Diag{Index: i, Reason: "batch[" + strconv.Itoa(i) + "]: " + err.Error()})
				continue
			}
			if err := validateFrame(f); err != nil {
				res.Errors = append(res.Errors, Diag{Index: i, Reason: "batch[" + strconv.Itoa(i) + "]: " + err.Error()})
				continue
			}
			res.Frames = append(res.Frames, f)
		}
		return res, nil
	}

	var f Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return DecodeResult{}, errors.Wrap(err, "decode frame")
	}
	if err := validateFrame(f); err != nil {
		return DecodeResult{Errors: []Diag{{Index: 0, Reason: err.Error()}}}, nil
	}
	return DecodeResult{Frames: []Frame{f}}, nil
}

// EncodeText serializes a single frame as a bare JSON object: the
// single-element-batch optimization the wire format allows.
func (c *Codec) EncodeText(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	if c.maxMessageBytes > 0 && int64(len(b)) > c.maxMessageBytes {
		return nil, errors.Newf("encoded frame exceeds maxMessageBytes (%d > %d)", len(b), c.maxMessageBytes)
	}
	return b, nil
}

// EncodeBatch serializes a batch as a JSON array, unless it contains
// exactly one frame, in which case it is encoded as the bare object per
// the source's single-element-batch optimization (see SPEC_FULL.md §9
// Open Questions: decode accepts both forms regardless).
func (c *Codec) EncodeBatch(frames []Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, errors.New("cannot encode empty batch")
	}
	if len(frames) == 1 {
		return c.EncodeText(frames[0])
	}
	max := c.maxBatchSize
	if max <= 0 {
		max = DefaultMaxBatchSize
	}
	if len(frames) > max {
		return nil, errors.Newf("batch exceeds max size %d", max)
	}
	b, err := json.Marshal(frames)
	if err != nil {
		return nil, errors.Wrap(err, "encode batch")
	}
	if c.maxMessageBytes > 0 && int64(len(b)) > c.maxMessageBytes {
		return nil, errors.Newf("encoded batch exceeds maxMessageBytes (%d > %d)", len(b), c.maxMessageBytes)
	}
	return b, nil
}

func validateFrame(f Frame) error {
	switch f.Type {
	case TypeRequest, TypeResponse, TypeEvent:
		return nil
	default:
		return errors.Newf("invalid_request: unknown frame type %q", f.Type)
	}
}
