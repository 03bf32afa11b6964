package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/cockroachdb/errors"
)

// Algorithm selects the payload compression scheme. None is a valid
// choice and short-circuits both Compress and Decompress.
type Algorithm string

const (
	None    Algorithm = "none"
	Gzip    Algorithm = "gzip"
	Deflate Algorithm = "deflate"
)

// Compress compresses b with algorithm a. It applies no threshold of its
// own: it always compresses when asked, and the threshold is applied only
// by a caller that picks a through Codec.AlgorithmFor.
func Compress(b []byte, a Algorithm) ([]byte, error) {
	switch a {
	case None, "":
		return b, nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, errors.Wrap(err, "gzip compress")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "gzip close")
		}
		return buf.Bytes(), nil
	case Deflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, errors.Wrap(err, "deflate writer")
		}
		if _, err := w.Write(b); err != nil {
			return nil, errors.Wrap(err, "deflate compress")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "deflate close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Newf("unsupported compression algorithm %q", a)
	}
}

// Decompress reverses Compress. decompress(compress(b, a), a) == b for
// all a in {gzip, deflate, none}.
func Decompress(b []byte, a Algorithm) ([]byte, error) {
	switch a {
	case None, "":
		return b, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, errors.Wrap(err, "gzip reader")
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "gzip decompress")
		}
		return out, nil
	case Deflate:
		r := flate.NewReader(bytes.NewReader(b))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "deflate decompress")
		}
		return out, nil
	default:
		return nil, errors.Newf("unsupported compression algorithm %q", a)
	}
}
