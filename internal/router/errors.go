package router

import "github.com/cockroachdb/errors"

var (
	// ErrBackpressure is returned by Connection.Enqueue when writing would
	// exceed MAX_BUFFERED_BYTES. The frame is dropped and the connection
	// stays open: connectionSink.Emit discards the error, and Hub.Deliver
	// hands it to the subscription manager, which drops that event.
	ErrBackpressure = errors.New("connection buffer exceeds MAX_BUFFERED_BYTES")

	errConnectionGone = errors.New("connection no longer registered")
)
