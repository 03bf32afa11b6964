package codec

// Config controls the size caps and compression defaults of a Codec.
type Config struct {
	// MessageSizeLimit rejects any inbound text message larger than this
	// many bytes before attempting to parse it.
	MessageSizeLimit int64
	// MaxMessageBytes rejects encoding any single frame (or batch) whose
	// uncompressed serialized size exceeds this, before compression runs.
	MaxMessageBytes int64
	// MaxBatchSize bounds the number of frames accepted/produced in a
	// single batch. Zero means DefaultMaxBatchSize.
	MaxBatchSize int
	// CompressionThreshold is the minimum uncompressed payload size (in
	// bytes) at which AlgorithmFor selects DefaultAlgorithm. The encoders
	// and the router do not compress outbound frames on their own.
	CompressionThreshold int64
	// DefaultAlgorithm is used when a call doesn't specify a per-call
	// override.
	DefaultAlgorithm Algorithm
}

func DefaultConfig() Config {
	return Config{
		MessageSizeLimit:     4 << 20, // 4 MiB
		MaxMessageBytes:      4 << 20,
		MaxBatchSize:         DefaultMaxBatchSize,
		CompressionThreshold: 8 << 10, // 8 KiB
		DefaultAlgorithm:     Gzip,
	}
}

// Codec encodes/decodes the wire format. It holds no per-connection
// state; a single Codec is shared read-only across every connection's
// pipeline.
type Codec struct {
	messageSizeLimit int64
	maxMessageBytes  int64
	maxBatchSize     int
	compressAt       int64
	defaultAlgorithm Algorithm
}

func New(cfg Config) *Codec {
	return &Codec{
		messageSizeLimit: cfg.MessageSizeLimit,
		maxMessageBytes:  cfg.MaxMessageBytes,
		maxBatchSize:     cfg.MaxBatchSize,
		compressAt:       cfg.CompressionThreshold,
		defaultAlgorithm: cfg.DefaultAlgorithm,
	}
}

// MessageSizeLimit reports the configured inbound size cap.
func (c *Codec) MessageSizeLimit() int64 { return c.messageSizeLimit }

// IsWithinSizeLimit reports whether n bytes would be accepted as an
// inbound text message.
func (c *Codec) IsWithinSizeLimit(n int64) bool {
	return c.messageSizeLimit <= 0 || n <= c.messageSizeLimit
}

// AlgorithmFor picks the compression algorithm for a payload of size n,
// honoring a per-call override when non-empty.
func (c *Codec) AlgorithmFor(n int64, override Algorithm) Algorithm {
	if override != "" {
		return override
	}
	if n < c.compressAt {
		return None
	}
	return c.defaultAlgorithm
}
