package echoserver

import (
	"time"
)

// options holds the configuration shared by the server and its connections.
type options struct {
	logger Logger

	poolSize     int           // number of pool workers
	pollInterval time.Duration // accept deadline, bounds shutdown latency
	ioTimeout    time.Duration // per-connection read/write deadline
	maxFrameSize int           // maximum payload size of a single frame
}

// Default configuration values.
const (
	// defaultPoolSize is the default number of pool workers.
	defaultPoolSize = 16
	// defaultPollInterval is the default accept poll interval.
	defaultPollInterval = 100 * time.Millisecond
	// defaultIOTimeout is the default per-connection read/write bound.
	defaultIOTimeout = 30 * time.Second
	// defaultMaxFrameSize is the default maximum frame payload size (1MB).
	defaultMaxFrameSize = 1024 * 1024
)

// Option is a function that configures server options.
type Option func(*options)

// PoolSizeOption returns an Option that sets the number of pool workers.
// The pool bounds how many connections are handled concurrently.
func PoolSizeOption(size int) Option {
	return func(o *options) {
		o.poolSize = size
	}
}

// PollIntervalOption returns an Option that sets the accept poll interval.
// The interval bounds how long a stop request can go unobserved by the
// accept loop.
func PollIntervalOption(interval time.Duration) Option {
	return func(o *options) {
		o.pollInterval = interval
	}
}

// IOTimeoutOption returns an Option that sets the per-connection read/write
// deadline, so a stalled peer cannot occupy a worker indefinitely.
func IOTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.ioTimeout = timeout
	}
}

// MaxFrameSizeOption returns an Option that sets the maximum frame payload
// size. Frames declaring a larger length are rejected as malformed.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// checkOptions fills in default values for unset options.
func checkOptions(opts *options) {
	if opts.poolSize <= 0 {
		opts.poolSize = defaultPoolSize
	}

	if opts.pollInterval <= 0 {
		opts.pollInterval = defaultPollInterval
	}

	if opts.ioTimeout <= 0 {
		opts.ioTimeout = defaultIOTimeout
	}

	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}
