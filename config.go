package dbusclient

import "time"

// Defaults mirror the teacher's DefaultConnectionReadSize-style named
// constants (§5, §6.2), scaled up for the richer connection lifecycle.
const (
	DefaultConnectReadBufferSize = 4096
	DefaultStringInternSize      = 4096

	DefaultMethodCallTimeout = 25 * time.Second
	DefaultConnectTimeout    = 10 * time.Second

	DefaultHealthCheckInterval  = 30 * time.Second
	DefaultHealthCheckGraceHits = 2

	DefaultReconnectInitialDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultMaxReconnectAttempts  = 0 // 0 means unlimited
)

// BackpressurePolicy chooses what happens when the application executor
// falls behind the I/O executor (§5 "Suspension points").
type BackpressurePolicy int

const (
	// BackpressureUnbounded queues every inbound message; the default.
	BackpressureUnbounded BackpressurePolicy = iota
	// BackpressureDropOldest discards the oldest queued message to make
	// room for a new one once the queue reaches the limit given to
	// WithBackpressurePolicy.
	BackpressureDropOldest
	// BackpressureBlockWriter stalls the I/O executor once the queue
	// reaches the limit given to WithBackpressurePolicy, until a worker
	// drains it.
	BackpressureBlockWriter
)

// Config configures a Connection (§4.7, §5), built with the teacher's
// functional-options pattern (config.go) generalized from two fields to
// the full connection lifecycle.
type Config struct {
	connReadBufferSize int
	strInternSize      int

	mechanisms      []Mechanism
	negotiateUnixFD bool

	connectTimeout    time.Duration
	methodCallTimeout time.Duration

	appExecutorWorkers int
	backpressurePolicy BackpressurePolicy
	queueLimit         int

	healthCheckInterval  time.Duration
	healthCheckGraceHits int

	reconnectInitialDelay time.Duration
	reconnectMaxDelay     time.Duration
	maxReconnectAttempts  int

	logger Logger
}

// Option sets up a Config, in the teacher's style (config.go).
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		connReadBufferSize:    DefaultConnectReadBufferSize,
		strInternSize:         DefaultStringInternSize,
		mechanisms:            []Mechanism{NewExternalMechanism(), NewCookieSHA1Mechanism(), AnonymousMechanism{}},
		connectTimeout:        DefaultConnectTimeout,
		methodCallTimeout:     DefaultMethodCallTimeout,
		appExecutorWorkers:    0, // resolved to max(1, NumCPU/2) in connection.go
		backpressurePolicy:    BackpressureUnbounded,
		healthCheckInterval:   0, // disabled by default
		healthCheckGraceHits:  DefaultHealthCheckGraceHits,
		reconnectInitialDelay: DefaultReconnectInitialDelay,
		reconnectMaxDelay:     DefaultReconnectMaxDelay,
		maxReconnectAttempts:  DefaultMaxReconnectAttempts,
		logger:                nopLogger{},
	}
}

// WithConnectionReadBufferSize sets the bufio.Reader size used on the
// transport, as the teacher's WithConnectionReadSize does for its single
// blocking client.
func WithConnectionReadBufferSize(size int) Option {
	return func(c *Config) { c.connReadBufferSize = size }
}

// WithStringInternSize sets the buffer size of the string interner
// (internal/stringintern), the teacher's WithStringConverterSize carried
// forward.
func WithStringInternSize(size int) Option {
	return func(c *Config) { c.strInternSize = size }
}

// WithMechanisms overrides the SASL mechanisms tried, in order, during
// authentication. The default tries EXTERNAL, then DBUS_COOKIE_SHA1,
// then ANONYMOUS.
func WithMechanisms(mechs ...Mechanism) Option {
	return func(c *Config) { c.mechanisms = mechs }
}

// WithNegotiateUnixFD requests UNIX_FDS support during SASL (§9).
func WithNegotiateUnixFD(enable bool) Option {
	return func(c *Config) { c.negotiateUnixFD = enable }
}

// WithConnectTimeout bounds transport-open + SASL + Hello (§4.4).
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.connectTimeout = d }
}

// WithMethodCallTimeout sets the default per-call timeout (§5
// "Timeouts"); WithCallTimeout overrides it per message.
func WithMethodCallTimeout(d time.Duration) Option {
	return func(c *Config) { c.methodCallTimeout = d }
}

// WithApplicationExecutorWorkers sizes the application worker pool
// (§4.6 "Bridge semantics"). 0 selects max(1, NumCPU/2).
func WithApplicationExecutorWorkers(n int) Option {
	return func(c *Config) { c.appExecutorWorkers = n }
}

// WithBackpressurePolicy selects how the inbound queue behaves once it
// reaches limit (§5 "Suspension points"); limit is ignored for
// BackpressureUnbounded.
func WithBackpressurePolicy(policy BackpressurePolicy, limit int) Option {
	return func(c *Config) {
		c.backpressurePolicy = policy
		c.queueLimit = limit
	}
}

// WithHealthCheck enables the periodic Peer.Ping probe (§4.7 "Health
// probe"). graceHits is how many consecutive failures are tolerated
// before reconnecting.
func WithHealthCheck(interval time.Duration, graceHits int) Option {
	return func(c *Config) {
		c.healthCheckInterval = interval
		c.healthCheckGraceHits = graceHits
	}
}

// WithReconnectPolicy configures the exponential backoff used by
// auto-reconnect (§4.7). maxAttempts of 0 means unlimited.
func WithReconnectPolicy(initialDelay, maxDelay time.Duration, maxAttempts int) Option {
	return func(c *Config) {
		c.reconnectInitialDelay = initialDelay
		c.reconnectMaxDelay = maxDelay
		c.maxReconnectAttempts = maxAttempts
	}
}

// WithLogger sets the structured logger used for connection lifecycle
// events. The zero value discards everything.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l == nil {
			l = nopLogger{}
		}
		c.logger = l
	}
}
