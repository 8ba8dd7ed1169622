package dbusclient

import (
	"bufio"
	"context"
	"net"
	"runtime"
	"sync"
	"time"
)

// ConnectionState is the connection manager's state machine (§3.4,
// §4.7).
type ConnectionState int32

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateAcquiringName
	StateConnected
	StateReconnecting
	StateClosed
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateAcquiringName:
		return "AcquiringName"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Connection is C10: it owns the transport lifecycle, the application
// pipeline, the bridge/correlator, reconnection, and health checking
// (§4.7, §6.4). The zero value is not usable; construct with Connect.
type Connection struct {
	addr Address
	cfg  Config

	stateMu sync.Mutex
	state   ConnectionState

	nameMu     sync.RWMutex
	uniqueName string

	connMu sync.Mutex
	conn   net.Conn

	pipeline *Pipeline
	appExec  *workerPool
	bridge   *bridge
	events   *eventBus
	health   *healthChecker
	backoff  *backoff

	closeOnce sync.Once
	closed    chan struct{}

	reconnectMu sync.Mutex // serializes triggerReconnect against concurrent callers
}

// Connect dials addr, authenticates, and performs the Hello handshake
// (§4.7 "Connect"), returning a ready-to-use Connection. A dial failure
// carries CodeTransportIO (CodeUnsupportedTransport for an unknown
// address kind); SASL and Hello failures carry their own codes, e.g.
// CodeAuthRejected.
func Connect(addr Address, opts ...Option) (*Connection, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	workers := cfg.appExecutorWorkers
	if workers <= 0 {
		workers = runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
	}

	c := &Connection{
		addr:    addr,
		cfg:     cfg,
		closed:  make(chan struct{}),
		events:  newEventBus(),
		backoff: newBackoff(cfg.reconnectInitialDelay, cfg.reconnectMaxDelay),
	}
	c.pipeline = newPipeline(c)
	c.appExec = newWorkerPool(workers, cfg.backpressurePolicy, cfg.queueLimit)
	c.bridge = newBridge(c.pipeline, c.appExec, cfg.logger)

	if err := c.connectOnce(); err != nil {
		c.setState(StateFailed)
		return nil, err
	}
	c.setState(StateConnected)
	c.events.fire(ConnectionEventPayload{Event: EventStateChanged, State: StateConnected})

	if cfg.healthCheckInterval > 0 {
		c.health = newHealthChecker(c, cfg.healthCheckInterval, cfg.healthCheckGraceHits)
		go c.health.run()
	}

	return c, nil
}

// connectOnce performs one attempt at transport-open + SASL + Hello
// (§4.7 "Connect", §4.5 stages 1-5), starting the I/O executor goroutine
// on success.
func (c *Connection) connectOnce() error {
	c.setState(StateConnecting)

	conn, err := Dial(c.addr)
	if err != nil {
		return err
	}
	if c.cfg.connectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.connectTimeout))
	}

	reader := bufio.NewReaderSize(conn, c.cfg.connReadBufferSize)
	endian := LittleEndian

	c.setState(StateAuthenticating)
	if _, err := RunSASL(conn, reader, SASLConfig{
		Mechanisms:      c.cfg.mechanisms,
		NegotiateUnixFD: c.cfg.negotiateUnixFD,
	}); err != nil {
		_ = conn.Close()
		return err
	}

	c.setState(StateAcquiringName)
	name, err := Handshake(conn, reader, endian, c.bridge.nextSerial)
	if err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	c.nameMu.Lock()
	c.uniqueName = name
	c.nameMu.Unlock()

	io := newIOPipeline(conn, reader, endian, c.bridge, c.cfg.logger, c.cfg.strInternSize)
	c.bridge.attachTransport(io)
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.backoff.reset()

	go c.runIO(io)
	return nil
}

// runIO drives the I/O executor until the transport fails, then enters
// the reconnect path (§4.5 stage 6, §4.7 "Auto-reconnect").
func (c *Connection) runIO(io *ioPipeline) {
	err := io.run()
	select {
	case <-c.closed:
		return
	default:
	}
	c.triggerReconnect(err)
}

// triggerReconnect implements §4.7 "Auto-reconnect": it fails pending
// calls, fires RECONNECTION_STARTING, and retries with exponential
// backoff until max_reconnect_attempts is exhausted (0 = unlimited).
func (c *Connection) triggerReconnect(cause error) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}
	if c.State() == StateReconnecting {
		return // already in progress
	}

	c.setState(StateReconnecting)
	c.bridge.onDisconnect(newErr(CodeDisconnected, "connection", cause))
	c.events.fire(ConnectionEventPayload{Event: EventReconnectionStarting, Err: cause})

	attempts := 0
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		if c.cfg.maxReconnectAttempts > 0 && attempts >= c.cfg.maxReconnectAttempts {
			c.setState(StateFailed)
			c.events.fire(ConnectionEventPayload{Event: EventReconnectionFailure, Err: cause})
			return
		}
		attempts++

		delay := c.backoff.next()
		select {
		case <-c.closed:
			return
		case <-time.After(delay):
		}

		if err := c.connectOnce(); err != nil {
			cause = err
			continue
		}
		c.setState(StateConnected)
		c.events.fire(ConnectionEventPayload{Event: EventReconnectionSuccess})
		c.events.fire(ConnectionEventPayload{Event: EventStateChanged, State: StateConnected})
		return
	}
}

func (c *Connection) setState(s ConnectionState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// BusName returns the unique name assigned by Hello (§4.4), e.g.
// ":1.42".
func (c *Connection) BusName() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.uniqueName
}

// Pipeline returns the application pipeline for installing handlers
// (§6.4 "Connection.pipeline").
func (c *Connection) Pipeline() *Pipeline { return c.pipeline }

// PeerCredentials reports the Unix credentials of the bus daemon on the
// other end of the current transport (§4.3, §6.2). It fails with
// CodeUnsupportedTransport over a TCP transport and CodeDisconnected if
// no transport is currently attached.
func (c *Connection) PeerCredentials() (uid, gid, pid int, err error) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return 0, 0, 0, newErr(CodeDisconnected, "peer credentials", errDisconnected)
	}
	return PeerCredentials(conn)
}

// AddConnectionEventListener registers l on the event executor (§6.4,
// §4.7 "Event listeners").
func (c *Connection) AddConnectionEventListener(l ConnectionEventListener) {
	c.events.addListener(l)
}

// Send writes msg without waiting for a reply (§6.4 "Connection.send"),
// traveling outbound through the application pipeline (§2 "application
// -> C8 -> C9 -> C7") before reaching the bridge and the transport.
func (c *Connection) Send(msg Message) *WriteAck {
	ack := newWriteAck()
	c.pipeline.fireOutbound(&msg, ack)
	return ack
}

// Emit sends a signal; semantically identical to Send but named for the
// common case of publishing a Signal message (§6.4, supplementing the
// abstract surface with a convenience entry point for the signal path).
func (c *Connection) Emit(signal Message) *WriteAck {
	return c.Send(signal)
}

// SendRequest sends a method call and returns a future that resolves
// once the reply arrives, the call times out, or the connection is
// lost (§6.4 "Connection.send_request"). Callers block with
// (*CallFuture).Wait or select on (*CallFuture).Done.
func (c *Connection) SendRequest(call Message) *CallFuture {
	return c.SendRequestContext(context.Background(), call)
}

// SendRequestContext is SendRequest with cancellation: if ctx is
// canceled before the reply arrives, the pending call is removed from
// the table as if it had timed out locally, and the returned future
// resolves with a Canceled error (§5 "Cancellation").
func (c *Connection) SendRequestContext(ctx context.Context, call Message) *CallFuture {
	timeout := c.cfg.methodCallTimeout
	if call.Timeout != nil {
		timeout = *call.Timeout
	}
	future := c.bridge.sendRequest(&call, timeout)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-future.Done():
			case <-ctx.Done():
				c.bridge.cancelCall(call.Serial)
			}
		}()
	}
	return future
}

// Close transitions Connected -> Closed (§4.7 "Close"): it stops health
// checking and reconnection, fails every pending call, closes the
// transport, and shuts down the application executor.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.health != nil {
			c.health.close()
		}
		c.bridge.onDisconnect(newErr(CodeDisconnected, "close", errDisconnected))
		c.appExec.close()
		c.events.close()
		c.setState(StateClosed)
	})
	return nil
}
