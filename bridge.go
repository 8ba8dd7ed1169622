package dbusclient

import (
	"sync"
	"sync/atomic"
	"time"
)

// CallFuture is returned by bridge.sendRequest and resolved on the
// application executor (§6.4 "send_request"). It completes with exactly
// one of: the matching reply message, a *RemoteError-wrapped *Error, a
// Timeout error, a Canceled error, or a Disconnected error.
type CallFuture struct {
	done chan struct{}
	msg  *Message
	err  error
}

func newCallFuture() *CallFuture {
	return &CallFuture{done: make(chan struct{})}
}

func (f *CallFuture) complete(msg *Message, err error) {
	f.msg, f.err = msg, err
	close(f.done)
}

// Wait blocks until the call completes.
func (f *CallFuture) Wait() (*Message, error) {
	<-f.done
	return f.msg, f.err
}

// Done returns a channel closed once the call completes, for use in a
// select alongside a context's Done channel.
func (f *CallFuture) Done() <-chan struct{} { return f.done }

// pendingCall is one entry of the §3.5 pending-call table.
type pendingCall struct {
	serial  uint32
	timer   *time.Timer
	future  *CallFuture
	settled int32 // atomic: CAS guards against timer/reply/cancel racing
}

// bridge is C9: it assigns outbound serials, correlates inbound replies
// against the pending-call table, and hands every inbound message to
// the application executor so user code never runs on the I/O goroutine
// (§4.6 "Bridge semantics").
type bridge struct {
	serial uint32 // atomic counter, teacher's nextMsgSerial pattern generalized

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	order   []uint32 // insertion order, for §4.6 step 7's ordered failure

	io       *ioPipeline
	pipeline *Pipeline
	appExec  *workerPool
	log      Logger
}

func newBridge(pipeline *Pipeline, appExec *workerPool, log Logger) *bridge {
	return &bridge{
		pending:  make(map[uint32]*pendingCall),
		pipeline: pipeline,
		appExec:  appExec,
		log:      log,
	}
}

// attachTransport installs the live ioPipeline once a connection (or
// reconnection) completes.
func (b *bridge) attachTransport(io *ioPipeline) {
	b.mu.Lock()
	b.io = io
	b.mu.Unlock()
}

// nextSerial returns the next non-zero serial (§3.2), wrapping past
// zero on overflow, generalizing the teacher's Client.nextMsgSerial to
// an atomic counter shared across goroutines.
func (b *bridge) nextSerial() uint32 {
	for {
		s := atomic.AddUint32(&b.serial, 1)
		if s != 0 {
			return s
		}
	}
}

// send writes an outbound message with no reply expected (§6.4
// "Connection.send"), completing ack once the write returns.
func (b *bridge) send(msg *Message, ack *WriteAck) {
	b.mu.Lock()
	io := b.io
	b.mu.Unlock()
	if io == nil {
		ack.complete(newErr(CodeDisconnected, "send", errDisconnected))
		return
	}
	if msg.Serial == 0 {
		msg.Serial = b.nextSerial()
	}
	ack.complete(io.writeMessage(msg))
}

// sendRequest implements §4.6 "Request/response correlation" steps 1-4.
func (b *bridge) sendRequest(call *Message, timeout time.Duration) *CallFuture {
	future := newCallFuture()

	b.mu.Lock()
	io := b.io
	if io == nil {
		b.mu.Unlock()
		future.complete(nil, newErr(CodeDisconnected, "send request", errDisconnected))
		return future
	}
	call.Serial = b.nextSerial()
	pc := &pendingCall{serial: call.Serial, future: future}
	pc.timer = time.AfterFunc(timeout, func() { b.onDeadline(pc) })
	b.pending[call.Serial] = pc
	b.order = append(b.order, call.Serial)
	b.mu.Unlock()

	if err := io.writeMessage(call); err != nil {
		b.settle(pc, nil, newErr(CodeDisconnected, "send request", err))
	}
	return future
}

// cancelCall implements §5 "Cancellation": equivalent to a local
// timeout. The pending entry is removed, so a reply arriving later for
// the same serial no longer matches and onInbound hands it to the
// application pipeline like any other unmatched message; it is not
// discarded.
func (b *bridge) cancelCall(serial uint32) {
	b.mu.Lock()
	pc, ok := b.pending[serial]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.settle(pc, nil, newErr(CodeCanceled, "cancel call", errCanceled))
}

func (b *bridge) onDeadline(pc *pendingCall) {
	b.settle(pc, nil, newErr(CodeTimeout, "send request", errTimeout))
}

// settle removes pc from the table and the insertion-order log (if
// still present) and completes its future on the application executor
// (§4.6 steps 5-6).
func (b *bridge) settle(pc *pendingCall, msg *Message, err error) {
	if !atomic.CompareAndSwapInt32(&pc.settled, 0, 1) {
		return
	}
	b.mu.Lock()
	delete(b.pending, pc.serial)
	for i, s := range b.order {
		if s == pc.serial {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	if pc.timer != nil {
		pc.timer.Stop()
	}
	b.appExec.submit(func() { pc.future.complete(msg, err) })
}

// onInbound is called from the I/O executor for every decoded message
// (§4.5 stage 7 "Bridge"). Replies matching a pending call resolve it;
// everything else is handed to the application pipeline.
func (b *bridge) onInbound(msg *Message) {
	if msg.Type == TypeMethodReturn || msg.Type == TypeError {
		b.mu.Lock()
		pc, ok := b.pending[msg.ReplySerial]
		b.mu.Unlock()
		if ok {
			if msg.Type == TypeError {
				b.settle(pc, nil, newErr(CodeRemoteError, "send request", &RemoteError{Name: msg.ErrorName, Body: msg.Body}))
			} else {
				b.settle(pc, msg, nil)
			}
			return
		}
	}
	b.appExec.submit(func() { b.pipeline.fireInbound(msg) })
}

// onInboundFailure implements §7's "surfaced through the
// failure-propagation path of both pipelines" for a per-message
// codec/framing error: the I/O pipeline's own side is the caller
// logging and discarding the malformed frame without running user
// code; this hands the error to the application pipeline's failure
// chain on the application executor, same as onInbound does for a
// successfully decoded message.
func (b *bridge) onInboundFailure(err error) {
	b.appExec.submit(func() { b.pipeline.fireFailure(err) })
}

// onDisconnect implements §4.6 step 7: every pending call fails, in
// insertion order.
func (b *bridge) onDisconnect(cause error) {
	b.mu.Lock()
	io := b.io
	b.io = nil
	order := b.order
	b.order = nil
	b.mu.Unlock()
	if io != nil {
		_ = io.close()
	}
	for _, serial := range order {
		b.mu.Lock()
		pc, ok := b.pending[serial]
		b.mu.Unlock()
		if ok {
			b.settle(pc, nil, newErr(CodeDisconnected, "send request", cause))
		}
	}
}
