package dbusclient

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler is one named stage of the application pipeline (§4.6). A
// handler that does not call the matching Context propagate method
// terminates propagation, so a handler only needs to override the
// direction it cares about; BaseHandler supplies pass-through defaults
// for the rest.
type Handler interface {
	Name() string
	HandleInbound(ctx *HandlerContext, msg *Message)
	HandleOutbound(ctx *HandlerContext, msg *Message, ack *WriteAck)
	HandleFailure(ctx *HandlerContext, err error)
}

// BaseHandler embeds into a concrete Handler to get pass-through
// behavior for free on the directions it doesn't implement.
type BaseHandler struct{}

func (BaseHandler) HandleInbound(ctx *HandlerContext, msg *Message) { ctx.PropagateInbound(msg) }
func (BaseHandler) HandleOutbound(ctx *HandlerContext, msg *Message, ack *WriteAck) {
	ctx.PropagateOutbound(msg, ack)
}
func (BaseHandler) HandleFailure(ctx *HandlerContext, err error) { ctx.PropagateFailure(err) }

// WriteAck is the promise returned by Connection.Send (§6.4), completed
// once the bridge has handed the encoded frame to the transport (or
// failed to).
type WriteAck struct {
	done chan struct{}
	err  error
}

func newWriteAck() *WriteAck { return &WriteAck{done: make(chan struct{})} }

func (w *WriteAck) complete(err error) {
	w.err = err
	close(w.done)
}

// Wait blocks until the write completes and returns its error, if any.
func (w *WriteAck) Wait() error {
	<-w.done
	return w.err
}

// pipelineNode is a doubly-linked-list node. next/prev are read
// lock-free via atomic.Pointer and only ever replaced while holding
// Pipeline.mu, matching §4.6's "mutated under a lock, lock-free
// traversal" requirement.
type pipelineNode struct {
	name    string
	handler Handler
	next    atomic.Pointer[pipelineNode]
	prev    atomic.Pointer[pipelineNode]
}

// Pipeline is the application pipeline: a doubly-linked list with
// sentinel head and tail nodes (§4.6). Head sits closest to the bridge
// (inbound messages enter just after it); tail sits closest to user
// handlers added with AddLast.
type Pipeline struct {
	mu   sync.Mutex
	conn *Connection
	head *pipelineNode
	tail *pipelineNode
}

type pipelineEndpoint struct{ BaseHandler }

func (pipelineEndpoint) Name() string { return "<endpoint>" }

// bridgeTerminus sits immediately after head: it's the outbound chain's
// final stop, handing the message straight to the bridge (C9) instead
// of propagating further, implementing §2's "application -> C8 -> C9 ->
// C7" data flow without every user handler needing to know about the
// bridge.
type bridgeTerminus struct{ BaseHandler }

func (bridgeTerminus) Name() string { return "<bridge>" }

func (bridgeTerminus) HandleOutbound(ctx *HandlerContext, msg *Message, ack *WriteAck) {
	ctx.Connection().bridge.send(msg, ack)
}

func newPipeline(conn *Connection) *Pipeline {
	head := &pipelineNode{name: "<head>", handler: pipelineEndpoint{}}
	tail := &pipelineNode{name: "<tail>", handler: pipelineEndpoint{}}
	head.next.Store(tail)
	tail.prev.Store(head)
	p := &Pipeline{conn: conn, head: head, tail: tail}
	_ = p.addNamed(bridgeTerminus{}, head, tail)
	return p
}

func (p *Pipeline) find(name string) *pipelineNode {
	for n := p.head.next.Load(); n != p.tail; n = n.next.Load() {
		if n.name == name {
			return n
		}
	}
	return nil
}

func (p *Pipeline) insertBetween(before, after *pipelineNode, n *pipelineNode) {
	n.prev.Store(before)
	n.next.Store(after)
	before.next.Store(n)
	after.prev.Store(n)
}

// AddFirst inserts h immediately after the head sentinel.
func (p *Pipeline) AddFirst(h Handler) error { return p.addNamed(h, p.head, p.head.next.Load()) }

// AddLast inserts h immediately before the tail sentinel.
func (p *Pipeline) AddLast(h Handler) error { return p.addNamed(h, p.tail.prev.Load(), p.tail) }

// AddBefore inserts h immediately before the handler named anchor.
func (p *Pipeline) AddBefore(anchor string, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	at := p.find(anchor)
	if at == nil {
		return fmt.Errorf("dbusclient: pipeline: no handler named %q", anchor)
	}
	return p.addNamedLocked(h, at.prev.Load(), at)
}

// AddAfter inserts h immediately after the handler named anchor.
func (p *Pipeline) AddAfter(anchor string, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	at := p.find(anchor)
	if at == nil {
		return fmt.Errorf("dbusclient: pipeline: no handler named %q", anchor)
	}
	return p.addNamedLocked(h, at, at.next.Load())
}

// Remove takes the handler named name out of the chain.
func (p *Pipeline) Remove(name string) error {
	if name == "<bridge>" {
		return fmt.Errorf("dbusclient: pipeline: %q is the bridge terminus and cannot be removed", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.find(name)
	if n == nil {
		return fmt.Errorf("dbusclient: pipeline: no handler named %q", name)
	}
	prev, next := n.prev.Load(), n.next.Load()
	prev.next.Store(next)
	next.prev.Store(prev)
	return nil
}

func (p *Pipeline) addNamed(h Handler, before, after *pipelineNode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addNamedLocked(h, before, after)
}

func (p *Pipeline) addNamedLocked(h Handler, before, after *pipelineNode) error {
	if p.find(h.Name()) != nil {
		return fmt.Errorf("dbusclient: pipeline: handler named %q already present", h.Name())
	}
	n := &pipelineNode{name: h.Name(), handler: h}
	p.insertBetween(before, after, n)
	return nil
}

// fireInbound starts inbound propagation at the node right after head.
func (p *Pipeline) fireInbound(msg *Message) {
	n := p.head.next.Load()
	if n == p.tail {
		return
	}
	ctx := &HandlerContext{pipeline: p, node: n, conn: p.conn}
	n.handler.HandleInbound(ctx, msg)
}

// fireOutbound starts outbound propagation at the node right before
// tail, traveling toward head/the bridge.
func (p *Pipeline) fireOutbound(msg *Message, ack *WriteAck) {
	n := p.tail.prev.Load()
	if n == p.head {
		ack.complete(fmt.Errorf("dbusclient: pipeline: no handler installed"))
		return
	}
	ctx := &HandlerContext{pipeline: p, node: n, conn: p.conn}
	n.handler.HandleOutbound(ctx, msg, ack)
}

func (p *Pipeline) fireFailure(err error) {
	n := p.head.next.Load()
	if n == p.tail {
		return
	}
	ctx := &HandlerContext{pipeline: p, node: n, conn: p.conn}
	n.handler.HandleFailure(ctx, err)
}

// HandlerContext is passed to every Handler invocation (§4.6): it
// exposes propagation, the handler's own name, the owning Pipeline, and
// the Connection.
type HandlerContext struct {
	pipeline *Pipeline
	node     *pipelineNode
	conn     *Connection
}

func (c *HandlerContext) Name() string         { return c.node.name }
func (c *HandlerContext) Pipeline() *Pipeline   { return c.pipeline }
func (c *HandlerContext) Connection() *Connection { return c.conn }

// PropagateInbound forwards msg to the next handler toward the tail.
func (c *HandlerContext) PropagateInbound(msg *Message) {
	n := c.node.next.Load()
	if n == c.pipeline.tail {
		return
	}
	next := &HandlerContext{pipeline: c.pipeline, node: n, conn: c.conn}
	n.handler.HandleInbound(next, msg)
}

// PropagateOutbound forwards msg/ack to the next handler toward the
// head (eventually the bridge and the transport).
func (c *HandlerContext) PropagateOutbound(msg *Message, ack *WriteAck) {
	n := c.node.prev.Load()
	if n == c.pipeline.head {
		return
	}
	next := &HandlerContext{pipeline: c.pipeline, node: n, conn: c.conn}
	n.handler.HandleOutbound(next, msg, ack)
}

// PropagateFailure forwards err to the next handler toward the tail.
func (c *HandlerContext) PropagateFailure(err error) {
	n := c.node.next.Load()
	if n == c.pipeline.tail {
		return
	}
	next := &HandlerContext{pipeline: c.pipeline, node: n, conn: c.conn}
	n.handler.HandleFailure(next, err)
}
