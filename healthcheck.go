package dbusclient

import (
	"context"
	"sync/atomic"
	"time"
)

const peerInterface = "org.freedesktop.DBus.Peer"

var peerPath = ObjectPath("/")

// healthChecker issues periodic Peer.Ping calls (§4.7 "Health probe").
// A successful reply resets the failure streak; once the streak exceeds
// graceHits the connection manager is told to reconnect.
type healthChecker struct {
	conn      *Connection
	interval  time.Duration
	graceHits int

	stop     chan struct{}
	failures int32
}

func newHealthChecker(conn *Connection, interval time.Duration, graceHits int) *healthChecker {
	if graceHits < 0 {
		graceHits = 0
	}
	return &healthChecker{conn: conn, interval: interval, graceHits: graceHits, stop: make(chan struct{})}
}

func (h *healthChecker) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.probe()
		}
	}
}

func (h *healthChecker) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()

	call, err := NewMethodCall(peerPath, "Ping", WithInterface(peerInterface), WithDestination(busName))
	if err != nil {
		return
	}
	_, err = h.conn.SendRequestContext(ctx, call).Wait()
	if err != nil {
		n := atomic.AddInt32(&h.failures, 1)
		h.conn.events.fire(ConnectionEventPayload{Event: EventHealthCheckFailure, Err: err})
		if int(n) > h.graceHits {
			h.conn.triggerReconnect(err)
		}
		return
	}
	atomic.StoreInt32(&h.failures, 0)
}

func (h *healthChecker) close() { close(h.stop) }
