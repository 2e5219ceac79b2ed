// Package presence tracks park-slot occupancy per tenant and republishes
// every transition to the signaling proxy as a dialog-state notification.
package presence

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	dialTimeout    = 2 * time.Second
	defaultAckWait = 500 * time.Millisecond
)

type slotKey struct {
	tenant string
	slot   string
}

// Publisher owns the occupancy map and the monotonic version counter. All
// updates for any key are serialized under one lock, which also keeps the
// emitted version numbers in publish order. Transmission is best-effort: a
// failed send is logged and forgotten, never surfaced to call processing.
type Publisher struct {
	proxyAddr string
	localHost string
	ackWait   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	slots   map[slotKey]string // occupant display identity
	version uint64

	sent atomic.Uint64
}

// NewPublisher creates a Publisher targeting the signaling proxy at
// proxyAddr (host:port). localHost names this process in the message's
// routing header.
func NewPublisher(proxyAddr, localHost string, logger *slog.Logger) *Publisher {
	return &Publisher{
		proxyAddr: proxyAddr,
		localHost: localHost,
		ackWait:   defaultAckWait,
		logger:    logger.With("component", "presence"),
		slots:     make(map[slotKey]string),
	}
}

// SetParked records an occupant for the slot and publishes a confirmed
// dialog state naming them.
func (p *Publisher) SetParked(tenant, slot, occupant string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slots[slotKey{tenant, slot}] = occupant
	p.version++

	p.publish(Message{
		Tenant:   tenant,
		Slot:     slot,
		State:    StateConfirmed,
		Occupant: occupant,
		Version:  p.version,
	})
}

// SetRetrieved clears the slot and publishes a terminated dialog state.
func (p *Publisher) SetRetrieved(tenant, slot string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.slots, slotKey{tenant, slot})
	p.version++

	p.publish(Message{
		Tenant:  tenant,
		Slot:    slot,
		State:   StateTerminated,
		Version: p.version,
	})
}

// Occupant returns the recorded occupant of a slot, if any.
func (p *Publisher) Occupant(tenant, slot string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	occupant, ok := p.slots[slotKey{tenant, slot}]
	return occupant, ok
}

// OccupiedSlotCount returns the number of currently occupied slots across
// all tenants.
func (p *Publisher) OccupiedSlotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// NotifiesSent returns the number of presence messages transmitted.
func (p *Publisher) NotifiesSent() uint64 {
	return p.sent.Load()
}

// publish renders and transmits one message. Called with p.mu held so that
// messages for the same key leave in version order.
func (p *Publisher) publish(msg Message) {
	datagram, err := buildNotify(msg, p.localHost)
	if err != nil {
		p.logger.Error("building presence message",
			"entity", msg.Entity(),
			"error", err,
		)
		return
	}

	conn, err := net.DialTimeout("udp", p.proxyAddr, dialTimeout)
	if err != nil {
		p.logger.Warn("presence proxy unreachable",
			"proxy", p.proxyAddr,
			"error", err,
		)
		return
	}
	defer conn.Close()

	if _, err := conn.Write(datagram); err != nil {
		p.logger.Warn("sending presence message",
			"entity", msg.Entity(),
			"error", err,
		)
		return
	}
	p.sent.Add(1)

	p.logger.Info("presence published",
		"entity", msg.Entity(),
		"state", msg.State,
		"version", msg.Version,
	)

	// Wait briefly for an acknowledgement, purely for the logs. No retry.
	conn.SetReadDeadline(time.Now().Add(p.ackWait))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		p.logger.Debug("no presence acknowledgement",
			"entity", msg.Entity(),
			"error", err,
		)
		return
	}
	p.logger.Debug("presence acknowledged",
		"entity", msg.Entity(),
		"bytes", n,
	)
}
