// Package transceiver implements the bidirectional message endpoint shared
// by client and server: an inbound queue fed by a transport Capability, a
// watchdog that declares the peer dead after a silent interval, and the
// handshake/exit bookkeeping both layer on top of.
package transceiver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/synaptic-tools/uitransact/core/message"
)

// WatchdogTimeout is the silent-peer death threshold. It is a package
// variable, not a constant, purely so tests can shrink the window instead of
// sleeping for the production value of two seconds.
var WatchdogTimeout = 2000 * time.Millisecond

const (
	flagConnectDied uint32 = 1 << 0
	flagRequestExit uint32 = 1 << 1
)

// Capability is the transport adapter a Transceiver is parameterized over.
// Implementations live under io/transport.
type Capability interface {
	// Subscribe attaches to the carrier; onReceive must be invoked once per
	// delivered message, possibly from a different goroutine.
	Subscribe(onReceive func(message.TransactionMessage)) error
	// Emit transmits msg to the peer. Must be safe for concurrent callers.
	Emit(msg message.TransactionMessage) error
	// Close detaches from the carrier. onReceive must not fire after Close
	// returns.
	Close() error
}

// Transceiver is the concrete, transport-agnostic endpoint described by the
// protocol: one per client and one per server.
type Transceiver struct {
	capability Capability

	mu     sync.Mutex
	wake   chan struct{}
	queue  []message.TransactionMessage
	filter func(message.Type) bool
	flags  uint32

	nextID          atomic.Uint32
	lastIncomingMs  atomic.Int64
	lastOutgoingMs  atomic.Int64
	watchdogTimeout time.Duration
	watchdogCancel  context.CancelFunc
	watchdogWG      sync.WaitGroup

	finalizeOnce sync.Once
}

// New builds a Transceiver on top of the given Capability. Initialize must be
// called before any traffic is expected to flow.
func New(capability Capability) *Transceiver {
	return &Transceiver{
		capability:      capability,
		wake:            make(chan struct{}),
		watchdogTimeout: WatchdogTimeout,
	}
}

// Initialize attaches the Transceiver to its Capability.
func (t *Transceiver) Initialize() bool {
	if t.capability == nil {
		log.Error("transceiver has no transport capability")
		return false
	}
	if err := t.capability.Subscribe(t.OnReceiveMessage); err != nil {
		log.WithError(err).Error("failed to subscribe to transport capability")
		return false
	}
	return true
}

// SetMessageFilter installs or clears an ingress predicate. Messages whose
// type the predicate rejects are dropped before any further processing,
// including the implicit HANDSHAKE/EXIT handling.
func (t *Transceiver) SetMessageFilter(pred func(message.Type) bool) {
	t.mu.Lock()
	t.filter = pred
	t.mu.Unlock()
}

// OnReceiveMessage is the sink the Capability calls for every delivered
// message. It is exported so tests can inject traffic directly.
func (t *Transceiver) OnReceiveMessage(m message.TransactionMessage) {
	t.mu.Lock()
	t.lastIncomingMs.Store(nowMillis())
	filter := t.filter
	t.notifyLocked()
	t.mu.Unlock()

	if filter != nil && !filter(m.Type) {
		return
	}

	switch m.Type {
	case message.Exit:
		t.mu.Lock()
		t.flags |= flagRequestExit
		t.notifyLocked()
		t.mu.Unlock()
	case message.Handshake:
		t.EmitAck(m.ID)
	case message.Ack:
		// feeds only the watchdog timestamp, already updated above
	default:
		t.mu.Lock()
		t.queue = append(t.queue, m)
		t.notifyLocked()
		t.mu.Unlock()
	}
}

// notifyLocked wakes every goroutine currently waiting on t.wake. Callers
// must hold t.mu.
func (t *Transceiver) notifyLocked() {
	close(t.wake)
	t.wake = make(chan struct{})
}

// emitMessage updates the outgoing timestamp and hands msg to the transport.
// It must never be called while t.mu is held, so the transport is free to
// re-enter the Transceiver (e.g. a loopback capability) without deadlocking.
func (t *Transceiver) emitMessage(m message.TransactionMessage) {
	t.lastOutgoingMs.Store(nowMillis())
	if err := t.capability.Emit(m); err != nil {
		log.WithError(err).WithField("type", m.Type).Warn("failed to emit transaction message")
	}
}

// EmitCall assigns a fresh id and emits a CALL message, returning the id so
// callers that care about correlation (none, under single-flight) can use
// it.
func (t *Transceiver) EmitCall(parcel []byte) uint32 {
	id := t.nextID.Add(1)
	t.emitMessage(message.TransactionMessage{ID: id, Type: message.Call, DataParcel: parcel})
	return id
}

// EmitReply emits a REPLY echoing id. It takes only the id, not the whole
// request message, so a caller cannot accidentally echo back other request
// fields into the reply.
func (t *Transceiver) EmitReply(id uint32, parcel []byte) {
	t.emitMessage(message.TransactionMessage{ID: id, Type: message.Reply, DataParcel: parcel})
}

// EmitHandshake emits a liveness probe with a fresh id.
func (t *Transceiver) EmitHandshake() uint32 {
	id := t.nextID.Add(1)
	t.emitMessage(message.TransactionMessage{ID: id, Type: message.Handshake})
	return id
}

// EmitAck answers a HANDSHAKE with the same id.
func (t *Transceiver) EmitAck(handshakeID uint32) {
	t.emitMessage(message.TransactionMessage{ID: handshakeID, Type: message.Ack})
}

// EmitExit emits a teardown notice with a fresh id.
func (t *Transceiver) EmitExit() {
	id := t.nextID.Add(1)
	t.emitMessage(message.TransactionMessage{ID: id, Type: message.Exit})
}

// PollCallReply waits up to timeout for the next CALL or REPLY message.
func (t *Transceiver) PollCallReply(timeout time.Duration) (message.PollStatus, message.TransactionMessage) {
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		if t.flags&flagRequestExit != 0 {
			t.mu.Unlock()
			return message.AbortRequestExit, message.TransactionMessage{}
		}
		if len(t.queue) > 0 {
			m := t.queue[0]
			t.queue = t.queue[1:]
			t.mu.Unlock()
			return message.Success, m
		}
		if t.flags&flagConnectDied != 0 {
			t.mu.Unlock()
			return message.AbortConnectionDied, message.TransactionMessage{}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.mu.Unlock()
			return message.AbortWaitTimeout, message.TransactionMessage{}
		}
		wake := t.wake
		t.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// ScheduleCheckConnection starts the watchdog goroutine. When autoHandshake
// is true, the watchdog also proactively emits HANDSHAKE pings to keep the
// peer's own watchdog fed; when false, this endpoint only answers inbound
// handshakes (see OnReceiveMessage), never initiates them.
func (t *Transceiver) ScheduleCheckConnection(autoHandshake bool) {
	now := nowMillis()
	t.lastIncomingMs.Store(now)
	t.lastOutgoingMs.Store(now)

	ctx, cancel := context.WithCancel(context.Background())
	t.watchdogCancel = cancel
	t.watchdogWG.Add(1)
	go func() {
		defer t.watchdogWG.Done()
		t.watchdogLoop(ctx, autoHandshake)
	}()
}

func (t *Transceiver) watchdogLoop(ctx context.Context, autoHandshake bool) {
	interval := t.watchdogTimeout / 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := nowMillis()
			if now-t.lastIncomingMs.Load() > t.watchdogTimeout.Milliseconds() {
				t.mu.Lock()
				t.flags |= flagConnectDied
				t.notifyLocked()
				t.mu.Unlock()
				log.Warn("peer silent past watchdog timeout, declaring connection dead")
				return
			}
			if autoHandshake && now-t.lastOutgoingMs.Load() > t.watchdogTimeout.Milliseconds()/2 {
				t.EmitHandshake()
			}
		}
	}
}

// DiscoverPeer emits one HANDSHAKE and returns true iff any inbound traffic
// (not necessarily the matching ACK) is observed before timeout elapses.
func (t *Transceiver) DiscoverPeer(timeout time.Duration) bool {
	baseline := t.lastIncomingMs.Load()
	t.EmitHandshake()

	deadline := time.Now().Add(timeout)
	for {
		if t.lastIncomingMs.Load() != baseline {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		t.mu.Lock()
		wake := t.wake
		t.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Finalize stops the watchdog, wakes every waiter with ABORT_REQUEST_EXIT,
// and detaches from the transport. It is safe to call more than once.
func (t *Transceiver) Finalize() {
	t.finalizeOnce.Do(func() {
		if t.watchdogCancel != nil {
			t.watchdogCancel()
		}

		t.mu.Lock()
		t.flags |= flagRequestExit
		t.notifyLocked()
		t.mu.Unlock()

		t.watchdogWG.Wait()

		if t.capability != nil {
			if err := t.capability.Close(); err != nil {
				log.WithError(err).Warn("failed to close transport capability during finalize")
			}
		}
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
