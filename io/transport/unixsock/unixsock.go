// Package unixsock implements the production Capability: a persistent,
// JSON-framed Unix-domain-socket carrier. The daemon side listens on a
// well-known socket path; the harness process dials it. Every accepted
// connection is checked against the connecting peer's credentials before any
// traffic is served, mirroring the peer-UID check the mcpx daemon performs on
// its own control socket.
package unixsock

import (
	"encoding/json"
	"net"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/pkg/errors"
	"github.com/synaptic-tools/uitransact/core/message"
	"github.com/synaptic-tools/uitransact/core/transceiver"
)

// wireMessage is the JSON frame exchanged over the socket. Data round-trips
// as a base64 JSON string, matching the original protocol's plain string
// data field.
type wireMessage struct {
	ID   uint32 `json:"id"`
	Type uint8  `json:"type"`
	Data []byte `json:"data,omitempty"`
}

type capability struct {
	mu       sync.Mutex
	conn     net.Conn
	enc      *json.Encoder
	listener net.Listener
	ready    chan struct{}
}

// NewClientCapability dials the daemon's socket and returns a Capability
// that is immediately ready for traffic.
func NewClientCapability(socketPath string) (transceiver.Capability, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(err, "dialing daemon socket")
	}
	c := &capability{conn: conn, enc: json.NewEncoder(conn), ready: make(chan struct{})}
	close(c.ready)
	return c, nil
}

// NewServerCapability listens on socketPath, removing any stale socket file
// left behind by a crashed prior daemon. The first connection whose peer
// credentials match the current process's UID becomes the served peer;
// connections that fail the check before then are closed, and once a peer
// is served the listener stops accepting, so later connections are never
// served.
func NewServerCapability(socketPath string) (transceiver.Capability, error) {
	_ = os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(err, "listening on daemon socket")
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "setting daemon socket permissions")
	}

	c := &capability{listener: ln, ready: make(chan struct{})}
	go c.acceptLoop()
	return c, nil
}

func (c *capability) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return // listener closed
		}

		ok, err := peerUIDMatchesCurrentUser(conn)
		if err != nil {
			log.WithError(err).Warn("rejecting unix socket peer: credential check failed")
			conn.Close()
			continue
		}
		if !ok {
			log.Warn("rejecting unix socket peer: uid mismatch")
			conn.Close()
			continue
		}

		c.mu.Lock()
		if c.conn != nil {
			c.mu.Unlock()
			conn.Close() // one daemon serves exactly one harness connection at a time
			continue
		}
		c.conn = conn
		c.enc = json.NewEncoder(conn)
		c.mu.Unlock()
		close(c.ready)
		return
	}
}

func (c *capability) Subscribe(onReceive func(message.TransactionMessage)) error {
	go func() {
		<-c.ready
		c.readLoop(onReceive)
	}()
	return nil
}

func (c *capability) readLoop(onReceive func(message.TransactionMessage)) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	dec := json.NewDecoder(conn)
	for {
		var w wireMessage
		if err := dec.Decode(&w); err != nil {
			return // peer closed or socket died; the watchdog will notice the silence
		}
		onReceive(message.TransactionMessage{ID: w.ID, Type: message.Type(w.Type), DataParcel: w.Data})
	}
}

func (c *capability) Emit(m message.TransactionMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil {
		return errors.New("unix socket capability has no active connection yet")
	}
	return c.enc.Encode(wireMessage{ID: m.ID, Type: uint8(m.Type), Data: m.DataParcel})
}

func (c *capability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	if c.listener != nil {
		if lerr := c.listener.Close(); lerr != nil && err == nil {
			err = lerr
		}
	}
	return err
}
