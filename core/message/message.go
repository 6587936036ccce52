// Package message defines the wire-level value type exchanged between a
// TransactionClient and a TransactionServer, and the small set of tags that
// drive the Transceiver's ingress routing.
package message

import "fmt"

// Type tags a TransactionMessage so the Transceiver knows how to route it.
type Type uint8

const (
	// Invalid marks a zero-value message; it should never be observed on
	// the wire.
	Invalid Type = iota
	// Call carries an API invocation request from client to server.
	Call
	// Reply carries an API invocation result from server to client.
	Reply
	// Handshake is a liveness probe; it carries no payload.
	Handshake
	// Ack answers a Handshake with the same id; it carries no payload.
	Ack
	// Exit requests that the peer tear down the connection.
	Exit
)

func (t Type) String() string {
	switch t {
	case Call:
		return "CALL"
	case Reply:
		return "REPLY"
	case Handshake:
		return "HANDSHAKE"
	case Ack:
		return "ACK"
	case Exit:
		return "EXIT"
	default:
		return "INVALID"
	}
}

// TransactionMessage is the unit exchanged over a Capability. DataParcel is
// opaque to the core: it is whatever the client/server codec produced.
type TransactionMessage struct {
	ID         uint32
	Type       Type
	DataParcel []byte
}

func (m TransactionMessage) String() string {
	return fmt.Sprintf("TransactionMessage{id=%d, type=%s, len=%d}", m.ID, m.Type, len(m.DataParcel))
}

// PollStatus is returned by Transceiver.PollCallReply.
type PollStatus uint8

const (
	// Success means a CALL or REPLY message was dequeued.
	Success PollStatus = iota
	// AbortWaitTimeout means the poll's deadline elapsed with nothing to
	// return.
	AbortWaitTimeout
	// AbortConnectionDied means the watchdog has declared the peer dead.
	AbortConnectionDied
	// AbortRequestExit means an EXIT was observed, or the Transceiver was
	// finalized.
	AbortRequestExit
)

func (s PollStatus) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case AbortWaitTimeout:
		return "ABORT_WAIT_TIMEOUT"
	case AbortConnectionDied:
		return "ABORT_CONNECTION_DIED"
	case AbortRequestExit:
		return "ABORT_REQUEST_EXIT"
	default:
		return "UNKNOWN"
	}
}
