// Package client implements the transaction core's caller side: a
// single-flight TransactionClient that discovers its peer, keeps a watchdog
// fed, and serializes one API invocation at a time onto a Transceiver.
package client

import (
	"context"
	"sync"
	"time"

	zipkin "github.com/openzipkin/zipkin-go"
	log "github.com/sirupsen/logrus"
	"github.com/synaptic-tools/uitransact/core/dto"
	"github.com/synaptic-tools/uitransact/core/message"
	"github.com/synaptic-tools/uitransact/core/transceiver"
	"github.com/synaptic-tools/uitransact/io/codec"
)

const (
	// DiscoveryTimeout is how long Initialize waits for the server to
	// answer the initial handshake.
	DiscoveryTimeout = 5 * time.Second
	// WaitTransactionMs is the internal poll slice InvokeApi waits on each
	// loop iteration, derived the same way the original daemon derives it:
	// one hundredth of the watchdog timeout.
	WaitTransactionMs = 20 * time.Millisecond
)

// TransactionClient is the api transaction participant that calls into a
// TransactionServer. It allows at most one in-flight ApiCallInfo at a time.
type TransactionClient struct {
	transceiver *transceiver.Transceiver
	tracer      *zipkin.Tracer

	mu             sync.Mutex
	processingApi  string
	connectionDied bool
}

// New builds a TransactionClient on top of the given transport capability.
// tracer may be nil, in which case invocations are not traced.
func New(capability transceiver.Capability, tracer *zipkin.Tracer) *TransactionClient {
	return &TransactionClient{
		transceiver: transceiver.New(capability),
		tracer:      tracer,
	}
}

// Initialize attaches to the transport, discovers the peer, and arms the
// watchdog with auto-handshake enabled. It returns false if either step
// fails.
func (c *TransactionClient) Initialize() bool {
	if !c.transceiver.Initialize() {
		return false
	}
	if !c.transceiver.DiscoverPeer(DiscoveryTimeout) {
		log.Error("failed to discover transaction server peer")
		return false
	}
	c.transceiver.ScheduleCheckConnection(true)
	return true
}

// InvokeApi performs one synchronous request/response. At most one call may
// be in flight at a time; a concurrent call returns a USAGE_ERROR without
// touching the transport.
func (c *TransactionClient) InvokeApi(call *dto.ApiCallInfo, reply *dto.ApiReplyInfo) {
	var span zipkin.Span
	if c.tracer != nil {
		span, _ = c.tracer.StartSpanFromContext(context.Background(), "InvokeApi")
		defer span.Finish()
	}

	c.mu.Lock()
	if c.connectionDied {
		c.mu.Unlock()
		reply.Exception(dto.InternalError, dto.ErrDeadConnection)
		return
	}
	if c.processingApi != "" {
		c.mu.Unlock()
		reply.Exception(dto.UsageError, dto.ErrConcurrentCall)
		return
	}
	c.processingApi = call.ApiId
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processingApi = ""
		c.mu.Unlock()
	}()

	parcel, err := codec.EncodeCall(call)
	if err != nil {
		reply.Exception(dto.InternalError, err.Error())
		return
	}
	c.transceiver.EmitCall(parcel)

	for {
		status, msg := c.transceiver.PollCallReply(WaitTransactionMs)
		switch status {
		case message.Success:
			decoded, err := codec.DecodeReply(msg.DataParcel)
			if err != nil {
				reply.Exception(dto.InternalError, err.Error())
				return
			}
			*reply = *decoded
			return
		case message.AbortWaitTimeout:
			continue
		case message.AbortConnectionDied:
			c.mu.Lock()
			c.connectionDied = true
			c.mu.Unlock()
			reply.Exception(dto.InternalError, dto.ErrDeadConnection)
			return
		case message.AbortRequestExit:
			reply.Exception(dto.InternalError, dto.ErrDeadConnection)
			return
		}
	}
}

// Finalize notifies the peer with EXIT, then tears down the local
// Transceiver. It is safe to call more than once.
func (c *TransactionClient) Finalize() {
	c.transceiver.EmitExit()
	c.transceiver.Finalize()

	c.mu.Lock()
	c.connectionDied = true
	c.mu.Unlock()
}
