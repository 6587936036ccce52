// Package server implements the transaction core's dispatch side: a
// TransactionServer that reads CALL messages off a Transceiver, invokes an
// injected dispatcher, and emits the matching REPLY.
package server

import (
	"context"
	"time"

	zipkin "github.com/openzipkin/zipkin-go"
	log "github.com/sirupsen/logrus"
	"github.com/synaptic-tools/uitransact/core/dto"
	"github.com/synaptic-tools/uitransact/core/message"
	"github.com/synaptic-tools/uitransact/core/transceiver"
	"github.com/synaptic-tools/uitransact/io/codec"
)

const (
	// ExitCodeSuccess is returned by RunLoop when the loop ended because the
	// peer (or the local process) requested an orderly exit.
	ExitCodeSuccess = 0
	// ExitCodeFailure is returned by RunLoop when the loop ended because the
	// watchdog declared the connection dead.
	ExitCodeFailure = 1
	// WaitTransactionMs is the internal poll slice RunLoop waits on each
	// iteration.
	WaitTransactionMs = 20 * time.Millisecond
)

// CallFunc dispatches one ApiCallInfo, filling in reply. It runs serially on
// the RunLoop goroutine.
type CallFunc func(call *dto.ApiCallInfo, reply *dto.ApiReplyInfo)

// TransactionServer is the api transaction participant that answers calls
// from a TransactionClient.
type TransactionServer struct {
	transceiver *transceiver.Transceiver
	tracer      *zipkin.Tracer
	callFunc    CallFunc
}

// New builds a TransactionServer on top of the given transport capability.
// tracer may be nil, in which case dispatches are not traced.
func New(capability transceiver.Capability, tracer *zipkin.Tracer) *TransactionServer {
	return &TransactionServer{
		transceiver: transceiver.New(capability),
		tracer:      tracer,
	}
}

// SetCallFunction installs the dispatcher RunLoop invokes for each CALL.
func (s *TransactionServer) SetCallFunction(fn CallFunc) {
	s.callFunc = fn
}

// Initialize attaches to the transport and arms the watchdog without
// auto-handshake: the server answers handshakes (see transceiver ingress
// rules) but never initiates one itself.
func (s *TransactionServer) Initialize() bool {
	if !s.transceiver.Initialize() {
		return false
	}
	s.transceiver.ScheduleCheckConnection(false)
	return true
}

// RunLoop drives the dispatch loop until the peer requests exit or the
// watchdog declares the connection dead.
func (s *TransactionServer) RunLoop() uint32 {
	for {
		status, msg := s.transceiver.PollCallReply(WaitTransactionMs)
		switch status {
		case message.Success:
			s.dispatch(msg)
		case message.AbortWaitTimeout:
			continue
		case message.AbortRequestExit:
			return ExitCodeSuccess
		case message.AbortConnectionDied:
			return ExitCodeFailure
		}
	}
}

func (s *TransactionServer) dispatch(msg message.TransactionMessage) {
	var span zipkin.Span
	ctx := context.Background()
	if s.tracer != nil {
		span, _ = s.tracer.StartSpanFromContext(ctx, "DispatchCall")
		defer span.Finish()
	}

	var reply dto.ApiReplyInfo
	call, err := codec.DecodeCall(msg.DataParcel)
	if err != nil {
		reply.Exception(dto.InternalError, err.Error())
	} else if s.callFunc == nil {
		reply.Exception(dto.InternalError, "no call function installed on transaction server")
	} else {
		s.callFunc(call, &reply)
	}

	parcel, err := codec.EncodeReply(&reply)
	if err != nil {
		log.WithError(err).Error("failed to encode api reply, dropping")
		return
	}
	s.transceiver.EmitReply(msg.ID, parcel)
}

// Finalize tears down the local Transceiver.
func (s *TransactionServer) Finalize() {
	s.transceiver.Finalize()
}
