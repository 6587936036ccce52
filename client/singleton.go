package client

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"github.com/synaptic-tools/uitransact/core/dto"
	"github.com/synaptic-tools/uitransact/io/transport/memory"
	"github.com/synaptic-tools/uitransact/io/transport/unixsock"
)

// This file mirrors the original daemon's process-singleton FFI surface:
// SetupTransactionEnv / TransactionClientFunc / DisposeTransactionEnv. It
// exists for hosts that want exactly one client per process and would
// rather not thread a *TransactionClient through their own call sites.

var (
	envMu       sync.Mutex
	envSetup    atomic.Bool
	envClient   *TransactionClient
	envBroker   *memory.Broker
)

// SetupTransactionEnv builds and initializes the process-wide client bound
// to token. socketPath, if non-empty, selects the unix socket carrier;
// otherwise an in-process broker is used.
//
// Matches the original's quirk: this always returns true and marks setup as
// done even if the underlying Initialize fails, logging the failure instead
// of propagating it, because callers historically treated setup as
// fire-and-forget.
func SetupTransactionEnv(token, socketPath string) bool {
	envMu.Lock()
	defer envMu.Unlock()

	if envSetup.Load() {
		return true
	}

	var c *TransactionClient
	if socketPath != "" {
		capa, err := unixsock.NewClientCapability(socketPath)
		if err != nil {
			log.WithError(err).Error("failed to dial transaction daemon socket")
			envSetup.Store(true)
			return true
		}
		c = New(capa, nil)
	} else {
		envBroker = memory.NewBroker()
		c = New(memory.NewClientCapability(envBroker, token), nil)
	}

	if !c.Initialize() {
		log.Error("transaction client failed to initialize, env marked setup anyway")
	}

	envClient = c
	envSetup.Store(true)
	return true
}

// TransactionClientFunc invokes the process-wide client set up by
// SetupTransactionEnv. If setup was never called, it reports an internal
// error instead of panicking.
func TransactionClientFunc(call *dto.ApiCallInfo, reply *dto.ApiReplyInfo) {
	envMu.Lock()
	c := envClient
	envMu.Unlock()

	if c == nil {
		reply.Exception(dto.InternalError, dto.ErrDeadConnection)
		return
	}
	c.InvokeApi(call, reply)
}

// DisposeTransactionEnv tears down the process-wide client. It is a no-op if
// setup was never called.
func DisposeTransactionEnv() {
	envMu.Lock()
	defer envMu.Unlock()

	if !envSetup.Load() {
		return
	}
	if envClient != nil {
		envClient.Finalize()
	}
	envClient = nil
	envBroker = nil
	envSetup.Store(false)
}
