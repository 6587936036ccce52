package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptic-tools/uitransact/core/dto"
	"github.com/synaptic-tools/uitransact/core/message"
	coretransceiver "github.com/synaptic-tools/uitransact/core/transceiver"
	"github.com/synaptic-tools/uitransact/io/codec"
	"github.com/synaptic-tools/uitransact/io/transport/memory"
)

func TestRunLoopExitsSuccessfullyOnExit(t *testing.T) {
	broker := memory.NewBroker()
	const token = "tok-exit"

	srv := New(memory.NewServerCapability(broker, token), nil)
	srv.SetCallFunction(func(call *dto.ApiCallInfo, reply *dto.ApiReplyInfo) {
		reply.ResultStr = call.ApiId + "_ok"
	})
	require.True(t, srv.Initialize())

	done := make(chan uint32, 1)
	go func() { done <- srv.RunLoop() }()

	peer := coretransceiver.New(memory.NewClientCapability(broker, token))
	require.True(t, peer.Initialize())
	peer.EmitExit()

	select {
	case code := <-done:
		assert.Equal(t, uint32(ExitCodeSuccess), code)
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit on EXIT")
	}
}

func TestRunLoopDispatchesCallsAndEmitsReplies(t *testing.T) {
	broker := memory.NewBroker()
	const token = "tok-dispatch"

	srv := New(memory.NewServerCapability(broker, token), nil)
	srv.SetCallFunction(func(call *dto.ApiCallInfo, reply *dto.ApiReplyInfo) {
		reply.ResultStr = call.ApiId + "_ok"
	})
	require.True(t, srv.Initialize())
	go srv.RunLoop()
	defer srv.Finalize()

	peer := coretransceiver.New(memory.NewClientCapability(broker, token))
	require.True(t, peer.Initialize())
	defer peer.Finalize()

	for _, in := range []string{"yz", "zl", "lj"} {
		parcel, err := codec.EncodeCall(&dto.ApiCallInfo{ApiId: in})
		require.NoError(t, err)
		peer.EmitCall(parcel)

		status, msg := peer.PollCallReply(time.Second)
		require.Equal(t, message.Success, status)
		reply, err := codec.DecodeReply(msg.DataParcel)
		require.NoError(t, err)
		assert.Equal(t, in+"_ok", reply.ResultStr)
	}
}

func TestRunLoopReturnsFailureWhenConnectionDies(t *testing.T) {
	old := coretransceiver.WatchdogTimeout
	coretransceiver.WatchdogTimeout = 60 * time.Millisecond
	defer func() { coretransceiver.WatchdogTimeout = old }()

	broker := memory.NewBroker()
	srv := New(memory.NewServerCapability(broker, "tok-dead"), nil)
	require.True(t, srv.Initialize())

	done := make(chan uint32, 1)
	go func() { done <- srv.RunLoop() }()

	select {
	case code := <-done:
		assert.Equal(t, uint32(ExitCodeFailure), code)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not fail on dead connection")
	}
}
