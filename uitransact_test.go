package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptic-tools/uitransact/client"
	"github.com/synaptic-tools/uitransact/core/dto"
	coretransceiver "github.com/synaptic-tools/uitransact/core/transceiver"
	"github.com/synaptic-tools/uitransact/io/transport/memory"
	"github.com/synaptic-tools/uitransact/server"
)

// TestRoundTripThenOrderlyExit exercises scenario S1 end to end: a bridged
// client/server pair exchanges three calls over the in-process broker, then
// the client finalizes and the server's loop exits cleanly.
func TestRoundTripThenOrderlyExit(t *testing.T) {
	broker := memory.NewBroker()
	const token = "s1"

	srv := server.New(memory.NewServerCapability(broker, token), nil)
	srv.SetCallFunction(func(call *dto.ApiCallInfo, reply *dto.ApiReplyInfo) {
		reply.ResultStr = call.ApiId + "_ok"
	})
	require.True(t, srv.Initialize())

	done := make(chan uint32, 1)
	go func() { done <- srv.RunLoop() }()

	cli := client.New(memory.NewClientCapability(broker, token), nil)
	require.True(t, cli.Initialize())

	for _, in := range []string{"yz", "zl", "lj"} {
		var reply dto.ApiReplyInfo
		cli.InvokeApi(&dto.ApiCallInfo{ApiId: in}, &reply)
		require.Equal(t, dto.NoError, reply.Kind)
		assert.Equal(t, in+"_ok", reply.ResultStr)
	}

	cli.Finalize()

	select {
	case code := <-done:
		assert.Equal(t, uint32(server.ExitCodeSuccess), code)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after client finalize")
	}
}

// TestServerDeclaresFailureWhenClientGoesSilent covers a server-side
// analogue of S5: nothing ever talks to the server after it starts, so its
// own watchdog must declare the connection dead and RunLoop must exit with
// the failure code.
func TestServerDeclaresFailureWhenClientGoesSilent(t *testing.T) {
	old := coretransceiver.WatchdogTimeout
	coretransceiver.WatchdogTimeout = 60 * time.Millisecond
	defer func() { coretransceiver.WatchdogTimeout = old }()

	broker := memory.NewBroker()
	srv := server.New(memory.NewServerCapability(broker, "s5-server"), nil)
	require.True(t, srv.Initialize())

	done := make(chan uint32, 1)
	go func() { done <- srv.RunLoop() }()

	select {
	case code := <-done:
		assert.Equal(t, uint32(server.ExitCodeFailure), code)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not notice silence")
	}
}

// TestClientReportsDeadConnectionWhenServerGoesSilent covers S5 from the
// client's side: the peer answers the initial discovery handshake, then
// disappears; InvokeApi must eventually settle with the dead-connection
// INTERNAL_ERROR.
func TestClientReportsDeadConnectionWhenServerGoesSilent(t *testing.T) {
	old := coretransceiver.WatchdogTimeout
	coretransceiver.WatchdogTimeout = 60 * time.Millisecond
	defer func() { coretransceiver.WatchdogTimeout = old }()

	broker := memory.NewBroker()
	const token = "s5-client"

	peer := coretransceiver.New(memory.NewServerCapability(broker, token))
	require.True(t, peer.Initialize())

	cli := client.New(memory.NewClientCapability(broker, token), nil)
	require.True(t, cli.Initialize())

	// The peer answered discovery; now it vanishes, so the client's own
	// watchdog (armed with auto-handshake) will eventually find silence.
	peer.Finalize()

	var reply dto.ApiReplyInfo
	cli.InvokeApi(&dto.ApiCallInfo{ApiId: "anything"}, &reply)
	assert.Equal(t, dto.InternalError, reply.Kind)
	assert.Contains(t, reply.Message, "dead")
}
