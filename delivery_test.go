package chat

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/chat/wire"
)

// collectPushes reads pushed RecvMessage frames from peer until it stops
// receiving, reporting parsed (sender, message) pairs in arrival order.
func collectPushes(t *testing.T, peer net.Conn, want int) []map[string]string {
	t.Helper()

	var pushes []map[string]string
	var decoder wire.Decoder
	buf := make([]byte, wire.MaxPacketSize)
	deadline := time.Now().Add(2 * time.Second)
	for len(pushes) < want {
		require.NoError(t, peer.SetReadDeadline(deadline))
		n, err := peer.Read(buf)
		require.NoError(t, err)
		messages, err := decoder.Feed(buf[:n])
		require.NoError(t, err)
		for _, message := range messages {
			require.Equal(t, wire.OpRecvMessage, message.Op)
			pushes = append(pushes, wire.ParseData(message.Op, message.Body))
		}
	}
	return pushes
}

func TestDeliveryFIFO(t *testing.T) {
	server := newTestServer()
	sender := newTestConn(t)
	recipient, recipientPeer := newTestConnPair(t)
	require.NoError(t, server.registry.CreateAccount(sender, "kevin01"))
	require.NoError(t, server.registry.CreateAccount(recipient, "howie99"))

	bodies := []string{"first", "second", "third"}
	for _, body := range bodies {
		require.NoError(t, server.registry.SendMessage(sender, "howie99", body))
	}

	go server.deliverPending()

	pushes := collectPushes(t, recipientPeer, len(bodies))
	require.Len(t, pushes, len(bodies))
	for i, push := range pushes {
		assert.Equal(t, "kevin01", push["sender"])
		assert.Equal(t, bodies[i], push["message"])
	}
	assert.Zero(t, server.registry.PendingCount("howie99"))
}

func TestDeliveryOfflineRecipientStaysQueued(t *testing.T) {
	server := newTestServer()
	sender := newTestConn(t)
	recipient := newTestConn(t)
	require.NoError(t, server.registry.CreateAccount(sender, "kevin01"))
	require.NoError(t, server.registry.CreateAccount(recipient, "howie99"))
	require.NoError(t, server.registry.SendMessage(sender, "howie99", "hold this"))
	server.registry.Disconnect(recipient)

	server.deliverPending()
	assert.Equal(t, 1, server.registry.PendingCount("howie99"))
}

func TestDeliveryFailureRequeues(t *testing.T) {
	server := newTestServer()
	sender := newTestConn(t)
	recipient, recipientPeer := newTestConnPair(t)
	require.NoError(t, server.registry.CreateAccount(sender, "kevin01"))
	require.NoError(t, server.registry.CreateAccount(recipient, "howie99"))

	for _, body := range []string{"one", "two"} {
		require.NoError(t, server.registry.SendMessage(sender, "howie99", body))
	}

	// Dead socket: every send fails, so the whole queue must come back in
	// order and no further sends are attempted this pass.
	recipientPeer.Close()
	recipient.raw.Close()

	server.deliverPending()

	require.Equal(t, 2, server.registry.PendingCount("howie99"))
	queue := server.registry.TakePending("howie99")
	assert.Equal(t, "one", queue[0].Body)
	assert.Equal(t, "two", queue[1].Body)
}

func TestDeliveryAfterReconnect(t *testing.T) {
	server := newTestServer()
	sender := newTestConn(t)
	recipient := newTestConn(t)
	require.NoError(t, server.registry.CreateAccount(sender, "kevin01"))
	require.NoError(t, server.registry.CreateAccount(recipient, "bob42"))

	require.NoError(t, server.registry.SendMessage(sender, "bob42", "while you were out"))

	// Recipient drops before delivery; the message stays queued.
	server.registry.Disconnect(recipient)
	server.deliverPending()
	require.Equal(t, 1, server.registry.PendingCount("bob42"))

	// A new connection logs in as the same account and gets the backlog.
	reconnected, reconnectedPeer := newTestConnPair(t)
	require.NoError(t, server.registry.LogIn(reconnected, "bob42"))

	go server.deliverPending()

	pushes := collectPushes(t, reconnectedPeer, 1)
	require.Len(t, pushes, 1)
	assert.Equal(t, "kevin01", pushes[0]["sender"])
	assert.Equal(t, "while you were out", pushes[0]["message"])
	assert.Zero(t, server.registry.PendingCount("bob42"))
}
