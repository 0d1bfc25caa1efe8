package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry and fanout paths never touch the underlying socket, so
// these tests run the hub loop with nil conns.
func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func register(t *testing.T, h *Hub, topic string) *Connection {
	t.Helper()
	conn := h.NewConnection(nil, topic)
	h.Register(conn)
	require.Eventually(t, func() bool {
		return h.SubscriberCount(topic) > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func TestHubBroadcastReachesTopicOnly(t *testing.T) {
	h := startHub(t)

	fleet1 := register(t, h, TopicFleet)
	fleet2 := h.NewConnection(nil, TopicFleet)
	h.Register(fleet2)
	a2a := register(t, h, TopicA2A)
	require.Eventually(t, func() bool {
		return h.SubscriberCount(TopicFleet) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.BroadcastJSON(TopicFleet, map[string]string{"type": "telemetry"}))

	for _, c := range []*Connection{fleet1, fleet2} {
		select {
		case data := <-c.Send:
			assert.Contains(t, string(data), "telemetry")
		case <-time.After(time.Second):
			t.Fatal("fleet subscriber did not receive broadcast")
		}
	}

	select {
	case <-a2a.Send:
		t.Fatal("a2a subscriber received a fleet broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRobotDispatch(t *testing.T) {
	h := startHub(t)

	uplink := register(t, h, TopicRobot)
	h.BindRobot(uplink, "bot_1")

	require.True(t, h.RobotConnected("bot_1"))
	require.NoError(t, h.SendJSONToRobot("bot_1", map[string]string{"type": "command"}))

	select {
	case data := <-uplink.Send:
		assert.Contains(t, string(data), "command")
	case <-time.After(time.Second):
		t.Fatal("uplink did not receive dispatch")
	}

	assert.ErrorIs(t, h.SendToRobot("bot_2", []byte("x")), ErrRobotNotConnected)
}

func TestHubUnregisterUnbindsRobot(t *testing.T) {
	h := startHub(t)

	uplink := register(t, h, TopicRobot)
	h.BindRobot(uplink, "bot_1")

	h.Unregister(uplink)
	require.Eventually(t, func() bool {
		return h.ConnectionCount() == 0
	}, time.Second, 5*time.Millisecond)

	assert.False(t, h.RobotConnected("bot_1"))
	assert.ErrorIs(t, h.SendToRobot("bot_1", []byte("x")), ErrRobotNotConnected)

	// Send is closed on unregister.
	_, open := <-uplink.Send
	assert.False(t, open)
}

func TestHubRebindReplacesUplink(t *testing.T) {
	h := startHub(t)

	old := register(t, h, TopicRobot)
	h.BindRobot(old, "bot_1")
	fresh := h.NewConnection(nil, TopicRobot)
	h.Register(fresh)
	require.Eventually(t, func() bool {
		return h.ConnectionCount() == 2
	}, time.Second, 5*time.Millisecond)
	h.BindRobot(fresh, "bot_1")

	require.NoError(t, h.SendToRobot("bot_1", []byte("ping")))
	select {
	case <-fresh.Send:
	case <-time.After(time.Second):
		t.Fatal("fresh uplink did not receive dispatch")
	}
	select {
	case <-old.Send:
		t.Fatal("stale uplink received dispatch after rebind")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSendBufferFull(t *testing.T) {
	h := startHub(t)
	conn := register(t, h, TopicFleet)

	for i := 0; i < cap(conn.Send); i++ {
		require.NoError(t, h.SendToConnection(conn, []byte("x")))
	}
	assert.ErrorIs(t, h.SendToConnection(conn, []byte("overflow")), ErrBufferFull)
}
