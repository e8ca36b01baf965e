package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logger.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func registerTestClient(hub *Hub, class ClientClass, key string) *Client {
	client := &Client{hub: hub, class: class, key: key, send: make(chan []byte, 16)}
	hub.register <- client
	return client
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestBroadcastReachesClassOnly(t *testing.T) {
	hub := testHub(t)
	workspace := registerTestClient(hub, ClassWorkspace, "10.0.0.1:100")
	web := registerTestClient(hub, ClassWeb, "10.0.0.2")

	require.NoError(t, hub.Broadcast(ClassWorkspace, map[string]interface{}{"type": "job_insert"}))

	msg := receive(t, workspace)
	assert.Equal(t, "job_insert", msg["type"])

	select {
	case <-web.send:
		t.Fatal("web client received a workspace broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignalClientsForChangesExcludesOriginator(t *testing.T) {
	hub := testHub(t)
	originator := registerTestClient(hub, ClassSoftware, "station-1")
	other := registerTestClient(hub, ClassSoftware, "station-2")

	require.NoError(t, hub.SignalClientsForChanges("station-1", []string{"jobs", "workspace"}, ClassSoftware))

	msg := receive(t, other)
	assert.Equal(t, "download", msg["action"])
	assert.Equal(t, []interface{}{"jobs", "workspace"}, msg["files"])

	select {
	case <-originator.send:
		t.Fatal("originator received its own change signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterReplacesSameKey(t *testing.T) {
	hub := testHub(t)
	first := registerTestClient(hub, ClassSoftware, "station-1")
	second := registerTestClient(hub, ClassSoftware, "station-1")

	// The replaced client's channel is closed by the run loop.
	select {
	case _, ok := <-first.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected first client to be closed")
	}

	require.NoError(t, hub.Broadcast(ClassSoftware, map[string]interface{}{"type": "ping"}))
	msg := receive(t, second)
	assert.Equal(t, "ping", msg["type"])
}

func TestUnregisterRemovesClient(t *testing.T) {
	hub := testHub(t)
	client := registerTestClient(hub, ClassWorkspace, "10.0.0.1:100")
	hub.unregister <- client

	select {
	case _, ok := <-client.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected unregistered client to be closed")
	}
}

func TestBroadcastAfterStopFails(t *testing.T) {
	hub := NewHub(logger.NewNop())
	go hub.Run()
	hub.Stop()

	assert.Error(t, hub.Broadcast(ClassWeb, map[string]interface{}{"type": "noop"}))
}
