package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixflow/internal/license"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func TestHubBroadcastsSnapshots(t *testing.T) {
	hub := NewHub(nil, nil)
	conn := dialHub(t, hub)

	hub.Broadcast(&license.Snapshot{Status: license.StatusValid, Tier: "Pro"})

	event := readEvent(t, conn)
	assert.Equal(t, "license_status", event.Type)
	require.NotNil(t, event.Snapshot)
	assert.Equal(t, license.StatusValid, event.Snapshot.Status)
	assert.Equal(t, "Pro", event.Snapshot.Tier)
}

func TestHubSendsLastSnapshotToNewClients(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Broadcast(&license.Snapshot{Status: license.StatusGracePeriod})

	conn := dialHub(t, hub)
	event := readEvent(t, conn)
	assert.Equal(t, license.StatusGracePeriod, event.Snapshot.Status)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil, nil)
	conn := dialHub(t, hub)

	require.NoError(t, hub.Close(context.Background()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
