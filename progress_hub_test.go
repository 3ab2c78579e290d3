package main

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialProgress(t *testing.T, env *testEnv, subject string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/flow/progress/ws"
	header := http.Header{}
	header.Set("X-Subject", subject)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestProgressHubStreamsUpdates(t *testing.T) {
	env := newTestEnv(t)
	conn := dialProgress(t, env, "alice")

	// The dial can return before the hub has registered the connection, so
	// keep publishing until the subscriber sees an update.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(5 * time.Millisecond):
				env.state.hub.PublishProgress("alice", ProgressUpdate{Percent: 42, InFlight: true})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var update ProgressUpdate
	require.NoError(t, conn.ReadJSON(&update))
	require.Equal(t, 42, update.Percent)
	require.True(t, update.InFlight)
}

func TestProgressHubIsolatesSubjects(t *testing.T) {
	env := newTestEnv(t)
	conn := dialProgress(t, env, "bob")

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(5 * time.Millisecond):
				// Bob's subscriber must never see Alice's updates.
				env.state.hub.PublishProgress("alice", ProgressUpdate{Percent: 99, InFlight: true})
				env.state.hub.PublishProgress("bob", ProgressUpdate{Percent: 7, InFlight: true})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var update ProgressUpdate
	require.NoError(t, conn.ReadJSON(&update))
	require.Equal(t, 7, update.Percent)
}

func TestProgressHubRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/flow/progress/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProgressHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewProgressHub()
	// Publishing into the void must not block or panic.
	hub.PublishProgress("nobody", ProgressUpdate{Percent: 50, InFlight: true})
}
