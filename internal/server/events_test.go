package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnira-ai/analogic/internal/server"
)

func TestEventHubRejectsUnknownOrigin(t *testing.T) {
	hub := server.NewEventHub([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEventHubAllowsConfiguredOrigin(t *testing.T) {
	hub := server.NewEventHub([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, req)

	// The upgrade fails on the recorder, but not on origin grounds.
	assert.NotEqual(t, http.StatusForbidden, rec.Code)
}

func TestEventHubWildcardOrigin(t *testing.T) {
	hub := server.NewEventHub([]string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	req.Header.Set("Origin", "http://anywhere.example.com")
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusForbidden, rec.Code)
}

func TestEventHubBroadcastDelivers(t *testing.T) {
	hub := server.NewEventHub([]string{"*"})
	go hub.Run()
	t.Cleanup(hub.Stop)

	mock := &server.MockSubscriber{SendChan: make(chan []byte, 4)}
	hub.Register(mock)

	hub.Broadcast(server.Event{
		Type: server.EventBackupCompleted,
		Data: map[string]interface{}{"tier": "primary"},
	})

	select {
	case raw := <-mock.SendChan:
		var event server.Event
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, server.EventBackupCompleted, event.Type)
		data, ok := event.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "primary", data["tier"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestEventHubStopClosesSubscribers(t *testing.T) {
	hub := server.NewEventHub([]string{"*"})
	go hub.Run()

	mock := &server.MockSubscriber{SendChan: make(chan []byte, 4)}
	hub.Register(mock)

	// Receiving a broadcast proves registration completed; the loop
	// handles both on the same goroutine.
	hub.Broadcast(server.Event{Type: server.EventMemoryDeleted})
	select {
	case <-mock.SendChan:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for registration")
	}

	hub.Stop()

	select {
	case _, ok := <-mock.SendChan:
		assert.False(t, ok, "send channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestStoreBroadcastsEvent(t *testing.T) {
	srv := newTestServer(t, nil)
	hub := srv.Events()
	go hub.Run()
	t.Cleanup(hub.Stop)

	mock := &server.MockSubscriber{SendChan: make(chan []byte, 4)}
	hub.Register(mock)

	storeMemory(t, srv, "user-1", "Broadcast this memory to subscribers")

	select {
	case raw := <-mock.SendChan:
		var event struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, server.EventMemoryStored, event.Type)
		assert.Equal(t, "user-1", event.Data["user_id"])
		assert.Equal(t, "stored", event.Data["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for memory_stored event")
	}
}
