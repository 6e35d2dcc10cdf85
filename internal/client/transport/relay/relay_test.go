package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_StreamURL(t *testing.T) {
	cases := []struct {
		base, want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/relay/ws?key=k+1"},
		{"https://example.com/", "wss://example.com/relay/ws?key=k+1"},
		{"https://example.com/viewsync", "wss://example.com/viewsync/relay/ws?key=k+1"},
	}
	for _, tc := range cases {
		t.Run(tc.base, func(t *testing.T) {
			got, err := New(tc.base, "k 1").streamURL()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransport_PublishPostsTrigger(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/relay/trigger", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &got))
		w.Write([]byte(`{"code":0,"message":"success","data":{"success":true}}`))
	}))
	defer srv.Close()

	tr := New(srv.URL, "key")
	require.NoError(t, tr.Publish(context.Background(), "room-r1", "chat-message", map[string]string{"text": "hi"}))

	assert.JSONEq(t, `"room-r1"`, string(got["channel"]))
	assert.JSONEq(t, `"chat-message"`, string(got["event"]))
	assert.JSONEq(t, `{"text":"hi"}`, string(got["data"]))
}

func TestTransport_PublishReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":3001,"message":"missing fields"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "key").Publish(context.Background(), "room-r1", "chat-message", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestTransport_WithoutKeyIsInert(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	tr := New(srv.URL, "")
	assert.False(t, tr.Enabled())

	sub, err := tr.Subscribe(context.Background(), "room-r1")
	require.NoError(t, err)
	require.NoError(t, tr.Publish(context.Background(), "room-r1", "pointer-update", struct{}{}))
	tr.Beacon("room-r1", "user-left", struct{}{})
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, tr.Close())

	assert.Zero(t, hits)
}

func TestTransport_BeaconCompletesBeforeClose(t *testing.T) {
	hits := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Event string `json:"event"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		hits <- body.Event
		w.Write([]byte(`{"code":0,"message":"success"}`))
	}))
	defer srv.Close()

	tr := New(srv.URL, "key")
	tr.Beacon("room-r1", "user-left", map[string]string{"senderId": "a"})
	require.NoError(t, tr.Close())

	select {
	case name := <-hits:
		assert.Equal(t, "user-left", name)
	default:
		t.Fatal("beacon not delivered before Close returned")
	}
}
