package presence

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/app/event"
	"viewsync/internal/app/relay"
	"viewsync/internal/app/room"
	"viewsync/internal/app/roomfile"
	"viewsync/internal/app/storage"
	"viewsync/internal/client/identity"
	relaytransport "viewsync/internal/client/transport/relay"
	"viewsync/internal/client/transport/socket"
	"viewsync/internal/configs"
	"viewsync/internal/handler"
	"viewsync/internal/pkg/vec"
)

const (
	testRelayKey = "test-key"
	waitFor      = 3 * time.Second
	tick         = 10 * time.Millisecond
)

type server struct {
	*httptest.Server
	hub    *room.Hub
	broker *relay.Broker
}

func startServer(t *testing.T) *server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &configs.AppConfig{
		Environment:         "development",
		MaxUploadMB:         1,
		RelayAppKey:         testRelayKey,
		DemoRoomID:          "demo",
		DemoKeepaliveWindow: 15 * time.Second,
		DemoTick:            time.Hour,
	}

	assets, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	files, err := roomfile.NewAuthoritative(ctx, nil, assets)
	require.NoError(t, err)

	hub := room.NewHub(roomfile.HubFiles{Registry: files})
	go hub.Run()
	t.Cleanup(hub.Stop)

	broker := relay.NewBroker()
	go broker.Run()
	t.Cleanup(broker.Stop)

	srv := httptest.NewServer(handler.Router(ctx, &handler.AppDeps{
		Config: cfg,
		Hub:    hub,
		Broker: broker,
		Files:  files,
		Assets: assets,
	}))
	t.Cleanup(srv.Close)

	return &server{Server: srv, hub: hub, broker: broker}
}

func fastBackoff() retry.Backoff {
	return retry.NewConstant(20 * time.Millisecond)
}

func (s *server) socketClient(t *testing.T, id *identity.UserIdentity) (*Reconciler, *socket.Transport) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	tr, err := socket.Dial(context.Background(), url, id.ID, socket.WithBackoff(fastBackoff))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	r := New(tr)
	r.SetIdentity(id)
	return r, tr
}

func (s *server) relayClient(t *testing.T, id *identity.UserIdentity) (*Reconciler, *relaytransport.Transport) {
	t.Helper()
	tr := relaytransport.New(s.URL, testRelayKey, relaytransport.WithBackoff(fastBackoff))
	t.Cleanup(func() { _ = tr.Close() })

	r := New(tr)
	r.SetIdentity(id)
	return r, tr
}

func hasChat(r *Reconciler, text string) bool {
	for _, m := range r.Messages() {
		if m.Kind == event.KindChat && m.Text == text {
			return true
		}
	}
	return false
}

func TestSocket_PointerAndSelectionScenarios(t *testing.T) {
	s := startServer(t)
	a, _ := s.socketClient(t, alice)
	b, _ := s.socketClient(t, bob)

	require.NoError(t, a.Join(context.Background(), "r1"))
	require.NoError(t, b.Join(context.Background(), "r1"))
	require.Eventually(t, func() bool { return s.hub.Occupancy(event.ChannelName("r1")) == 2 }, waitFor, tick)

	a.UpdatePosition(vec.Vec3{1, 2, 3}, vec.Vec3{0, 0, -1})
	require.Eventually(t, func() bool {
		p, ok := b.Pointer("a")
		return ok && p.Position == vec.Vec3{1, 2, 3}
	}, waitFor, tick)
	assert.NotContains(t, b.Pointers(), "b")

	a.UpdateSelection(intPtr(42))
	sel, ok := a.Selections()["a"]
	require.True(t, ok, "local selection is written before the round trip")
	assert.Equal(t, 42, *sel.ExpressID)

	require.Eventually(t, func() bool {
		sel, ok := b.Selections()["a"]
		return ok && sel.ExpressID != nil && *sel.ExpressID == 42 && sel.Color == "#111"
	}, waitFor, tick)
}

func TestSocket_DisconnectRemovesPeer(t *testing.T) {
	s := startServer(t)
	a, _ := s.socketClient(t, alice)
	b, bt := s.socketClient(t, bob)

	require.NoError(t, a.Join(context.Background(), "r1"))
	require.NoError(t, b.Join(context.Background(), "r1"))
	require.Eventually(t, func() bool { return s.hub.Occupancy(event.ChannelName("r1")) == 2 }, waitFor, tick)

	b.UpdatePosition(vec.Vec3{4, 0, 0}, vec.Forward)
	require.Eventually(t, func() bool { _, ok := a.Pointer("b"); return ok }, waitFor, tick)

	// Closing without a leave announcement: the hub reports the disconnect.
	require.NoError(t, bt.Close())
	require.Eventually(t, func() bool { _, ok := a.Pointer("b"); return !ok }, waitFor, tick)
	assert.Equal(t, 1, s.hub.Occupancy(event.ChannelName("r1")))
}

func TestSocket_ReconnectClearsAndRejoins(t *testing.T) {
	s := startServer(t)
	a, at := s.socketClient(t, alice)
	b, _ := s.socketClient(t, bob)

	require.NoError(t, a.Join(context.Background(), "r1"))
	require.NoError(t, b.Join(context.Background(), "r1"))
	require.Eventually(t, func() bool { return s.hub.Occupancy(event.ChannelName("r1")) == 2 }, waitFor, tick)

	b.UpdatePosition(vec.Vec3{1, 0, 0}, vec.Forward)
	require.Eventually(t, func() bool { return len(a.Pointers()) == 1 }, waitFor, tick)

	at.Drop()
	require.Eventually(t, func() bool { return len(a.Pointers()) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return s.hub.Occupancy(event.ChannelName("r1")) == 2 }, waitFor, tick)

	b.UpdatePosition(vec.Vec3{2, 0, 0}, vec.Forward)
	require.Eventually(t, func() bool {
		p, ok := a.Pointer("b")
		return ok && p.Position == vec.Vec3{2, 0, 0}
	}, waitFor, tick)
}

func TestSocket_LeaveAnnouncesAndEmptiesRoom(t *testing.T) {
	s := startServer(t)
	a, _ := s.socketClient(t, alice)
	b, _ := s.socketClient(t, bob)

	require.NoError(t, a.Join(context.Background(), "r1"))
	require.NoError(t, b.Join(context.Background(), "r1"))
	require.Eventually(t, func() bool { return s.hub.Occupancy(event.ChannelName("r1")) == 2 }, waitFor, tick)

	a.UpdatePosition(vec.Vec3{1, 0, 0}, vec.Forward)
	require.Eventually(t, func() bool { _, ok := b.Pointer("a"); return ok }, waitFor, tick)

	a.Leave()
	require.Eventually(t, func() bool { _, ok := b.Pointer("a"); return !ok }, waitFor, tick)
	require.Eventually(t, func() bool { return s.hub.Occupancy(event.ChannelName("r1")) == 1 }, waitFor, tick)

	msgs := b.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Alice left the room", msgs[len(msgs)-1].Text)
}

func TestRelay_PointerAndChat(t *testing.T) {
	s := startServer(t)
	a, _ := s.relayClient(t, alice)
	b, _ := s.relayClient(t, bob)

	require.NoError(t, a.Join(context.Background(), "r1"))
	require.NoError(t, b.Join(context.Background(), "r1"))
	require.Eventually(t, func() bool { return s.broker.Subscribers(event.ChannelName("r1")) == 2 }, waitFor, tick)

	a.UpdatePosition(vec.Vec3{1, 2, 3}, vec.Forward)
	require.Eventually(t, func() bool {
		p, ok := b.Pointer("a")
		return ok && p.Position == vec.Vec3{1, 2, 3}
	}, waitFor, tick)

	// The relay echoes every publish to its sender; the self-filter keeps it out.
	b.UpdatePosition(vec.Vec3{9, 9, 9}, vec.Forward)
	require.Eventually(t, func() bool { _, ok := a.Pointer("b"); return ok }, waitFor, tick)
	assert.NotContains(t, a.Pointers(), "a")
	assert.NotContains(t, b.Pointers(), "b")

	a.SendChatMessage("hello")
	require.Eventually(t, func() bool {
		for _, m := range b.Messages() {
			if m.Kind == event.KindChat && m.Text == "hello" {
				return true
			}
		}
		return false
	}, waitFor, tick)

	// Alice's own echo was deduplicated.
	time.Sleep(50 * time.Millisecond)
	n := 0
	for _, m := range a.Messages() {
		if m.Text == "hello" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestRelay_WithoutKeyIsInert(t *testing.T) {
	s := startServer(t)
	tr := relaytransport.New(s.URL, "")
	t.Cleanup(func() { _ = tr.Close() })

	r := New(tr)
	r.SetIdentity(alice)
	require.NoError(t, r.Join(context.Background(), "r1"))

	r.UpdatePosition(vec.Vec3{1, 0, 0}, vec.Forward)
	r.SendChatMessage("nobody hears this")

	assert.Zero(t, s.broker.Subscribers(event.ChannelName("r1")))
	assert.False(t, tr.Enabled())
}

func TestOversizedChatKeepsRoomState(t *testing.T) {
	long := strings.Repeat("x", 20000)
	oversized := event.ChatMessage{ID: "long", Kind: event.KindChat, SenderID: "a", SenderName: "Alice", Text: long}
	channel := event.ChannelName("r1")

	check := func(t *testing.T, a, b *Reconciler, publish func() error) {
		a.UpdatePosition(vec.Vec3{1, 2, 3}, vec.Forward)
		require.Eventually(t, func() bool {
			p, ok := b.Pointer("a")
			return ok && p.Position == vec.Vec3{1, 2, 3}
		}, waitFor, tick)

		a.SendChatMessage(long)
		assert.False(t, hasChat(a, long), "over-long text is not logged locally")

		// A peer bypassing the reconciler is refused before anything reaches the room.
		require.Error(t, publish())

		a.SendChatMessage("still here")
		require.Eventually(t, func() bool { return hasChat(b, "still here") }, waitFor, tick)

		p, ok := b.Pointer("a")
		require.True(t, ok, "peer state survives the refused message")
		assert.Equal(t, vec.Vec3{1, 2, 3}, p.Position)
		assert.False(t, hasChat(b, long))
	}

	t.Run("socket", func(t *testing.T) {
		s := startServer(t)
		a, at := s.socketClient(t, alice)
		b, _ := s.socketClient(t, bob)

		require.NoError(t, a.Join(context.Background(), "r1"))
		require.NoError(t, b.Join(context.Background(), "r1"))
		require.Eventually(t, func() bool { return s.hub.Occupancy(channel) == 2 }, waitFor, tick)

		check(t, a, b, func() error {
			return at.Publish(context.Background(), channel, event.ChatMessageSent, oversized)
		})
		assert.Equal(t, 2, s.hub.Occupancy(channel))
	})

	t.Run("relay", func(t *testing.T) {
		s := startServer(t)
		a, at := s.relayClient(t, alice)
		b, _ := s.relayClient(t, bob)

		require.NoError(t, a.Join(context.Background(), "r1"))
		require.NoError(t, b.Join(context.Background(), "r1"))
		require.Eventually(t, func() bool { return s.broker.Subscribers(channel) == 2 }, waitFor, tick)

		check(t, a, b, func() error {
			return at.Publish(context.Background(), channel, event.ChatMessageSent, oversized)
		})
		assert.Equal(t, 2, s.broker.Subscribers(channel))
	})
}
