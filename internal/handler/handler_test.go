package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/app/demo"
	"viewsync/internal/app/event"
	"viewsync/internal/app/relay"
	"viewsync/internal/app/room"
	"viewsync/internal/app/roomfile"
	"viewsync/internal/app/storage"
	"viewsync/internal/configs"
	"viewsync/internal/pkg/errs"
	"viewsync/internal/pkg/resp"
)

type testServer struct {
	*httptest.Server
	deps *AppDeps
}

func newTestServer(t *testing.T, relayKey string) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &configs.AppConfig{
		Environment:         "development",
		MaxUploadMB:         1,
		RelayAppKey:         relayKey,
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

	deps := &AppDeps{Config: cfg, Hub: hub, Files: files, Assets: assets}

	if relayKey != "" {
		broker := relay.NewBroker()
		go broker.Run()
		t.Cleanup(broker.Stop)
		deps.Broker = broker
	}
	deps.Demo = demo.NewBroadcaster(cfg.DemoRoomID, cfg.DemoKeepaliveWindow, cfg.DemoTick, hub)

	srv := httptest.NewServer(Router(ctx, deps))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, deps: deps}
}

func (s *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, res *http.Response) envelope {
	t.Helper()
	defer res.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return env
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return res
}

func uploadFile(t *testing.T, url, roomID, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if roomID != "" {
		require.NoError(t, mw.WriteField("roomId", roomID))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	res, err := http.Post(url+"/api/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return res
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, name, channel string, data any) {
	t.Helper()
	msg, err := event.Encode(name, channel, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, msg))
}

func readFrame(t *testing.T, ws *websocket.Conn) event.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := event.Decode(msg)
	require.NoError(t, err)
	return f
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	env := decodeEnvelope(t, res)
	assert.Equal(t, 0, env.Code)
	assert.JSONEq(t, `{"status":"ok","service":"viewsync","relay":false}`, string(env.Data))
}

func TestCreateRoom(t *testing.T) {
	srv := newTestServer(t, "")

	res, err := http.Post(srv.URL+"/api/rooms", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var data struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res).Data, &data))
	assert.Len(t, data.RoomID, 10)
}

func TestRoomFile_Errors(t *testing.T) {
	srv := newTestServer(t, "")

	res, err := http.Get(srv.URL + "/api/room-file")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	env := decodeEnvelope(t, res)
	assert.Equal(t, errs.ErrRoomIDRequired, env.Code)
	assert.Equal(t, "roomId required", env.Message)

	res, err = http.Get(srv.URL + "/api/room-file?roomId=r3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, errs.ErrRoomFileNotFound, decodeEnvelope(t, res).Code)
}

func TestUploadLookupDownload(t *testing.T) {
	srv := newTestServer(t, "")

	res := uploadFile(t, srv.URL, "r2", "My House.ifc", "ISO-10303-21;")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var uploaded event.FileUploadedPayload
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res).Data, &uploaded))
	assert.Equal(t, "My House.ifc", uploaded.Filename)
	assert.True(t, strings.HasPrefix(uploaded.FileURL, "/api/file/r2/"))
	assert.True(t, strings.HasSuffix(uploaded.FileURL, "-My_House.ifc"))

	res, err := http.Get(srv.URL + "/api/room-file?roomId=r2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var current event.FileUploadedPayload
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res).Data, &current))
	assert.Equal(t, uploaded, current)

	res, err = http.Get(srv.URL + uploaded.FileURL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "ISO-10303-21;", string(body))

	res, err = http.Get(srv.URL + "/api/file/r2/1-missing.ifc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestUpload_DefaultRoomAndErrors(t *testing.T) {
	srv := newTestServer(t, "")

	res := uploadFile(t, srv.URL, "", "a.glb", "x")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var uploaded event.FileUploadedPayload
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res).Data, &uploaded))
	assert.True(t, strings.HasPrefix(uploaded.FileURL, "/api/file/"+roomfile.DefaultRoomID+"/"))

	res = uploadFile(t, srv.URL, "r1", "", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, errs.ErrNoFileUploaded, decodeEnvelope(t, res).Code)

	res = uploadFile(t, srv.URL, "../etc", "a.ifc", "x")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, errs.ErrInvalidParams, decodeEnvelope(t, res).Code)
}

func TestRelayTrigger_Disabled(t *testing.T) {
	srv := newTestServer(t, "")

	res := postJSON(t, srv.URL+"/api/relay/trigger", TriggerInput{
		Channel: "room-r1", Event: event.ChatMessageSent, Data: json.RawMessage(`{}`),
	})
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, errs.ErrRelayUnavailable, decodeEnvelope(t, res).Code)

	res, err := http.Get(srv.URL + "/relay/ws?key=k")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestRelayTrigger_Validation(t *testing.T) {
	srv := newTestServer(t, "k")

	cases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing channel", map[string]any{"event": "chat-message", "data": map[string]any{}}, errs.ErrPublishFieldsMissing},
		{"missing event", map[string]any{"channel": "room-r1", "data": map[string]any{}}, errs.ErrPublishFieldsMissing},
		{"null data", map[string]any{"channel": "room-r1", "event": "chat-message", "data": nil}, errs.ErrPublishFieldsMissing},
		{"server event", map[string]any{"channel": "room-r1", "event": "file-uploaded", "data": map[string]any{}}, errs.ErrEventNotAllowed},
		{"unknown field", map[string]any{"channel": "room-r1", "event": "chat-message", "data": 1, "extra": true}, errs.ErrInvalidJSONFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(t, srv.URL+"/api/relay/trigger", tc.body)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, tc.code, decodeEnvelope(t, res).Code)
		})
	}
}

func TestRelay_StreamReceivesOwnTrigger(t *testing.T) {
	srv := newTestServer(t, "k")

	_, res, err := websocket.DefaultDialer.Dial(srv.wsURL("/relay/ws?key=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	ws := dial(t, srv.wsURL("/relay/ws?key=k"))
	send(t, ws, event.Subscribe, "room-r1", nil)
	require.Eventually(t, func() bool {
		return srv.deps.Broker.Subscribers("room-r1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload := event.UserJoinedPayload{SenderID: "u1", Name: "Ada", Color: "#ef4444"}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	res = postJSON(t, srv.URL+"/api/relay/trigger", TriggerInput{
		Channel: "room-r1", Event: event.UserJoined, Data: raw,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true}`, string(decodeEnvelope(t, res).Data))

	f := readFrame(t, ws)
	assert.Equal(t, event.UserJoined, f.Event)
	assert.Equal(t, "room-r1", f.Channel)
	assert.JSONEq(t, string(raw), string(f.Data))
}

func TestRelayTrigger_OversizedEventKeepsStreamsOpen(t *testing.T) {
	srv := newTestServer(t, "k")

	ws := dial(t, srv.wsURL("/relay/ws?key=k"))
	send(t, ws, event.Subscribe, "room-r1", nil)
	require.Eventually(t, func() bool {
		return srv.deps.Broker.Subscribers("room-r1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	big, err := json.Marshal(event.ChatMessage{ID: "m1", Kind: event.KindChat, Text: strings.Repeat("x", 20000)})
	require.NoError(t, err)

	res := postJSON(t, srv.URL+"/api/relay/trigger", TriggerInput{
		Channel: "room-r1", Event: event.ChatMessageSent, Data: big,
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	assert.Equal(t, errs.ErrEventPayloadTooLarge, decodeEnvelope(t, res).Code)

	small := json.RawMessage(`{"senderId":"u1"}`)
	res = postJSON(t, srv.URL+"/api/relay/trigger", TriggerInput{
		Channel: "room-r1", Event: event.UserLeft, Data: small,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	f := readFrame(t, ws)
	assert.Equal(t, event.UserLeft, f.Event)
	assert.Equal(t, 1, srv.deps.Broker.Subscribers("room-r1"))
}

func TestSocketRooms_RoundTrip(t *testing.T) {
	srv := newTestServer(t, "")
	hub := srv.deps.Hub

	a := dial(t, srv.wsURL("/ws"))
	b := dial(t, srv.wsURL("/ws"))

	send(t, a, event.JoinRoom, "room-r1", event.JoinRoomPayload{UserID: "user-a"})
	send(t, b, event.JoinRoom, "room-r1", event.JoinRoomPayload{UserID: "user-b"})
	require.Eventually(t, func() bool { return hub.Occupancy("room-r1") == 2 }, 2*time.Second, 10*time.Millisecond)

	pointer := event.PointerUpdatePayload{
		SenderID: "user-a",
		Pointer:  event.PointerPayload{Position: [3]float64{1, 2, 3}, Direction: [3]float64{0, 0, -1}, Color: "#fff", Label: "A"},
	}
	send(t, a, event.PointerUpdate, "room-r1", pointer)

	f := readFrame(t, b)
	assert.Equal(t, event.PointerUpdate, f.Event)
	var got event.PointerUpdatePayload
	require.NoError(t, json.Unmarshal(f.Data, &got))
	assert.Equal(t, pointer, got)

	// An upload reaches every member, the uploader's peers included.
	res := uploadFile(t, srv.URL, "r1", "model.ifc", "data")
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	f = readFrame(t, b)
	assert.Equal(t, event.FileUploaded, f.Event)
	f = readFrame(t, a)
	assert.Equal(t, event.FileUploaded, f.Event)

	require.NoError(t, a.Close())

	f = readFrame(t, b)
	assert.Equal(t, event.UserDisconnected, f.Event)
	var gone event.UserDisconnectedPayload
	require.NoError(t, json.Unmarshal(f.Data, &gone))
	assert.Equal(t, "user-a", gone.ID)

	require.Eventually(t, func() bool { return hub.Occupancy("room-r1") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSocketRooms_JoinPushesCurrentFile(t *testing.T) {
	srv := newTestServer(t, "")

	res := uploadFile(t, srv.URL, "r2", "model.ifc", "data")
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	ws := dial(t, srv.wsURL("/ws"))
	send(t, ws, event.JoinRoom, "room-r2", event.JoinRoomPayload{UserID: "late"})

	f := readFrame(t, ws)
	assert.Equal(t, event.FileUploaded, f.Event)
	var p event.FileUploadedPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, "model.ifc", p.Filename)
}

func TestDemoKeepalive(t *testing.T) {
	srv := newTestServer(t, "")
	assert.False(t, srv.deps.Demo.Active(time.Now()))

	res, err := http.Post(srv.URL+"/api/demo/keepalive", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"roomId":"demo","windowMs":15000}`, string(decodeEnvelope(t, res).Data))

	assert.True(t, srv.deps.Demo.Active(time.Now()))
}

func TestEnvelopeShape(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp.RespondError(rec, req, errs.NewError(errs.ErrRoomFileNotFound))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":2102,"message":"No file found for this room."}`, rec.Body.String())
}
