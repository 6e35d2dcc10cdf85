package handler

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"viewsync/internal/app/conn"
	"viewsync/internal/app/event"
	"viewsync/internal/pkg/errs"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/randx"
	"viewsync/internal/pkg/req"
	"viewsync/internal/pkg/resp"
)

// TriggerInput is the body of a relay publish.
type TriggerInput struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// HandleRelayTrigger publishes one client event to every stream subscribed to its
// channel. It is stateless: nothing about the sender is remembered.
func HandleRelayTrigger(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Broker == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrRelayUnavailable))
			return
		}

		var input TriggerInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Channel == "" || input.Event == "" || isEmptyJSON(input.Data) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPublishFieldsMissing))
			return
		}

		if !event.IsPublishable(input.Event) {
			resp.RespondError(w, r, errs.NewError(errs.ErrEventNotAllowed, input.Event))
			return
		}

		if err := deps.Broker.Publish(input.Channel, input.Event, input.Data); err != nil {
			if errors.Is(err, event.ErrFrameTooLarge) {
				resp.RespondError(w, r, errs.NewError(errs.ErrEventPayloadTooLarge))
				return
			}
			logx.Error(err, "Relay trigger failed", "channel", input.Channel, "event", input.Event)
			resp.RespondError(w, r, errs.NewError(errs.ErrRelayPublishFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"success": true})
	}
}

// isEmptyJSON reports whether raw is absent or null.
func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// HandleRelayStream upgrades a relay subscription stream. The stream is receive-only apart
// from subscribe and unsubscribe frames.
func HandleRelayStream(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(deps.Config.RelayAppKey)) != 1 {
			logx.Warn("Relay stream rejected: unknown application key.")
			resp.RespondError(w, r, errs.NewError(errs.ErrRelayKeyInvalid))
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade relay stream")
			return
		}

		c := conn.New(randx.UUID(), ws, "RelayConn")
		sub := deps.Broker.NewSubscriber(c, c.ID)

		go c.WritePump()

		c.ReadPump(
			func(msg []byte) { deps.Broker.HandleFrame(sub, msg) },
			func() { deps.Broker.Remove(sub) },
		)
	}
}
