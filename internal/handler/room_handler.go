/*
Package handler provides HTTP handler functions for room creation and the demo room.
*/
package handler

import (
	"net/http"

	"viewsync/internal/pkg/errs"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/randx"
	"viewsync/internal/pkg/resp"
)

// HandleCreateRoom mints a fresh room id. Rooms themselves come into existence when the
// first viewer joins.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := randx.RoomID()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		logx.Info("Room id issued", "room_id", roomID)

		resp.RespondSuccess(w, r, map[string]any{
			"roomId": roomID,
		})
	}
}

// HandleDemoKeepalive marks the demo room as watched so its bots keep moving.
func HandleDemoKeepalive(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Demo.Keepalive()

		resp.RespondSuccess(w, r, map[string]any{
			"roomId":   deps.Demo.RoomID(),
			"windowMs": deps.Config.DemoKeepaliveWindow.Milliseconds(),
		})
	}
}
