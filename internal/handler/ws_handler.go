/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains HandleWebSocket, which upgrades a viewer's connection and hands it to
the socket-room hub. Room membership is not decided here: the client sends join-room and
leave-room frames over the open connection.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"viewsync/internal/app/conn"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/randx"
)

// HandleWebSocket creates an HTTP HandlerFunc for socket-room connections.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		c := conn.New(randx.UUID(), ws, "SocketConn")
		member := deps.Hub.NewMember(c, c.ID)

		go c.WritePump()

		c.Logger().Info().Msg("Socket-room connection established.")

		c.ReadPump(
			func(msg []byte) { deps.Hub.HandleFrame(member, msg) },
			func() { deps.Hub.Disconnect(member) },
		)
	}
}
