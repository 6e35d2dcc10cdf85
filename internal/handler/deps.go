package handler

import (
	"viewsync/internal/app/demo"
	"viewsync/internal/app/relay"
	"viewsync/internal/app/room"
	"viewsync/internal/app/roomfile"
	"viewsync/internal/app/storage"
	"viewsync/internal/configs"
	"viewsync/internal/pkg/logx"
)

// AppDeps carries the services the HTTP handlers operate on.
type AppDeps struct {
	Config *configs.AppConfig

	// Hub is the socket-room registry behind /ws.
	Hub *room.Hub

	// Broker is the relay subscription fan-out. Nil when no relay key is configured.
	Broker *relay.Broker

	Files  roomfile.Registry
	Assets storage.AssetStore

	// Demo animates the demo room. Nil disables the keepalive route.
	Demo *demo.Broadcaster
}

// publishRoom announces a server-originated event on every configured transport.
func (d *AppDeps) publishRoom(roomID, name string, data any) {
	if err := d.Hub.PublishRoom(roomID, name, data); err != nil {
		logx.Warn("Socket-room publish failed.", "room_id", roomID, "event", name, "error", err.Error())
	}

	if d.Broker == nil {
		return
	}
	if err := d.Broker.PublishRoom(roomID, name, data); err != nil {
		logx.Warn("Relay publish failed.", "room_id", roomID, "event", name, "error", err.Error())
	}
}
