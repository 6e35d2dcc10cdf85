package demo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/logx"
)

// Publisher fans a server-originated event out to a room. Both the socket-room hub and the
// relay broker implement it.
type Publisher interface {
	PublishRoom(roomID, name string, data any) error
}

// Broadcaster publishes the bots' pointer-update events into the demo room. It stays quiet
// unless a keepalive arrived within the window, so an empty demo room costs nothing.
type Broadcaster struct {
	roomID     string
	window     time.Duration
	tick       time.Duration
	publishers []Publisher
	bots       []Bot

	// lastKeepalive holds the UnixNano time of the latest keepalive, 0 if none.
	lastKeepalive atomic.Int64

	now func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger zerolog.Logger
}

// NewBroadcaster creates a Broadcaster for roomID that publishes through every publisher.
func NewBroadcaster(roomID string, window, tick time.Duration, publishers ...Publisher) *Broadcaster {
	return &Broadcaster{
		roomID:     roomID,
		window:     window,
		tick:       tick,
		publishers: publishers,
		bots:       Bots,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		logger:     logx.Component("DemoBroadcaster").With().Str("room_id", roomID).Logger(),
	}
}

// RoomID returns the demo room's id.
func (b *Broadcaster) RoomID() string {
	return b.roomID
}

// Keepalive marks the demo room as watched for the next window.
func (b *Broadcaster) Keepalive() {
	if b.lastKeepalive.Swap(b.now().UnixNano()) == 0 {
		b.logger.Info().Msg("First demo keepalive received.")
	}
}

// Active reports whether a keepalive arrived within the window before now.
func (b *Broadcaster) Active(now time.Time) bool {
	last := b.lastKeepalive.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) <= b.window
}

// Start launches the tick loop.
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop ends the tick loop and waits for it to exit. It is safe to call more than once.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	b.wg.Wait()
}

func (b *Broadcaster) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	b.logger.Info().Dur("tick", b.tick).Dur("keepalive_window", b.window).Msg("Demo broadcaster started.")

	for {
		select {
		case <-ticker.C:
			b.Tick(b.now())
		case <-b.stopChan:
			b.logger.Info().Msg("Demo broadcaster stopped.")
			return
		}
	}
}

// Tick publishes one pointer-update per bot through every publisher if the room is
// watched at now, and returns the number of events handed to publishers.
func (b *Broadcaster) Tick(now time.Time) int {
	if !b.Active(now) {
		return 0
	}

	sent := 0
	for _, bot := range b.bots {
		payload := event.PointerUpdatePayload{SenderID: bot.ID, Pointer: bot.Pointer(now)}

		for _, p := range b.publishers {
			if err := p.PublishRoom(b.roomID, event.PointerUpdate, payload); err != nil {
				b.logger.Debug().Err(err).Str("bot", bot.Label).Msg("Demo pointer not published.")
				continue
			}
			sent++
		}
	}
	return sent
}
