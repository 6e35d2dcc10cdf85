/*
Package demo animates the public demo room.

Two scripted visitors move their cameras around the model so a first-time viewer sees
presence working without a second browser. Their pose is a pure function of wall-clock
time and a per-bot offset, so every server replica and every restart produces the same
motion. The Broadcaster publishes that motion only while someone is actually watching.
*/
package demo

import (
	"math"
	"time"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/vec"
)

// segmentMillis is the length of one motion segment. Each segment is either idle (the bot
// holds the pose it had at the segment start) or moving.
const segmentMillis = 8000

// idleShare is the fraction of segments a bot spends standing still.
const idleShare = 0.65

// Bot is a scripted demo-room visitor.
type Bot struct {
	ID     string
	Label  string
	Color  string
	Offset float64
}

// Bots are the demo room's fixed visitors.
var Bots = []Bot{
	{ID: "fake-1", Label: "Client", Color: "#22d3ee", Offset: 0},
	{ID: "fake-2", Label: "Architect", Color: "#a855f7", Offset: 100},
}

// pseudoRandom maps seed to a deterministic value in [0, 1).
func pseudoRandom(seed float64) float64 {
	x := math.Sin(seed*12.9898) * 43758.5453
	return x - math.Floor(x)
}

// phase reports whether the bot idles at timeMs and when the current segment started.
func (b Bot) phase(timeMs int64) (idle bool, segmentStart int64) {
	shifted := float64(timeMs) + b.Offset*500
	index := math.Floor(shifted / segmentMillis)
	idle = pseudoRandom(index+b.Offset*0.13) < idleShare
	return idle, int64(index) * segmentMillis
}

// effectiveSeconds freezes the clock at the segment start while idle.
func (b Bot) effectiveSeconds(at time.Time) float64 {
	ms := at.UnixMilli()
	if idle, start := b.phase(ms); idle {
		ms = start
	}
	return float64(ms) * 0.001
}

// Position returns the bot's camera position at the given time.
func (b Bot) Position(at time.Time) vec.Vec3 {
	t, o := b.effectiveSeconds(at), b.Offset

	return vec.Vec3{
		math.Sin(t+o)*18 + math.Cos(t*0.7+o*0.3)*7 + math.Sin(t*1.3+o*0.5)*3,
		8 + math.Sin(t*1.1+o)*6 + math.Cos(t*0.4+o*0.2)*2,
		math.Cos(t+o*0.8)*18 + math.Sin(t*0.9+o*0.6)*7,
	}
}

// Direction returns the bot's unit look direction: roughly toward the origin, with a
// slow wobble.
func (b Bot) Direction(at time.Time) vec.Vec3 {
	t, o := b.effectiveSeconds(at), b.Offset

	d := vec.Vec3{
		-math.Sin(t+o*0.5) + math.Sin(t*1.7+o)*0.3,
		-0.4 + math.Sin(t*0.9+o)*0.2,
		-math.Cos(t+o*0.5) + math.Cos(t*1.3+o)*0.3,
	}
	if d.LenSq() == 0 {
		return vec.Forward
	}
	return d.Normalize()
}

// Pointer returns the bot's full pointer payload at the given time.
func (b Bot) Pointer(at time.Time) event.PointerPayload {
	return event.PointerPayload{
		Position:  b.Position(at),
		Direction: b.Direction(at),
		Color:     b.Color,
		Label:     b.Label,
	}
}
