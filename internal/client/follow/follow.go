/*
Package follow drives the local camera along another user's reported pose.

The Controller is either idle or following one target user. While following, every Tick
moves an internally smoothed position and direction toward the target's last reported
pointer and hands the result to the Camera. Position and direction blend independently
with frame-rate independent factors 1 - exp(-rate*dt), and the look-at point is derived
from the smoothed position, never from the raw target.
*/
package follow

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/vec"
)

// Camera is the view being driven.
type Camera interface {
	Position() vec.Vec3
	Direction() vec.Vec3
	SetPosition(p vec.Vec3)
	LookAt(target vec.Vec3)
}

// PointerSource supplies peers' latest poses. *presence.Reconciler is one.
type PointerSource interface {
	Pointer(userID string) (event.PointerPayload, bool)
	Pointers() map[string]event.PointerPayload
}

// Input is a local user interaction on the view surface.
type Input int

const (
	InputPointerDown Input = iota + 1
	InputWheel
)

// Config tunes the smoothing.
type Config struct {
	// PositionRate and DirectionRate are blend rates per second.
	PositionRate  float64
	DirectionRate float64

	// SnapEpsilon is the distance below which the smoothed value jumps to the target.
	SnapEpsilon float64

	// LookDistance places the look-at point along the smoothed direction.
	LookDistance float64
}

func DefaultConfig() Config {
	return Config{
		PositionRate:  4,
		DirectionRate: 6,
		SnapEpsilon:   1e-3,
		LookDistance:  10,
	}
}

// Controller is the follow state machine.
type Controller struct {
	cam Camera
	src PointerSource
	cfg Config

	mu        sync.Mutex
	following bool
	target    string
	pos       vec.Vec3
	dir       vec.Vec3
	onExit    func(userID string)
}

// New returns an idle controller. Zero fields in cfg take their defaults.
func New(cam Camera, src PointerSource, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.PositionRate <= 0 {
		cfg.PositionRate = def.PositionRate
	}
	if cfg.DirectionRate <= 0 {
		cfg.DirectionRate = def.DirectionRate
	}
	if cfg.SnapEpsilon <= 0 {
		cfg.SnapEpsilon = def.SnapEpsilon
	}
	if cfg.LookDistance <= 0 {
		cfg.LookDistance = def.LookDistance
	}
	return &Controller{cam: cam, src: src, cfg: cfg}
}

// OnExit registers fn to run when user input ends following.
func (c *Controller) OnExit(fn func(userID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExit = fn
}

// Follow starts following userID from the camera's current pose.
func (c *Controller) Follow(userID string) {
	pos := c.cam.Position()
	dir := c.cam.Direction().Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.following = true
	c.target = userID
	c.pos = pos
	c.dir = dir
	logx.Debug("Following user", "user_id", userID)
}

// FollowByName follows the peer whose label equals name, falling back to a
// case-insensitive match. Ties resolve to the smallest user id.
func (c *Controller) FollowByName(name string) (string, bool) {
	peers := c.src.Pointers()
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	match := func(eq func(a, b string) bool) (string, bool) {
		for _, id := range ids {
			if eq(peers[id].Label, name) {
				return id, true
			}
		}
		return "", false
	}

	id, ok := match(func(a, b string) bool { return a == b })
	if !ok {
		id, ok = match(strings.EqualFold)
	}
	if !ok {
		return "", false
	}

	c.Follow(id)
	return id, true
}

// Target returns the followed user.
func (c *Controller) Target() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, c.following
}

func (c *Controller) Following() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.following
}

// Stop returns to idle without running the exit callback.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.following = false
	c.target = ""
}

// HandleInput ends following on pointer-down or wheel input and runs the exit callback.
func (c *Controller) HandleInput(in Input) {
	if in != InputPointerDown && in != InputWheel {
		return
	}

	c.mu.Lock()
	if !c.following {
		c.mu.Unlock()
		return
	}
	target := c.target
	c.following = false
	c.target = ""
	onExit := c.onExit
	c.mu.Unlock()

	if onExit != nil {
		onExit(target)
	}
}

// Blend returns the fraction of the remaining distance covered in dt at rate.
func Blend(rate float64, dt time.Duration) float64 {
	return 1 - math.Exp(-rate*dt.Seconds())
}

// Tick advances the smoothing by dt and drives the camera. It does nothing when idle or
// when the target has no known pose.
func (c *Controller) Tick(dt time.Duration) {
	if dt <= 0 {
		return
	}

	c.mu.Lock()
	if !c.following {
		c.mu.Unlock()
		return
	}
	target := c.target
	c.mu.Unlock()

	p, ok := c.src.Pointer(target)
	if !ok || !p.Position.IsFinite() || !p.Direction.IsFinite() {
		return
	}
	wantDir := p.Direction.Normalize()

	c.mu.Lock()
	if !c.following || c.target != target {
		c.mu.Unlock()
		return
	}

	eps := c.cfg.SnapEpsilon
	c.pos = c.pos.Lerp(p.Position, Blend(c.cfg.PositionRate, dt))
	if c.pos.DistSq(p.Position) < eps*eps {
		c.pos = p.Position
	}
	switch {
	case wantDir.LenSq() == 0:
	case c.dir.LenSq() == 0:
		c.dir = wantDir
	default:
		c.dir = c.dir.Slerp(wantDir, Blend(c.cfg.DirectionRate, dt)).Normalize()
		if c.dir.DistSq(wantDir) < eps*eps {
			c.dir = wantDir
		}
	}

	pos := c.pos
	look := pos.Add(c.dir.Scale(c.cfg.LookDistance))
	c.mu.Unlock()

	c.cam.SetPosition(pos)
	c.cam.LookAt(look)
}
