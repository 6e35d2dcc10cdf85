package follow

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewsync/internal/app/event"
	"viewsync/internal/pkg/vec"
)

type fakeCamera struct {
	pos, dir vec.Vec3
	lookAt   vec.Vec3
	moves    int
}

func (c *fakeCamera) Position() vec.Vec3  { return c.pos }
func (c *fakeCamera) Direction() vec.Vec3 { return c.dir }
func (c *fakeCamera) SetPosition(p vec.Vec3) {
	c.pos = p
	c.moves++
}
func (c *fakeCamera) LookAt(t vec.Vec3) {
	c.lookAt = t
	c.dir = t.Sub(c.pos).Normalize()
}

type fakeSource map[string]event.PointerPayload

func (s fakeSource) Pointer(id string) (event.PointerPayload, bool) {
	p, ok := s[id]
	return p, ok
}

func (s fakeSource) Pointers() map[string]event.PointerPayload { return s }

const frame = 16 * time.Millisecond

func TestController_ApproachesJumpingTargetMonotonically(t *testing.T) {
	cam := &fakeCamera{dir: vec.Forward}
	src := fakeSource{"b": {Position: vec.Vec3{0, 0, 0}, Direction: vec.Forward, Label: "Bob"}}
	c := New(cam, src, DefaultConfig())
	c.Follow("b")

	// The target jumps far away.
	target := vec.Vec3{100, 0, 0}
	src["b"] = event.PointerPayload{Position: target, Direction: vec.Vec3{1, 0, 0}, Label: "Bob"}

	prev := cam.pos.Dist(target)
	for i := range 30 {
		c.Tick(frame)
		d := cam.pos.Dist(target)
		assert.Less(t, d, prev, "tick %d", i)
		assert.Greater(t, d, 0.0, "no instant jump at tick %d", i)
		prev = d
	}
}

func TestController_SnapsWithinEpsilon(t *testing.T) {
	cam := &fakeCamera{pos: vec.Vec3{0, 0, 0}, dir: vec.Forward}
	src := fakeSource{"b": {Position: vec.Vec3{0.0005, 0, 0}, Direction: vec.Forward}}
	c := New(cam, src, DefaultConfig())
	c.Follow("b")

	c.Tick(frame)
	assert.Equal(t, vec.Vec3{0.0005, 0, 0}, cam.pos)
}

func TestController_ConvergesOverTime(t *testing.T) {
	cam := &fakeCamera{dir: vec.Forward}
	src := fakeSource{"b": {Position: vec.Vec3{10, 5, 0}, Direction: vec.Vec3{0, 1, 0}}}
	c := New(cam, src, DefaultConfig())
	c.Follow("b")

	for range 600 {
		c.Tick(frame)
	}
	assert.Equal(t, vec.Vec3{10, 5, 0}, cam.pos)
	assert.InDelta(t, 0, cam.dir.Dist(vec.Vec3{0, 1, 0}), 1e-9)
	assert.InDelta(t, 0, cam.lookAt.Dist(vec.Vec3{10, 15, 0}), 1e-9)
}

func TestController_FrameRateIndependent(t *testing.T) {
	run := func(dt time.Duration, ticks int) vec.Vec3 {
		cam := &fakeCamera{dir: vec.Forward}
		src := fakeSource{"b": {Position: vec.Vec3{10, 0, 0}, Direction: vec.Forward}}
		c := New(cam, src, DefaultConfig())
		c.Follow("b")
		for range ticks {
			c.Tick(dt)
		}
		return cam.pos
	}

	fast := run(10*time.Millisecond, 50)
	slow := run(50*time.Millisecond, 10)
	assert.InDelta(t, fast[0], slow[0], 1e-9)
}

func TestController_TurnsTowardOppositeDirection(t *testing.T) {
	back := vec.Vec3{0, 0, 1}
	cam := &fakeCamera{dir: vec.Forward}
	src := fakeSource{"b": {Position: vec.Zero, Direction: back}}
	c := New(cam, src, DefaultConfig())
	c.Follow("b")

	angle := func() float64 {
		return math.Acos(math.Max(-1, math.Min(1, cam.dir.Dot(back))))
	}

	prev := math.Pi
	for i := range 12 {
		c.Tick(frame)
		a := angle()
		assert.Less(t, a, prev, "tick %d", i)
		assert.InDelta(t, 1, cam.dir.Len(), 1e-9, "tick %d", i)
		prev = a
	}

	for range 600 {
		c.Tick(frame)
	}
	assert.InDelta(t, 0, cam.dir.Dist(back), 1e-9)
}

func TestController_LookAtUsesSmoothedPosition(t *testing.T) {
	cam := &fakeCamera{dir: vec.Forward}
	src := fakeSource{"b": {Position: vec.Vec3{100, 0, 0}, Direction: vec.Forward}}
	c := New(cam, src, Config{LookDistance: 10})
	c.Follow("b")

	c.Tick(frame)
	assert.InDelta(t, 10, cam.lookAt.Dist(cam.pos), 1e-9)
}

func TestController_TargetDisappears(t *testing.T) {
	cam := &fakeCamera{dir: vec.Forward}
	src := fakeSource{}
	c := New(cam, src, DefaultConfig())
	c.Follow("ghost")

	c.Tick(frame)
	assert.Zero(t, cam.moves)
	assert.True(t, c.Following())
}

func TestController_FollowByName(t *testing.T) {
	src := fakeSource{
		"x": {Label: "alice"},
		"y": {Label: "Alice"},
		"z": {Label: "Bob"},
	}
	c := New(&fakeCamera{}, src, DefaultConfig())

	id, ok := c.FollowByName("Alice")
	require.True(t, ok)
	assert.Equal(t, "y", id, "exact match wins")

	id, ok = c.FollowByName("BOB")
	require.True(t, ok)
	assert.Equal(t, "z", id)

	target, following := c.Target()
	assert.True(t, following)
	assert.Equal(t, "z", target)

	_, ok = c.FollowByName("Carol")
	assert.False(t, ok)
	target, _ = c.Target()
	assert.Equal(t, "z", target, "a miss keeps the current target")
}

func TestController_InputExits(t *testing.T) {
	for _, in := range []Input{InputPointerDown, InputWheel} {
		c := New(&fakeCamera{}, fakeSource{}, DefaultConfig())
		var exited []string
		c.OnExit(func(id string) { exited = append(exited, id) })

		c.Follow("b")
		c.HandleInput(in)
		assert.False(t, c.Following())
		assert.Equal(t, []string{"b"}, exited)

		c.HandleInput(in)
		assert.Len(t, exited, 1, "idle input does not call back")
	}
}

func TestController_StopHasNoCallback(t *testing.T) {
	c := New(&fakeCamera{}, fakeSource{}, DefaultConfig())
	called := false
	c.OnExit(func(string) { called = true })

	c.Follow("b")
	c.Stop()
	assert.False(t, c.Following())
	assert.False(t, called)

	c.Tick(frame)
}

func TestBlend(t *testing.T) {
	assert.InDelta(t, 1-math.Exp(-4*0.5), Blend(4, 500*time.Millisecond), 1e-12)
	assert.Zero(t, Blend(4, 0))
}
