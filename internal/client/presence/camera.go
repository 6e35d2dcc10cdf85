package presence

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"viewsync/internal/pkg/vec"
)

// Camera tracker defaults.
const (
	DefaultCameraRate = 20
	DefaultMinDeltaSq = 1e-4
)

// PoseSink receives camera poses that passed the tracker's gates. *Reconciler is one.
type PoseSink interface {
	UpdatePosition(pos, dir vec.Vec3)
}

// CameraTracker gates raw per-frame camera samples before they become pointer updates.
// A sample passes when it moved far enough from the last forwarded pose and the rate
// limit has a token.
type CameraTracker struct {
	sink       PoseSink
	limiter    *rate.Limiter
	minDeltaSq float64
	now        func() time.Time

	mu       sync.Mutex
	sent     bool
	lastPos  vec.Vec3
	lastDir  vec.Vec3
	accepted int
}

// TrackerOption configures a CameraTracker.
type TrackerOption func(*CameraTracker)

// WithRate sets the maximum forwarded samples per second.
func WithRate(hz float64) TrackerOption {
	return func(t *CameraTracker) { t.limiter = rate.NewLimiter(rate.Limit(hz), 1) }
}

// WithMinDeltaSq sets the squared distance below which a sample counts as unchanged.
func WithMinDeltaSq(d float64) TrackerOption {
	return func(t *CameraTracker) { t.minDeltaSq = d }
}

// WithTrackerClock replaces time.Now for the rate limit.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *CameraTracker) { t.now = now }
}

func NewCameraTracker(sink PoseSink, opts ...TrackerOption) *CameraTracker {
	t := &CameraTracker{
		sink:       sink,
		limiter:    rate.NewLimiter(DefaultCameraRate, 1),
		minDeltaSq: DefaultMinDeltaSq,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Sample offers one camera pose and reports whether it was forwarded.
func (t *CameraTracker) Sample(pos, dir vec.Vec3) bool {
	if !pos.IsFinite() || !dir.IsFinite() {
		return false
	}

	t.mu.Lock()
	if t.sent && pos.DistSq(t.lastPos) < t.minDeltaSq && dir.DistSq(t.lastDir) < t.minDeltaSq {
		t.mu.Unlock()
		return false
	}
	if !t.limiter.AllowN(t.now(), 1) {
		t.mu.Unlock()
		return false
	}
	t.sent = true
	t.lastPos = pos
	t.lastDir = dir
	t.accepted++
	t.mu.Unlock()

	t.sink.UpdatePosition(pos, dir)
	return true
}

// Forwarded returns how many samples passed.
func (t *CameraTracker) Forwarded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted
}
