package clock

import (
	"time"
)

// State represents the playback state
type State int

const (
	NotStarted State = iota
	Paused
	PlayingForward
	PlayingReverse
	Ended
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Paused:
		return "paused"
	case PlayingForward:
		return "playing_forward"
	case PlayingReverse:
		return "playing_reverse"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Clock maps wall time onto simulated playback time. Transitions fold the
// elapsed simulated delta into the anchor before changing speed or
// direction, so past progress is never recomputed under new parameters.
// Commands whose preconditions are unmet are ignored.
//
// Clock is not safe for concurrent use; the owning controller applies
// commands and ticks on a single loop.
type Clock struct {
	state    State
	started  bool
	reversed bool
	speed    float64

	anchorSim  time.Time
	anchorWall time.Time

	first time.Time
}

// New creates a clock anchored at the first sample timestamp
func New(first time.Time, speed float64) *Clock {
	if speed < 0 {
		speed = 1.0
	}
	return &Clock{
		state:     NotStarted,
		speed:     speed,
		anchorSim: first,
		first:     first,
	}
}

// Play starts or resumes forward playback. The first play initializes the
// anchor to the first sample timestamp.
func (c *Clock) Play(now time.Time) {
	if !c.started {
		c.started = true
		c.anchorSim = c.first
	}
	switch c.state {
	case NotStarted, Paused, Ended:
		c.reversed = false
		c.anchorWall = now
		c.state = PlayingForward
	}
}

// Reverse starts reverse playback. Valid only when paused after playback
// has started.
func (c *Clock) Reverse(now time.Time) {
	if !c.started {
		return
	}
	switch c.state {
	case Paused, Ended:
		c.reversed = true
		c.anchorWall = now
		c.state = PlayingReverse
	}
}

// Pause folds elapsed simulated time into the anchor and stops playback.
func (c *Clock) Pause(now time.Time) {
	if !c.IsPlaying() {
		return
	}
	c.anchorSim = c.SimTime(now)
	c.anchorWall = time.Time{}
	c.state = Paused
}

// Restart rewinds to the first sample, paused and forward.
func (c *Clock) Restart() {
	c.state = Paused
	c.started = true
	c.reversed = false
	c.anchorSim = c.first
	c.anchorWall = time.Time{}
}

// SetSpeed changes the playback speed. While playing, elapsed simulated
// time is folded first so the new speed applies only from now on.
func (c *Clock) SetSpeed(v float64, now time.Time) {
	if v < 0 {
		return
	}
	if c.IsPlaying() {
		c.anchorSim = c.SimTime(now)
		c.anchorWall = now
	}
	c.speed = v
}

// Seek moves the simulated clock to t, keeping speed and direction. Seeking
// an ended clock returns it to paused so playback can produce frames again.
func (c *Clock) Seek(t, now time.Time) {
	c.anchorSim = t
	if c.IsPlaying() {
		c.anchorWall = now
	}
	if c.state == Ended {
		c.state = Paused
	}
}

// End marks playback as run off the data, folding the final simulated time
// into the anchor. The clock behaves like paused afterwards.
func (c *Clock) End(now time.Time) {
	if c.IsPlaying() {
		c.anchorSim = c.SimTime(now)
	}
	c.anchorWall = time.Time{}
	c.state = Ended
}

// SimTime returns the simulated time at the given wall instant.
func (c *Clock) SimTime(now time.Time) time.Time {
	if !c.IsPlaying() || c.anchorWall.IsZero() {
		return c.anchorSim
	}
	delta := time.Duration(float64(now.Sub(c.anchorWall)) * c.speed)
	if c.reversed {
		return c.anchorSim.Add(-delta)
	}
	return c.anchorSim.Add(delta)
}

// IsPlaying reports whether the clock advances simulated time.
func (c *Clock) IsPlaying() bool {
	return c.state == PlayingForward || c.state == PlayingReverse
}

// State returns the current playback state.
func (c *Clock) State() State {
	return c.state
}

// Started reports whether playback has ever been started.
func (c *Clock) Started() bool {
	return c.started
}

// Reversed reports the current playback direction.
func (c *Clock) Reversed() bool {
	return c.reversed
}

// Speed returns the current playback speed multiplier.
func (c *Clock) Speed() float64 {
	return c.speed
}
