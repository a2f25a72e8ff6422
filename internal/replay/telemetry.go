package replay

import (
	"log"
	"math"
	"time"

	"github.com/telemetry-rush/replay-server/internal/broadcast"
	"github.com/telemetry-rush/replay-server/internal/clock"
	"github.com/telemetry-rush/replay-server/internal/stats"
	"github.com/telemetry-rush/replay-server/internal/store"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// emitNames maps internal channel names to the names subscribers expect.
var emitNames = map[string]string{
	types.ChannelLat: "gps_lat",
	types.ChannelLon: "gps_lon",
}

// Telemetry drives telemetry playback. It owns the clock, the windowing
// cursor and the pending batch; commands and ticks must come from a single
// goroutine.
//
// The cursor is the index of the next sample to emit in the current
// direction. Each tick appends the due window to the pending batch, which
// is flushed into frames at most once per send interval so bursts of due
// samples coalesce instead of flooding subscribers.
type Telemetry struct {
	store   *store.Store
	weather *store.WeatherIndex
	clock   *clock.Clock
	hub     *broadcast.Hub
	stats   *stats.Stats

	sendInterval time.Duration
	cursor       int
	pending      []types.Sample
	lastFlush    time.Time
}

// NewTelemetry creates a telemetry controller over a loaded sample store.
func NewTelemetry(st *store.Store, weather *store.WeatherIndex, clk *clock.Clock, hub *broadcast.Hub, stats *stats.Stats, targetHz int) *Telemetry {
	if targetHz <= 0 {
		targetHz = 60
	}
	return &Telemetry{
		store:        st,
		weather:      weather,
		clock:        clk,
		hub:          hub,
		stats:        stats,
		sendInterval: time.Second / time.Duration(targetHz),
	}
}

// Active reports whether ticks currently produce playback work.
func (t *Telemetry) Active() bool {
	return t.clock.IsPlaying() && t.clock.Speed() != 0
}

// State returns the playback state for status reporting.
func (t *Telemetry) State() clock.State {
	return t.clock.State()
}

// SimTime returns the simulated time at the given wall instant.
func (t *Telemetry) SimTime(now time.Time) time.Time {
	return t.clock.SimTime(now)
}

// Apply processes one control command. Commands whose preconditions are
// unmet are ignored.
func (t *Telemetry) Apply(cmd types.Command, now time.Time) {
	t.stats.IncrementControlCommands()

	switch cmd.Cmd {
	case types.CmdPlay:
		wasPlaying := t.clock.IsPlaying()
		wasStarted := t.clock.Started()
		wasReversed := t.clock.Reversed()
		t.clock.Play(now)
		if wasPlaying || t.clock.State() != clock.PlayingForward {
			return
		}
		if !wasStarted {
			t.cursor = 0
			log.Println("Playback started")
			return
		}
		if wasReversed {
			// The reverse cursor points at the next sample going down;
			// the next one going up is its successor.
			t.cursor++
		}
		log.Println("Playback resumed")

	case types.CmdReverse:
		wasPlaying := t.clock.IsPlaying()
		wasReversed := t.clock.Reversed()
		t.clock.Reverse(now)
		if wasPlaying || t.clock.State() != clock.PlayingReverse {
			return
		}
		if !wasReversed {
			t.cursor--
		}
		log.Println("Reverse playback started")

	case types.CmdPause:
		if !t.clock.IsPlaying() {
			return
		}
		t.clock.Pause(now)
		t.flushPending(t.clock.SimTime(now))
		log.Println("Playback paused")

	case types.CmdRestart:
		t.clock.Restart()
		t.cursor = 0
		t.pending = t.pending[:0]
		log.Println("Playback restarted")

	case types.CmdSpeed:
		if cmd.Value == nil {
			return
		}
		t.clock.SetSpeed(*cmd.Value, now)
		if *cmd.Value == 0 {
			t.flushPending(t.clock.SimTime(now))
		}
		log.Printf("Playback speed set to %gx", t.clock.Speed())

	case types.CmdSeek:
		if cmd.SeekTime.IsZero() {
			return
		}
		t.clock.Seek(cmd.SeekTime, now)
		t.pending = t.pending[:0]
		if t.clock.Reversed() {
			t.cursor = t.store.UpperBound(cmd.SeekTime) - 1
		} else {
			t.cursor = t.store.LowerBound(cmd.SeekTime)
		}
		log.Printf("Seek to %s", types.FormatTime(cmd.SeekTime))
	}
}

// Tick advances the window to the current simulated time, accumulating due
// samples and flushing them into frames under the send rate cap. Running
// off the data in the playing direction flushes whatever is pending,
// transitions the clock to ended and emits one terminal event.
func (t *Telemetry) Tick(now time.Time) {
	if !t.Active() {
		return
	}
	sim := t.clock.SimTime(now)

	if t.clock.Reversed() {
		for t.cursor >= 0 && !t.store.At(t.cursor).Time.Before(sim) {
			t.pending = append(t.pending, t.store.At(t.cursor))
			t.cursor--
		}
	} else {
		for t.cursor < t.store.Len() && !t.store.At(t.cursor).Time.After(sim) {
			t.pending = append(t.pending, t.store.At(t.cursor))
			t.cursor++
		}
	}

	if t.atEnd() {
		t.flushPending(sim)
		t.clock.End(now)
		t.hub.Publish(types.NewTelemetryEndMessage(t.clock.SimTime(now)))
		t.stats.IncrementEndEvents()
		log.Println("End of telemetry log reached")
		return
	}

	if len(t.pending) == 0 || now.Sub(t.lastFlush) < t.sendInterval {
		return
	}
	t.lastFlush = now
	t.flushPending(sim)
}

// atEnd reports whether the cursor has run off the data in the current
// playing direction.
func (t *Telemetry) atEnd() bool {
	if t.clock.Reversed() {
		return t.cursor < 0
	}
	return t.cursor >= t.store.Len()
}

type sampleKey struct {
	nano    int64
	vehicle string
	channel string
}

// flushPending deduplicates the pending batch, groups it by sample
// timestamp into frames and broadcasts them with the weather snapshot
// current as of the simulated time. The first occurrence of a duplicate
// (timestamp, vehicle, channel) key wins.
func (t *Telemetry) flushPending(sim time.Time) {
	if len(t.pending) == 0 {
		return
	}

	seen := make(map[sampleKey]struct{}, len(t.pending))
	frames := make(map[int64]map[string]types.ChannelValues)
	order := make([]int64, 0, 8)

	for _, s := range t.pending {
		key := sampleKey{s.Time.UnixNano(), s.VehicleID, s.Channel}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		vehicles := frames[key.nano]
		if vehicles == nil {
			vehicles = make(map[string]types.ChannelValues)
			frames[key.nano] = vehicles
			order = append(order, key.nano)
		}
		channels := vehicles[s.VehicleID]
		if channels == nil {
			channels = make(types.ChannelValues)
			vehicles[s.VehicleID] = channels
		}

		name := s.Channel
		if mapped, ok := emitNames[name]; ok {
			name = mapped
		}
		value := s.Value
		if s.Channel == types.LapChannel && value.Valid {
			value = types.Num(math.Trunc(value.Num))
		}
		channels[name] = value
	}

	var weather *types.Weather
	if t.weather != nil {
		if w, ok := t.weather.LatestAt(sim); ok {
			weather = &w
		}
	}

	for _, nano := range order {
		t.hub.Publish(types.NewFrameMessage(time.Unix(0, nano).UTC(), frames[nano], weather))
		t.stats.IncrementFramesSent()
	}
	t.stats.AddSamplesEmitted(uint64(len(seen)))
	t.stats.UpdateLastFrameTime()
	t.pending = t.pending[:0]
}
