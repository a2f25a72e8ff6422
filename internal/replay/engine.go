package replay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/telemetry-rush/replay-server/internal/broadcast"
	"github.com/telemetry-rush/replay-server/internal/clock"
	"github.com/telemetry-rush/replay-server/internal/stats"
	"github.com/telemetry-rush/replay-server/internal/store"
	"github.com/telemetry-rush/replay-server/internal/types"
)

const (
	// pausedTickInterval is the idle wake-up period while not playing.
	pausedTickInterval = 100 * time.Millisecond
	// playingTickInterval bounds windowing latency while playing.
	playingTickInterval = time.Millisecond
	// feedInterval paces the lap and leaderboard streams, which run on
	// their own timers independent of the playback clock.
	feedInterval = 10 * time.Millisecond

	controlBuffer = 64
)

// Engine runs one playback session: the telemetry stream under clock
// control plus the lap and leaderboard feeds, all fanning out through a
// shared hub. Each stream runs on its own loop; control commands are
// applied on the telemetry loop so they never race a tick.
type Engine struct {
	telemetry *Telemetry
	hub       *broadcast.Hub
	stats     *stats.Stats

	laps  []types.LapEvent
	board []types.LeaderboardEntry

	controlCh chan types.Command
	wg        sync.WaitGroup
}

// New creates an engine over loaded session data. The telemetry store must
// not be empty; the lap and leaderboard slices may be.
func New(st *store.Store, weather *store.WeatherIndex, laps []types.LapEvent, board []types.LeaderboardEntry, hub *broadcast.Hub, speed float64, targetHz int) (*Engine, error) {
	if st == nil || st.Len() == 0 {
		return nil, fmt.Errorf("no telemetry data loaded")
	}
	first, _, _ := st.Span()

	s := stats.New()
	e := &Engine{
		telemetry: NewTelemetry(st, weather, clock.New(first, speed), hub, s, targetHz),
		hub:       hub,
		stats:     s,
		laps:      laps,
		board:     board,
		controlCh: make(chan types.Command, controlBuffer),
	}
	hub.SetFailureHandler(func(id string, err error) {
		s.IncrementSubscriberFailures()
	})
	return e, nil
}

// Stats returns the engine's statistics tracker.
func (e *Engine) Stats() *stats.Stats {
	return e.stats
}

// Telemetry returns the telemetry controller for status queries.
func (e *Engine) Telemetry() *Telemetry {
	return e.telemetry
}

// Start launches the stream loops. They stop when the context is
// cancelled; Wait blocks until all of them have returned.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(4)
	go e.telemetryLoop(ctx)
	go e.lapLoop(ctx)
	go e.leaderboardLoop(ctx)
	go e.logStats(ctx)
}

// Wait blocks until all stream loops have stopped, then detaches any
// remaining subscribers. The sample store itself is untouched.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.hub.Clear()
}

// SubmitCommand enqueues a playback command for the telemetry loop. A
// full queue drops the command rather than blocking the caller.
func (e *Engine) SubmitCommand(cmd types.Command) {
	select {
	case e.controlCh <- cmd:
	default:
		log.Printf("Warning: control queue full, dropping %s command", cmd.Cmd)
	}
}

// telemetryLoop applies control commands and runs windowing ticks on a
// single goroutine. The wake-up interval is long while paused and short
// while playing.
func (e *Engine) telemetryLoop(ctx context.Context) {
	defer e.wg.Done()
	log.Println("Telemetry broadcast loop started")

	for {
		interval := pausedTickInterval
		if e.telemetry.Active() {
			interval = playingTickInterval
		}
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case cmd := <-e.controlCh:
			timer.Stop()
			e.telemetry.Apply(cmd, time.Now())
		case <-timer.C:
			e.telemetry.Tick(time.Now())
		}
	}
}

// lapLoop publishes lap events at a fixed cadence until the data or the
// context runs out.
func (e *Engine) lapLoop(ctx context.Context) {
	defer e.wg.Done()

	if len(e.laps) == 0 {
		log.Println("Warning: no lap event data available")
		return
	}
	log.Println("Lap event stream started")

	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()

	for _, ev := range e.laps {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.hub.Publish(&types.LapEventMessage{Type: types.MessageLapEvent, LapEvent: ev})
			e.stats.IncrementLapEvents()
		}
	}
	log.Println("Lap event stream finished")
}

// leaderboardLoop publishes leaderboard rows at a fixed cadence until the
// data or the context runs out.
func (e *Engine) leaderboardLoop(ctx context.Context) {
	defer e.wg.Done()

	if len(e.board) == 0 {
		log.Println("Warning: no leaderboard data available")
		return
	}
	log.Println("Leaderboard stream started")

	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()

	for _, entry := range e.board {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.hub.Publish(&types.LeaderboardEntryMessage{Type: types.MessageLeaderboard, LeaderboardEntry: entry})
			e.stats.IncrementLeaderboardEntries()
		}
	}
	log.Println("Leaderboard stream finished")
}

// logStats periodically logs statistics
func (e *Engine) logStats(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.stats.SetActiveSubscribers(uint64(e.hub.Count()))
			log.Printf("Statistics:\n%s", e.stats)
		}
	}
}
