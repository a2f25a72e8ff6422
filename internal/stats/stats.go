package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telemetry-rush/replay-server/internal/db"
)

// Stats tracks playback and broadcast statistics
type Stats struct {
	// Emission counts
	FramesSent         uint64
	SamplesEmitted     uint64
	EndEvents          uint64
	LapEvents          uint64
	LeaderboardEntries uint64

	// Control counts
	ControlCommands uint64
	InvalidCommands uint64

	// Fan-out health
	SubscriberFailures uint64
	ActiveSubscribers  uint64

	// Timing
	StartTime     time.Time
	LastFrameTime time.Time

	// Database client for persistence
	db *db.Client

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	now := time.Now()
	return &Stats{
		StartTime:     now,
		LastFrameTime: now,
	}
}

// SetDB sets the database client for persistence
func (s *Stats) SetDB(db *db.Client) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
}

// Persist stores the current statistics in the database
func (s *Stats) Persist() error {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return fmt.Errorf("database client not set")
	}
	s.mu.RUnlock()

	stats := s.GetStats()
	return s.db.StoreEngineStats(stats)
}

// IncrementFramesSent increments the frames sent counter
func (s *Stats) IncrementFramesSent() {
	atomic.AddUint64(&s.FramesSent, 1)
}

// AddSamplesEmitted adds to the emitted samples counter
func (s *Stats) AddSamplesEmitted(n uint64) {
	atomic.AddUint64(&s.SamplesEmitted, n)
}

// IncrementEndEvents increments the end events counter
func (s *Stats) IncrementEndEvents() {
	atomic.AddUint64(&s.EndEvents, 1)
}

// IncrementLapEvents increments the lap events counter
func (s *Stats) IncrementLapEvents() {
	atomic.AddUint64(&s.LapEvents, 1)
}

// IncrementLeaderboardEntries increments the leaderboard entries counter
func (s *Stats) IncrementLeaderboardEntries() {
	atomic.AddUint64(&s.LeaderboardEntries, 1)
}

// IncrementControlCommands increments the control commands counter
func (s *Stats) IncrementControlCommands() {
	atomic.AddUint64(&s.ControlCommands, 1)
}

// IncrementInvalidCommands increments the invalid commands counter
func (s *Stats) IncrementInvalidCommands() {
	atomic.AddUint64(&s.InvalidCommands, 1)
}

// IncrementSubscriberFailures increments the subscriber failures counter
func (s *Stats) IncrementSubscriberFailures() {
	atomic.AddUint64(&s.SubscriberFailures, 1)
}

// SetActiveSubscribers sets the current subscriber count
func (s *Stats) SetActiveSubscribers(count uint64) {
	atomic.StoreUint64(&s.ActiveSubscribers, count)
}

// UpdateLastFrameTime updates the last frame time
func (s *Stats) UpdateLastFrameTime() {
	s.mu.Lock()
	s.LastFrameTime = time.Now()
	s.mu.Unlock()
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"frames_sent":         atomic.LoadUint64(&s.FramesSent),
		"samples_emitted":     atomic.LoadUint64(&s.SamplesEmitted),
		"end_events":          atomic.LoadUint64(&s.EndEvents),
		"lap_events":          atomic.LoadUint64(&s.LapEvents),
		"leaderboard_entries": atomic.LoadUint64(&s.LeaderboardEntries),
		"control_commands":    atomic.LoadUint64(&s.ControlCommands),
		"invalid_commands":    atomic.LoadUint64(&s.InvalidCommands),
		"subscriber_failures": atomic.LoadUint64(&s.SubscriberFailures),
		"active_subscribers":  atomic.LoadUint64(&s.ActiveSubscribers),
		"last_frame_time":     s.LastFrameTime,
		"uptime":              time.Since(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()
	return fmt.Sprintf(
		"Frames Sent: %d\n"+
			"Samples Emitted: %d\n"+
			"End Events: %d\n"+
			"Lap Events: %d\n"+
			"Leaderboard Entries: %d\n"+
			"Control Commands: %d\n"+
			"Invalid Commands: %d\n"+
			"Subscriber Failures: %d\n"+
			"Active Subscribers: %d\n"+
			"Last Frame Time: %s\n"+
			"Uptime: %s",
		stats["frames_sent"],
		stats["samples_emitted"],
		stats["end_events"],
		stats["lap_events"],
		stats["leaderboard_entries"],
		stats["control_commands"],
		stats["invalid_commands"],
		stats["subscriber_failures"],
		stats["active_subscribers"],
		stats["last_frame_time"],
		stats["uptime"],
	)
}

// StartPersistence starts periodic persistence of statistics
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				fmt.Printf("Failed to persist final statistics: %v\n", err)
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				fmt.Printf("Failed to persist statistics: %v\n", err)
			}
		}
	}
}
