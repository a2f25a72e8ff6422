package db

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/telemetry-rush/replay-server/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetOpenSessions retrieves all sessions that were never closed
func (c *Client) GetOpenSessions() ([]*types.Session, error) {
	query := `
		SELECT session_id, name, started_at, ended_at,
			playback_speed, vehicle_count, sample_count
		FROM replay_sessions
		WHERE ended_at IS NULL
	`
	rows, err := c.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var s types.Session
		if err := rows.Scan(
			&s.SessionID, &s.Name, &s.StartedAt, &s.EndedAt,
			&s.PlaybackSpeed, &s.VehicleCount, &s.SampleCount,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// CreateSession creates a new replay session
func (c *Client) CreateSession(session *types.Session) error {
	query := `
		INSERT INTO replay_sessions (
			session_id, name, started_at,
			playback_speed, vehicle_count, sample_count
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.Exec(query,
		session.SessionID, session.Name, session.StartedAt,
		session.PlaybackSpeed, session.VehicleCount, session.SampleCount,
	)
	return err
}

// EndSession marks a replay session as closed
func (c *Client) EndSession(sessionID string, endedAt time.Time) error {
	query := `
		UPDATE replay_sessions SET ended_at = $1
		WHERE session_id = $2
	`
	_, err := c.db.Exec(query, endedAt, sessionID)
	return err
}

// StoreLapEvent stores a completed lap
func (c *Client) StoreLapEvent(sessionID string, ev *types.LapEvent) error {
	query := `
		INSERT INTO lap_events (
			time, session_id, vehicle_id, lap, lap_time,
			sector1_seconds, sector2_seconds, sector3_seconds,
			top_speed, flag, pit, event_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := c.db.Exec(query,
		time.Now(), sessionID, ev.VehicleID, ev.Lap, ev.LapTime,
		nullFloat(ev.SectorTimes[0]), nullFloat(ev.SectorTimes[1]), nullFloat(ev.SectorTimes[2]),
		nullFloat(ev.TopSpeed), ev.Flag, ev.Pit, ev.Timestamp,
	)
	return err
}

// StoreLeaderboardEntry stores a classification row
func (c *Client) StoreLeaderboardEntry(sessionID string, e *types.LeaderboardEntry) error {
	query := `
		INSERT INTO leaderboard_entries (
			time, session_id, class_type, position, pic,
			vehicle_id, vehicle, laps, elapsed,
			gap_first, gap_previous,
			best_lap_num, best_lap_time, best_lap_kph
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := c.db.Exec(query,
		time.Now(), sessionID, e.ClassType, e.Position, e.PIC,
		e.VehicleID, e.Vehicle, e.Laps, e.Elapsed,
		e.GapFirst, e.GapPrevious,
		e.BestLapNum, e.BestLapTime, e.BestLapKPH,
	)
	return err
}

// StoreEngineStats stores engine statistics
func (c *Client) StoreEngineStats(stats map[string]interface{}) error {
	query := `
		INSERT INTO engine_stats (
			time, frames_sent, samples_emitted, end_events,
			lap_events, leaderboard_entries, control_commands,
			invalid_commands, subscriber_failures, active_subscribers,
			last_frame_time, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	// Convert uptime to seconds
	uptime := stats["uptime"].(time.Duration).Seconds()

	_, err := c.db.Exec(query,
		time.Now(),
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
		int64(uptime),
	)

	return err
}

// GetEngineStats retrieves engine statistics for a time range
func (c *Client) GetEngineStats(start, end time.Time) ([]map[string]interface{}, error) {
	query := `
		SELECT
			time, frames_sent, samples_emitted, end_events,
			lap_events, leaderboard_entries, control_commands,
			invalid_commands, subscriber_failures, active_subscribers,
			last_frame_time, uptime_seconds
		FROM engine_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`

	rows, err := c.db.Query(query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []map[string]interface{}
	for rows.Next() {
		var (
			timestamp          time.Time
			framesSent         int64
			samplesEmitted     int64
			endEvents          int64
			lapEvents          int64
			leaderboardEntries int64
			controlCommands    int64
			invalidCommands    int64
			subscriberFailures int64
			activeSubscribers  int64
			lastFrameTime      time.Time
			uptimeSeconds      int64
		)

		if err := rows.Scan(
			&timestamp,
			&framesSent,
			&samplesEmitted,
			&endEvents,
			&lapEvents,
			&leaderboardEntries,
			&controlCommands,
			&invalidCommands,
			&subscriberFailures,
			&activeSubscribers,
			&lastFrameTime,
			&uptimeSeconds,
		); err != nil {
			return nil, err
		}

		stat := map[string]interface{}{
			"time":                timestamp,
			"frames_sent":         framesSent,
			"samples_emitted":     samplesEmitted,
			"end_events":          endEvents,
			"lap_events":          lapEvents,
			"leaderboard_entries": leaderboardEntries,
			"control_commands":    controlCommands,
			"invalid_commands":    invalidCommands,
			"subscriber_failures": subscriberFailures,
			"active_subscribers":  activeSubscribers,
			"last_frame_time":     lastFrameTime,
			"uptime_seconds":      uptimeSeconds,
		}

		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// nullFloat converts an optional reading into a nullable column value.
func nullFloat(v types.Value) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.Num, Valid: v.Valid}
}
