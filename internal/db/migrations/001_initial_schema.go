package migrations

import "time"

// InitialSchema creates the initial database schema
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		-- Enable TimescaleDB extension
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		-- Create lap_events hypertable
		CREATE TABLE IF NOT EXISTS lap_events (
			time TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			vehicle_id TEXT NOT NULL,
			lap INTEGER NOT NULL,
			lap_time TEXT,
			sector1_seconds DOUBLE PRECISION,
			sector2_seconds DOUBLE PRECISION,
			sector3_seconds DOUBLE PRECISION,
			top_speed DOUBLE PRECISION,
			flag TEXT,
			pit BOOLEAN,
			event_time TEXT
		);

		-- Create hypertable
		SELECT create_hypertable('lap_events', 'time');

		-- Create indexes
		CREATE INDEX IF NOT EXISTS idx_lap_events_vehicle_id ON lap_events (vehicle_id);
		CREATE INDEX IF NOT EXISTS idx_lap_events_session_id ON lap_events (session_id);

		-- Create replay_sessions table
		CREATE TABLE IF NOT EXISTS replay_sessions (
			session_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			playback_speed DOUBLE PRECISION,
			vehicle_count INTEGER,
			sample_count BIGINT
		);

		-- Create indexes for replay_sessions
		CREATE INDEX IF NOT EXISTS idx_replay_sessions_started_at ON replay_sessions (started_at);
		CREATE INDEX IF NOT EXISTS idx_replay_sessions_ended_at ON replay_sessions (ended_at);

		-- Create leaderboard_entries table
		CREATE TABLE IF NOT EXISTS leaderboard_entries (
			time TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			class_type TEXT,
			position INTEGER NOT NULL,
			pic INTEGER,
			vehicle_id TEXT NOT NULL,
			vehicle TEXT,
			laps INTEGER,
			elapsed TEXT,
			gap_first TEXT,
			gap_previous TEXT,
			best_lap_num INTEGER,
			best_lap_time TEXT,
			best_lap_kph DOUBLE PRECISION
		);

		-- Create indexes for leaderboard_entries
		CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_vehicle_id ON leaderboard_entries (vehicle_id);
		CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_session_id ON leaderboard_entries (session_id);

		-- Create statistics table
		CREATE TABLE IF NOT EXISTS engine_stats (
			time TIMESTAMPTZ NOT NULL,
			frames_sent BIGINT NOT NULL,
			samples_emitted BIGINT NOT NULL,
			end_events BIGINT NOT NULL,
			lap_events BIGINT NOT NULL,
			leaderboard_entries BIGINT NOT NULL,
			control_commands BIGINT NOT NULL,
			invalid_commands BIGINT NOT NULL,
			subscriber_failures BIGINT NOT NULL,
			active_subscribers BIGINT NOT NULL,
			last_frame_time TIMESTAMPTZ NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		-- Create hypertable for statistics
		SELECT create_hypertable('engine_stats', 'time');

		-- Create index for statistics
		CREATE INDEX IF NOT EXISTS idx_engine_stats_time ON engine_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS engine_stats;
		DROP TABLE IF EXISTS leaderboard_entries;
		DROP TABLE IF EXISTS replay_sessions;
		DROP TABLE IF EXISTS lap_events;
	`,
	CreatedAt: time.Now(),
}
