package migrations

import "time"

// RetentionPolicies adds data retention and continuous aggregates
var RetentionPolicies = &Migration{
	ID:   "002_retention_policies",
	Name: "002_retention_policies",
	UpSQL: `
	-- Set retention policy for lap_events (30 days)
	SELECT add_retention_policy('lap_events', INTERVAL '30 days');

	-- Set retention policy for engine_stats (7 days)
	SELECT add_retention_policy('engine_stats', INTERVAL '7 days');

	-- Create continuous aggregate for daily lap activity per vehicle
	CREATE MATERIALIZED VIEW IF NOT EXISTS lap_events_daily
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 day', time) AS day,
		vehicle_id,
		COUNT(*) AS lap_count,
		MAX(top_speed) AS top_speed,
		MIN(sector1_seconds + sector2_seconds + sector3_seconds) AS best_lap_seconds
	FROM lap_events
	GROUP BY day, vehicle_id
	WITH NO DATA;

	-- Create continuous aggregate for hourly engine throughput
	CREATE MATERIALIZED VIEW IF NOT EXISTS engine_stats_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS hour,
		MAX(frames_sent) AS frames_sent,
		MAX(samples_emitted) AS samples_emitted,
		MAX(subscriber_failures) AS subscriber_failures
	FROM engine_stats
	GROUP BY hour
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS lap_events_daily;
	DROP MATERIALIZED VIEW IF EXISTS engine_stats_hourly;
	-- Remove retention policies
	SELECT remove_retention_policy('lap_events');
	SELECT remove_retention_policy('engine_stats');
	`,
	CreatedAt: time.Now(),
}
