package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the timestamp format used in vehicle sample files and
// outbound frames, millisecond precision UTC.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// LapChannel is the reserved channel name carrying lap-change markers.
const LapChannel = "lap"

// Position channel names as logged by the GPS unit.
const (
	ChannelLat = "VBOX_Lat_Min"
	ChannelLon = "VBOX_Long_Minutes"
)

// timeLayouts are the accepted input formats, tried in order.
var timeLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses a timestamp in any of the accepted layouts into UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp: %q", s)
}

// FormatTime renders a timestamp in the persisted layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Value represents a telemetry reading that may be absent. Absence is
// encoded as JSON null, never as zero.
type Value struct {
	Num   float64
	Valid bool
}

// Num returns a present Value.
func Num(v float64) Value {
	return Value{Num: v, Valid: true}
}

// MarshalJSON encodes the value as a number or null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Num)
}

// UnmarshalJSON decodes a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = Value{Num: n, Valid: true}
	return nil
}

// Sample represents one telemetry reading for one vehicle channel.
type Sample struct {
	Time      time.Time `json:"time"`
	VehicleID string    `json:"vehicle_id"`
	Channel   string    `json:"channel"`
	Value     Value     `json:"value"`
}

// Weather represents one weather station snapshot. Time orders snapshots
// and is not part of the wire payload.
type Weather struct {
	Time          time.Time `json:"-"`
	AirTemp       Value     `json:"air_temp"`
	TrackTemp     Value     `json:"track_temp"`
	Humidity      Value     `json:"humidity"`
	Pressure      Value     `json:"pressure"`
	WindSpeed     Value     `json:"wind_speed"`
	WindDirection Value     `json:"wind_direction"`
	Rain          Value     `json:"rain"`
}

// Session represents one replay run from startup to shutdown.
type Session struct {
	SessionID     string     `json:"session_id"`
	Name          string     `json:"name"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	PlaybackSpeed float64    `json:"playback_speed"`
	VehicleCount  int        `json:"vehicle_count"`
	SampleCount   int        `json:"sample_count"`
}

// LapEvent represents one completed lap for one vehicle.
type LapEvent struct {
	VehicleID   string   `json:"vehicle_id"`
	Lap         int      `json:"lap"`
	LapTime     string   `json:"lap_time"`
	SectorTimes [3]Value `json:"sector_times"`
	TopSpeed    Value    `json:"top_speed"`
	Flag        string   `json:"flag"`
	Pit         bool     `json:"pit"`
	Timestamp   string   `json:"timestamp"`
}

// LeaderboardEntry represents one classification row.
type LeaderboardEntry struct {
	ClassType   string  `json:"class_type"`
	Position    int     `json:"position"`
	PIC         int     `json:"pic"`
	VehicleID   string  `json:"vehicle_id"`
	Vehicle     string  `json:"vehicle"`
	Laps        int     `json:"laps"`
	Elapsed     string  `json:"elapsed"`
	GapFirst    string  `json:"gap_first"`
	GapPrevious string  `json:"gap_previous"`
	BestLapNum  int     `json:"best_lap_num"`
	BestLapTime string  `json:"best_lap_time"`
	BestLapKPH  float64 `json:"best_lap_kph"`
}
