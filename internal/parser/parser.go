package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/telemetry-rush/replay-server/internal/types"
)

// Column names of the raw telemetry log.
const (
	ColTime    = "meta_time"
	ColVehicle = "vehicle_id"
	ColChannel = "telemetry_name"
	ColValue   = "telemetry_value"
	ColLap     = "lap"
)

// RawRow represents one row of the raw telemetry log before preprocessing.
type RawRow struct {
	Time      time.Time
	VehicleID string
	Channel   string
	Value     types.Value
	Lap       types.Value
}

// HeaderIndex maps trimmed column names to their positions. Files exported
// from timing systems pad header cells with spaces.
func HeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

// field returns the trimmed cell under name, or empty when the column is
// missing from the file.
func field(idx map[string]int, record []string, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// ParseValue parses a numeric cell. Empty or non-numeric cells become an
// absent value rather than an error.
func ParseValue(s string) types.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.Value{}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return types.Value{}
	}
	return types.Num(n)
}

// ParseRawRow parses one raw telemetry row. Rows without a parsable
// timestamp or a vehicle id are rejected.
func ParseRawRow(idx map[string]int, record []string) (RawRow, error) {
	ts := field(idx, record, ColTime)
	if ts == "" {
		return RawRow{}, fmt.Errorf("missing %s", ColTime)
	}
	t, err := types.ParseTime(ts)
	if err != nil {
		return RawRow{}, fmt.Errorf("invalid %s: %w", ColTime, err)
	}

	vid := field(idx, record, ColVehicle)
	if vid == "" {
		return RawRow{}, fmt.Errorf("missing %s", ColVehicle)
	}

	return RawRow{
		Time:      t,
		VehicleID: vid,
		Channel:   field(idx, record, ColChannel),
		Value:     ParseValue(field(idx, record, ColValue)),
		Lap:       ParseValue(field(idx, record, ColLap)),
	}, nil
}

// ParseVehicleRow parses one row of a preprocessed per-vehicle file. The
// vehicle id comes from the file name, not the row.
func ParseVehicleRow(idx map[string]int, record []string, vehicleID string) (types.Sample, error) {
	ts := field(idx, record, ColTime)
	if ts == "" {
		return types.Sample{}, fmt.Errorf("missing %s", ColTime)
	}
	t, err := types.ParseTime(ts)
	if err != nil {
		return types.Sample{}, fmt.Errorf("invalid %s: %w", ColTime, err)
	}

	channel := field(idx, record, ColChannel)
	if channel == "" {
		return types.Sample{}, fmt.Errorf("missing %s", ColChannel)
	}

	return types.Sample{
		Time:      t,
		VehicleID: vehicleID,
		Channel:   channel,
		Value:     ParseValue(field(idx, record, ColValue)),
	}, nil
}

// ParseWeatherRow parses one weather station row. The time column carries
// either epoch seconds or a timestamp string.
func ParseWeatherRow(idx map[string]int, record []string) (types.Weather, error) {
	ts := field(idx, record, "TIME_UTC_SECONDS")
	if ts == "" {
		return types.Weather{}, fmt.Errorf("missing TIME_UTC_SECONDS")
	}

	var t time.Time
	if secs, err := strconv.ParseFloat(ts, 64); err == nil {
		whole := int64(secs)
		frac := int64((secs - float64(whole)) * float64(time.Second))
		t = time.Unix(whole, frac).UTC()
	} else {
		parsed, err := types.ParseTime(ts)
		if err != nil {
			return types.Weather{}, fmt.Errorf("invalid TIME_UTC_SECONDS: %w", err)
		}
		t = parsed
	}

	return types.Weather{
		Time:          t,
		AirTemp:       ParseValue(field(idx, record, "AIR_TEMP")),
		TrackTemp:     ParseValue(field(idx, record, "TRACK_TEMP")),
		Humidity:      ParseValue(field(idx, record, "HUMIDITY")),
		Pressure:      ParseValue(field(idx, record, "PRESSURE")),
		WindSpeed:     ParseValue(field(idx, record, "WIND_SPEED")),
		WindDirection: ParseValue(field(idx, record, "WIND_DIRECTION")),
		Rain:          ParseValue(field(idx, record, "RAIN")),
	}, nil
}

// ParseLapRow parses one lap classification row. Vehicle number and lap
// number are required, everything else passes through leniently.
func ParseLapRow(idx map[string]int, record []string) (types.LapEvent, error) {
	vid := field(idx, record, "NUMBER")
	if vid == "" {
		return types.LapEvent{}, fmt.Errorf("missing NUMBER")
	}

	lapStr := field(idx, record, "LAP_NUMBER")
	lap, err := strconv.Atoi(lapStr)
	if err != nil {
		if f, ferr := strconv.ParseFloat(lapStr, 64); ferr == nil {
			lap = int(f)
		} else {
			return types.LapEvent{}, fmt.Errorf("invalid LAP_NUMBER: %q", lapStr)
		}
	}

	return types.LapEvent{
		VehicleID: vid,
		Lap:       lap,
		LapTime:   field(idx, record, "LAP_TIME"),
		SectorTimes: [3]types.Value{
			ParseValue(field(idx, record, "S1_SECONDS")),
			ParseValue(field(idx, record, "S2_SECONDS")),
			ParseValue(field(idx, record, "S3_SECONDS")),
		},
		TopSpeed:  ParseValue(field(idx, record, "TOP_SPEED")),
		Flag:      field(idx, record, "FLAG_AT_FL"),
		Pit:       field(idx, record, "CROSSING_FINISH_LINE_IN_PIT") != "",
		Timestamp: field(idx, record, "HOUR"),
	}, nil
}

// ParseLeaderboardRow parses one classification standings row.
func ParseLeaderboardRow(idx map[string]int, record []string) (types.LeaderboardEntry, error) {
	vid := field(idx, record, "NUMBER")
	if vid == "" {
		return types.LeaderboardEntry{}, fmt.Errorf("missing NUMBER")
	}

	pos, err := strconv.Atoi(field(idx, record, "POS"))
	if err != nil {
		return types.LeaderboardEntry{}, fmt.Errorf("invalid POS: %w", err)
	}

	return types.LeaderboardEntry{
		ClassType:   field(idx, record, "CLASS_TYPE"),
		Position:    pos,
		PIC:         atoiOrZero(field(idx, record, "PIC")),
		VehicleID:   vid,
		Vehicle:     field(idx, record, "VEHICLE"),
		Laps:        atoiOrZero(field(idx, record, "LAPS")),
		Elapsed:     field(idx, record, "ELAPSED"),
		GapFirst:    field(idx, record, "GAP_FIRST"),
		GapPrevious: field(idx, record, "GAP_PREVIOUS"),
		BestLapNum:  atoiOrZero(field(idx, record, "BEST_LAP_NUM")),
		BestLapTime: field(idx, record, "BEST_LAP_TIME"),
		BestLapKPH:  floatOrZero(field(idx, record, "BEST_LAP_KPH")),
	}, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}

func floatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
