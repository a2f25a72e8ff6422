package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/telemetry-rush/replay-server/internal/types"
)

// MockSample creates a mock telemetry sample for testing
func MockSample(vehicleID, channel string, at time.Time, value float64) types.Sample {
	return types.Sample{
		Time:      at.UTC(),
		VehicleID: vehicleID,
		Channel:   channel,
		Value:     types.Num(value),
	}
}

// MockLapEvent creates a mock lap event for testing
func MockLapEvent(vehicleID string, lap int) types.LapEvent {
	return types.LapEvent{
		VehicleID:   vehicleID,
		Lap:         lap,
		LapTime:     "01:44.120",
		SectorTimes: [3]types.Value{types.Num(30.5), types.Num(31.2), types.Num(42.4)},
		TopSpeed:    types.Num(178.4),
		Flag:        "Green",
		Timestamp:   fmt.Sprintf("2023-04-30T18:%02d:00.000Z", lap%60),
	}
}

// MockLeaderboardEntry creates a mock classification row for testing
func MockLeaderboardEntry(position int, vehicleID string) types.LeaderboardEntry {
	return types.LeaderboardEntry{
		ClassType:   "GT3",
		Position:    position,
		PIC:         position,
		VehicleID:   vehicleID,
		Vehicle:     fmt.Sprintf("GT3 #%s", vehicleID),
		Laps:        24,
		Elapsed:     "00:42:11.512",
		BestLapNum:  7,
		BestLapTime: "01:42.618",
		BestLapKPH:  161.3,
	}
}

// MockFrame creates a mock telemetry frame for testing
func MockFrame(sim time.Time, vehicleID string) *types.FrameMessage {
	return types.NewFrameMessage(sim, map[string]types.ChannelValues{
		vehicleID: {
			"speed_kph": types.Num(182.4),
			"gps_lat":   types.Num(33.5325),
			"gps_lon":   types.Num(-86.6197),
		},
	}, nil)
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// IsIntegrationTest returns true if integration tests are enabled
func IsIntegrationTest() bool {
	return true // This can be controlled by build tags
}
