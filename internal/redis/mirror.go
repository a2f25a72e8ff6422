package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// maxMirroredLaps bounds the lap history written through to the cache.
const maxMirroredLaps = 256

// Mirror is a hub subscriber that writes replay state through to Redis so
// dashboards and late joiners can read it without attaching to the hub.
// Cache errors are logged, not returned: a flaky Redis must not get the
// mirror dropped from the hub.
type Mirror struct {
	id     string
	client *Client

	mu    sync.Mutex
	laps  []types.LapEventMessage
	board map[string]types.LeaderboardEntryMessage
	order []string
}

// NewMirror creates a hub subscriber backed by a Redis client
func NewMirror(client *Client) *Mirror {
	return &Mirror{
		id:     uuid.New().String(),
		client: client,
		board:  make(map[string]types.LeaderboardEntryMessage),
	}
}

// ID returns the subscriber identifier
func (m *Mirror) ID() string {
	return m.id
}

// Send mirrors one hub message into the cache
func (m *Mirror) Send(kind string, data []byte) error {
	ctx := context.Background()

	switch kind {
	case types.MessageFrame:
		var frame types.FrameMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Warning: failed to decode frame for cache: %v", err)
			return nil
		}
		if err := m.client.StoreLatestFrame(ctx, &frame); err != nil {
			log.Printf("Warning: failed to cache latest frame: %v", err)
		}

	case types.MessageTelemetryEnd:
		// End markers carry no state worth caching

	case types.MessageLapEvent:
		var lap types.LapEventMessage
		if err := json.Unmarshal(data, &lap); err != nil {
			log.Printf("Warning: failed to decode lap event for cache: %v", err)
			return nil
		}
		if err := m.client.StoreRecentLaps(ctx, m.appendLap(lap)); err != nil {
			log.Printf("Warning: failed to cache lap history: %v", err)
		}

	case types.MessageLeaderboard:
		var entry types.LeaderboardEntryMessage
		if err := json.Unmarshal(data, &entry); err != nil {
			log.Printf("Warning: failed to decode leaderboard entry for cache: %v", err)
			return nil
		}
		if err := m.client.StoreLeaderboard(ctx, m.mergeEntry(entry)); err != nil {
			log.Printf("Warning: failed to cache leaderboard: %v", err)
		}
	}

	return nil
}

// appendLap adds a lap to the bounded local history and returns a snapshot.
func (m *Mirror) appendLap(lap types.LapEventMessage) []types.LapEventMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.laps = append(m.laps, lap)
	if len(m.laps) > maxMirroredLaps {
		m.laps = m.laps[len(m.laps)-maxMirroredLaps:]
	}

	laps := make([]types.LapEventMessage, len(m.laps))
	copy(laps, m.laps)
	return laps
}

// mergeEntry folds a row into the local classification, keeping the latest
// row per vehicle in first-seen order, and returns a snapshot.
func (m *Mirror) mergeEntry(entry types.LeaderboardEntryMessage) []types.LeaderboardEntryMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.board[entry.VehicleID]; !seen {
		m.order = append(m.order, entry.VehicleID)
	}
	m.board[entry.VehicleID] = entry

	entries := make([]types.LeaderboardEntryMessage, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.board[id])
	}
	return entries
}
