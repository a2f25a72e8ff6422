package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/telemetry-rush/replay-server/internal/types"
)

// Stream names a fan-out channel. Subscribers attach to one or more
// streams and only receive messages published on those.
const (
	StreamTelemetry   = "telemetry"
	StreamLaps        = "laps"
	StreamLeaderboard = "leaderboard"
)

// maxRecentLaps bounds the retained lap event history.
const maxRecentLaps = 256

// Subscriber receives serialized broadcast messages. Send must not block
// indefinitely; implementations classify their failures as ErrClosed or
// ErrSlowConsumer so the hub can report why a subscriber was dropped.
type Subscriber interface {
	ID() string
	Send(kind string, data []byte) error
}

// cached is one retained message with its type tag.
type cached struct {
	kind string
	data []byte
}

// streamForKind routes a message type tag to its stream.
func streamForKind(kind string) string {
	switch kind {
	case types.MessageFrame, types.MessageTelemetryEnd:
		return StreamTelemetry
	case types.MessageLapEvent:
		return StreamLaps
	case types.MessageLeaderboard:
		return StreamLeaderboard
	}
	return ""
}

// Hub fans published messages out to the subscriber set of the message's
// stream. A delivery failure removes only the failing subscriber; the
// publish call itself never fails. The hub retains the latest telemetry
// message, a bounded lap event history and the current leaderboard so
// late joiners start from known state.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]Subscriber

	latestTelemetry *cached
	recentLaps      []cached
	boardOrder      []string
	boardByVehicle  map[string]cached

	onFailure func(id string, err error)
}

// New creates a hub with empty subscriber sets for every stream.
func New() *Hub {
	return &Hub{
		streams: map[string]map[string]Subscriber{
			StreamTelemetry:   {},
			StreamLaps:        {},
			StreamLeaderboard: {},
		},
		boardByVehicle: make(map[string]cached),
	}
}

// SetFailureHandler installs a callback invoked after a subscriber is
// dropped for a failed delivery.
func (h *Hub) SetFailureHandler(f func(id string, err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFailure = f
}

// Register attaches a subscriber to the given streams, or to all streams
// when none are named, and replays the retained state of those streams to
// it so it does not wait for the next tick. A failure during replay drops
// the subscriber again immediately.
func (h *Hub) Register(sub Subscriber, streams ...string) {
	if len(streams) == 0 {
		streams = []string{StreamTelemetry, StreamLeaderboard, StreamLaps}
	}

	h.mu.Lock()
	attached := false
	for _, stream := range streams {
		set, ok := h.streams[stream]
		if !ok {
			log.Printf("Warning: unknown stream %q for subscriber %s", stream, sub.ID())
			continue
		}
		set[sub.ID()] = sub
		attached = true
	}
	replay := h.snapshotRetained(streams)
	h.mu.Unlock()

	if !attached {
		return
	}
	log.Printf("Subscriber %s connected", sub.ID())

	for _, c := range replay {
		if err := sub.Send(c.kind, c.data); err != nil {
			h.drop(sub.ID(), err)
			return
		}
	}
}

// Unregister detaches a subscriber from every stream. Unknown ids are
// ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	found := h.remove(id)
	h.mu.Unlock()

	if found {
		log.Printf("Subscriber %s disconnected", id)
	}
}

// remove deletes the id from all stream sets. Caller holds the lock.
func (h *Hub) remove(id string) bool {
	found := false
	for _, set := range h.streams {
		if _, ok := set[id]; ok {
			delete(set, id)
			found = true
		}
	}
	return found
}

// Count returns the number of distinct subscribers across all streams.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make(map[string]struct{})
	for _, set := range h.streams {
		for id := range set {
			ids[id] = struct{}{}
		}
	}
	return len(ids)
}

// CountStream returns the number of subscribers attached to one stream.
func (h *Hub) CountStream(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[stream])
}

// Clear detaches every subscriber, leaving all stream sets empty.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for stream := range h.streams {
		h.streams[stream] = map[string]Subscriber{}
	}
}

// Publish serializes the message, updates the retained state and delivers
// it to every subscriber of the message's stream. Failing subscribers are
// dropped; the rest still receive the message. Returns the number of
// successful deliveries.
func (h *Hub) Publish(msg types.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Warning: failed to marshal %s message: %v", msg.Kind(), err)
		return 0
	}

	kind := msg.Kind()
	stream := streamForKind(kind)
	if stream == "" {
		log.Printf("Warning: no stream for message kind %q", kind)
		return 0
	}

	h.mu.Lock()
	h.retain(msg, kind, data)
	targets := make([]Subscriber, 0, len(h.streams[stream]))
	for _, sub := range h.streams[stream] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(kind, data); err != nil {
			h.drop(sub.ID(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// drop removes a subscriber from every stream after a failed delivery and
// reports the classified error.
func (h *Hub) drop(id string, err error) {
	h.mu.Lock()
	found := h.remove(id)
	onFailure := h.onFailure
	h.mu.Unlock()

	if !found {
		return
	}
	log.Printf("Warning: dropping subscriber %s: %v", id, err)
	if onFailure != nil {
		onFailure(id, err)
	}
}

// retain updates the cached state for late joiners. Caller holds the lock.
func (h *Hub) retain(msg types.Message, kind string, data []byte) {
	switch m := msg.(type) {
	case *types.FrameMessage, *types.TelemetryEndMessage:
		h.latestTelemetry = &cached{kind: kind, data: data}
	case *types.LapEventMessage:
		h.recentLaps = append(h.recentLaps, cached{kind: kind, data: data})
		if len(h.recentLaps) > maxRecentLaps {
			h.recentLaps = h.recentLaps[len(h.recentLaps)-maxRecentLaps:]
		}
	case *types.LeaderboardEntryMessage:
		if _, ok := h.boardByVehicle[m.VehicleID]; !ok {
			h.boardOrder = append(h.boardOrder, m.VehicleID)
		}
		h.boardByVehicle[m.VehicleID] = cached{kind: kind, data: data}
	}
}

// snapshotRetained returns the replay sequence for a new subscriber of
// the given streams: latest telemetry, current leaderboard, then recent
// laps. Caller holds the lock.
func (h *Hub) snapshotRetained(streams []string) []cached {
	var replay []cached
	for _, stream := range streams {
		switch stream {
		case StreamTelemetry:
			if h.latestTelemetry != nil {
				replay = append(replay, *h.latestTelemetry)
			}
		case StreamLeaderboard:
			for _, vid := range h.boardOrder {
				replay = append(replay, h.boardByVehicle[vid])
			}
		case StreamLaps:
			replay = append(replay, h.recentLaps...)
		}
	}
	return replay
}

// LatestTelemetry returns the retained latest frame or end message.
func (h *Hub) LatestTelemetry() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latestTelemetry == nil {
		return nil
	}
	data := make([]byte, len(h.latestTelemetry.data))
	copy(data, h.latestTelemetry.data)
	return data
}

// RecentLaps returns the retained lap events, oldest first.
func (h *Hub) RecentLaps() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([][]byte, len(h.recentLaps))
	for i, c := range h.recentLaps {
		data := make([]byte, len(c.data))
		copy(data, c.data)
		out[i] = data
	}
	return out
}

// Leaderboard returns the retained standings, one entry per vehicle in
// first-seen order with later updates replacing earlier ones.
func (h *Hub) Leaderboard() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([][]byte, 0, len(h.boardOrder))
	for _, vid := range h.boardOrder {
		c := h.boardByVehicle[vid]
		data := make([]byte, len(c.data))
		copy(data, c.data)
		out = append(out, data)
	}
	return out
}
