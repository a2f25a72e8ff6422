package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// Subjects carried over NATS. Frames ride core NATS and are ephemeral; lap
// and leaderboard events go through the durable REPLAY_EVENTS stream so a
// consumer that joins late still sees them.
const (
	SubjectFrames      = "replay.frames"
	SubjectLaps        = "replay.laps"
	SubjectLeaderboard = "replay.leaderboard"
	SubjectControl     = "replay.control"
)

// streamName is the JetStream stream holding durable replay events.
const streamName = "REPLAY_EVENTS"

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a new NATS client
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{SubjectLaps, SubjectLeaderboard},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// PublishFrame publishes a telemetry frame
func (c *Client) PublishFrame(msg *types.FrameMessage) error {
	return c.publishTelemetry(msg)
}

// PublishTelemetryEnd publishes the end-of-stream marker
func (c *Client) PublishTelemetryEnd(msg *types.TelemetryEndMessage) error {
	return c.publishTelemetry(msg)
}

func (c *Client) publishTelemetry(msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.conn.Publish(SubjectFrames, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// PublishLapEvent publishes a lap event to the durable stream
func (c *Client) PublishLapEvent(msg *types.LapEventMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal lap event: %w", err)
	}

	if _, err := c.js.Publish(SubjectLaps, data); err != nil {
		return fmt.Errorf("failed to publish lap event: %w", err)
	}

	return nil
}

// PublishLeaderboardEntry publishes a classification row to the durable stream
func (c *Client) PublishLeaderboardEntry(msg *types.LeaderboardEntryMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard entry: %w", err)
	}

	if _, err := c.js.Publish(SubjectLeaderboard, data); err != nil {
		return fmt.Errorf("failed to publish leaderboard entry: %w", err)
	}

	return nil
}

// SubscribeTelemetry subscribes to telemetry frames and end markers
func (c *Client) SubscribeTelemetry(handler func(types.Message)) error {
	_, err := c.conn.Subscribe(SubjectFrames, func(m *nats.Msg) {
		msg, err := types.DecodeMessage(m.Data)
		if err != nil {
			log.Printf("Warning: failed to decode telemetry message: %v", err)
			return
		}
		handler(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// SubscribeLapEvents subscribes to lap events
func (c *Client) SubscribeLapEvents(handler func(*types.LapEventMessage)) error {
	_, err := c.js.Subscribe(SubjectLaps, func(m *nats.Msg) {
		var msg types.LapEventMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Printf("Warning: failed to decode lap event: %v", err)
			return
		}
		handler(&msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// SubscribeLeaderboard subscribes to classification rows
func (c *Client) SubscribeLeaderboard(handler func(*types.LeaderboardEntryMessage)) error {
	_, err := c.js.Subscribe(SubjectLeaderboard, func(m *nats.Msg) {
		var msg types.LeaderboardEntryMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Printf("Warning: failed to decode leaderboard entry: %v", err)
			return
		}
		handler(&msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// SubscribeControl subscribes to playback control commands. Payloads that
// fail validation are dropped after the optional dropped callback sees the
// error; they never reach the handler.
func (c *Client) SubscribeControl(handler func(types.Command), dropped func(error)) error {
	_, err := c.conn.Subscribe(SubjectControl, func(m *nats.Msg) {
		cmd, err := types.ParseCommand(m.Data)
		if err != nil {
			log.Printf("Warning: ignoring control command: %v", err)
			if dropped != nil {
				dropped(err)
			}
			return
		}
		handler(cmd)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to control: %w", err)
	}

	return nil
}

// PublishControl publishes a playback control command
func (c *Client) PublishControl(cmd types.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	if err := c.conn.Publish(SubjectControl, data); err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
