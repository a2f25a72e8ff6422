package nats

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// BridgeSubscriber forwards hub traffic onto NATS so out-of-process
// consumers see the same streams as in-process subscribers. Payloads are
// published as-is; the hub already hands them over marshaled.
type BridgeSubscriber struct {
	id     string
	client *Client
}

// NewBridgeSubscriber creates a hub subscriber backed by a NATS client
func NewBridgeSubscriber(client *Client) *BridgeSubscriber {
	return &BridgeSubscriber{
		id:     uuid.New().String(),
		client: client,
	}
}

// ID returns the subscriber identifier
func (b *BridgeSubscriber) ID() string {
	return b.id
}

// Send routes a hub message to the subject matching its kind
func (b *BridgeSubscriber) Send(kind string, data []byte) error {
	switch kind {
	case types.MessageFrame, types.MessageTelemetryEnd:
		if err := b.client.conn.Publish(SubjectFrames, data); err != nil {
			return fmt.Errorf("failed to publish frame: %w", err)
		}
	case types.MessageLapEvent:
		if _, err := b.client.js.Publish(SubjectLaps, data); err != nil {
			return fmt.Errorf("failed to publish lap event: %w", err)
		}
	case types.MessageLeaderboard:
		if _, err := b.client.js.Publish(SubjectLeaderboard, data); err != nil {
			return fmt.Errorf("failed to publish leaderboard entry: %w", err)
		}
	default:
		return fmt.Errorf("unknown message kind: %s", kind)
	}

	return nil
}
