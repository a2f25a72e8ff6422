package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message kinds carried on the outbound fan-out.
const (
	MessageFrame        = "telemetry_frame"
	MessageTelemetryEnd = "telemetry_end"
	MessageLapEvent     = "lap_event"
	MessageLeaderboard  = "leaderboard_entry"
)

// Message is one outbound broadcast message. Exactly one concrete type
// exists per kind.
type Message interface {
	Kind() string
}

// ChannelValues maps channel name to the latest value within a frame window.
type ChannelValues map[string]Value

// FrameMessage represents one simulated-time telemetry frame covering all
// vehicles that produced samples in the window.
type FrameMessage struct {
	Type      string                   `json:"type"`
	Timestamp string                   `json:"timestamp"`
	Vehicles  map[string]ChannelValues `json:"vehicles"`
	Weather   *Weather                 `json:"weather"`
}

// NewFrameMessage builds a frame stamped with the simulated time.
func NewFrameMessage(sim time.Time, vehicles map[string]ChannelValues, weather *Weather) *FrameMessage {
	return &FrameMessage{
		Type:      MessageFrame,
		Timestamp: FormatTime(sim),
		Vehicles:  vehicles,
		Weather:   weather,
	}
}

// Kind identifies the message type tag.
func (m *FrameMessage) Kind() string { return MessageFrame }

// TelemetryEndMessage signals that forward playback passed the final sample.
type TelemetryEndMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// NewTelemetryEndMessage builds the end-of-stream marker.
func NewTelemetryEndMessage(sim time.Time) *TelemetryEndMessage {
	return &TelemetryEndMessage{
		Type:      MessageTelemetryEnd,
		Timestamp: FormatTime(sim),
	}
}

// Kind identifies the message type tag.
func (m *TelemetryEndMessage) Kind() string { return MessageTelemetryEnd }

// LapEventMessage represents one completed lap on the fan-out.
type LapEventMessage struct {
	Type string `json:"type"`
	LapEvent
}

// NewLapEventMessage wraps a lap event for broadcast.
func NewLapEventMessage(ev LapEvent) *LapEventMessage {
	return &LapEventMessage{Type: MessageLapEvent, LapEvent: ev}
}

// Kind identifies the message type tag.
func (m *LapEventMessage) Kind() string { return MessageLapEvent }

// LeaderboardEntryMessage represents one classification row on the fan-out.
type LeaderboardEntryMessage struct {
	Type string `json:"type"`
	LeaderboardEntry
}

// NewLeaderboardEntryMessage wraps a leaderboard entry for broadcast.
func NewLeaderboardEntryMessage(e LeaderboardEntry) *LeaderboardEntryMessage {
	return &LeaderboardEntryMessage{Type: MessageLeaderboard, LeaderboardEntry: e}
}

// Kind identifies the message type tag.
func (m *LeaderboardEntryMessage) Kind() string { return MessageLeaderboard }

// DecodeMessage parses an outbound message back into its concrete type.
func DecodeMessage(data []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	switch probe.Type {
	case MessageFrame:
		var m FrameMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
		return &m, nil
	case MessageTelemetryEnd:
		var m TelemetryEndMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode telemetry end: %w", err)
		}
		return &m, nil
	case MessageLapEvent:
		var m LapEventMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode lap event: %w", err)
		}
		return &m, nil
	case MessageLeaderboard:
		var m LeaderboardEntryMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode leaderboard entry: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", probe.Type)
	}
}

// Control command names accepted on the control subject.
const (
	CmdPlay    = "play"
	CmdPause   = "pause"
	CmdReverse = "reverse"
	CmdRestart = "restart"
	CmdSpeed   = "speed"
	CmdSeek    = "seek"
)

// Command represents one inbound control command.
type Command struct {
	Cmd       string   `json:"cmd"`
	Value     *float64 `json:"value,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`

	// SeekTime is the parsed Timestamp, set by ParseCommand for seek.
	SeekTime time.Time `json:"-"`
}

// ParseCommand decodes and validates a control command payload.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to decode command: %w", err)
	}
	switch cmd.Cmd {
	case CmdPlay, CmdPause, CmdReverse, CmdRestart:
		return cmd, nil
	case CmdSpeed:
		if cmd.Value == nil {
			return Command{}, fmt.Errorf("speed command missing value")
		}
		if *cmd.Value < 0 {
			return Command{}, fmt.Errorf("speed must be non-negative, got %v", *cmd.Value)
		}
		return cmd, nil
	case CmdSeek:
		if cmd.Timestamp == "" {
			return Command{}, fmt.Errorf("seek command missing timestamp")
		}
		t, err := ParseTime(cmd.Timestamp)
		if err != nil {
			return Command{}, fmt.Errorf("failed to parse seek timestamp: %w", err)
		}
		cmd.SeekTime = t
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown command: %q", cmd.Cmd)
	}
}
