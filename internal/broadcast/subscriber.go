package broadcast

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrClosed reports a delivery to a subscriber that has shut down.
	ErrClosed = errors.New("subscriber closed")
	// ErrSlowConsumer reports a subscriber whose buffer is full.
	ErrSlowConsumer = errors.New("subscriber buffer full")
)

// Envelope is one delivered message with its type tag, as consumed from a
// ChannelSubscriber.
type Envelope struct {
	Kind string
	Data []byte
}

// ChannelSubscriber delivers messages over a buffered channel. Send never
// blocks: a full buffer fails with ErrSlowConsumer, which causes the hub
// to drop the subscriber rather than stall the broadcast.
type ChannelSubscriber struct {
	id string
	ch chan Envelope

	mu     sync.RWMutex
	closed bool
}

// NewChannelSubscriber creates a subscriber with the given buffer size.
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSubscriber{
		id: uuid.New().String(),
		ch: make(chan Envelope, buffer),
	}
}

// ID returns the subscriber's unique id.
func (s *ChannelSubscriber) ID() string {
	return s.id
}

// Send enqueues a message for the consumer.
func (s *ChannelSubscriber) Send(kind string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- Envelope{Kind: kind, Data: data}:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// C returns the consumer side of the subscriber.
func (s *ChannelSubscriber) C() <-chan Envelope {
	return s.ch
}

// Close shuts the subscriber down. Subsequent sends fail with ErrClosed
// and the consumer channel is closed.
func (s *ChannelSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
