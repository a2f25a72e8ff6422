package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// Cache keys. One replay process owns the cache, so the keys are fixed
// singletons rather than per-entity.
const (
	keyLatestFrame   = "replay:frame:latest"
	keyRecentLaps    = "replay:laps:recent"
	keyLeaderboard   = "replay:leaderboard"
	keyActiveSession = "replay:session:active"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// StoreLatestFrame caches the most recent telemetry frame. The short TTL
// keeps a stale frame from outliving a crashed replay by much.
func (c *Client) StoreLatestFrame(ctx context.Context, frame *types.FrameMessage) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	return c.client.Set(ctx, keyLatestFrame, data, 1*time.Hour).Err()
}

// GetLatestFrame retrieves the most recent telemetry frame, or nil when
// nothing is cached.
func (c *Client) GetLatestFrame(ctx context.Context) (*types.FrameMessage, error) {
	var frame types.FrameMessage
	if err := c.getData(ctx, keyLatestFrame, &frame, "frame"); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		return nil, nil // Not cached
	}
	return &frame, nil
}

// StoreRecentLaps caches the recent lap history
func (c *Client) StoreRecentLaps(ctx context.Context, laps []types.LapEventMessage) error {
	data, err := json.Marshal(laps)
	if err != nil {
		return fmt.Errorf("failed to marshal lap history: %w", err)
	}

	return c.client.Set(ctx, keyRecentLaps, data, 24*time.Hour).Err()
}

// GetRecentLaps retrieves the recent lap history, oldest first
func (c *Client) GetRecentLaps(ctx context.Context) ([]types.LapEventMessage, error) {
	var laps []types.LapEventMessage
	if err := c.getData(ctx, keyRecentLaps, &laps, "lap history"); err != nil {
		return nil, err
	}
	return laps, nil
}

// StoreLeaderboard caches the current classification
func (c *Client) StoreLeaderboard(ctx context.Context, entries []types.LeaderboardEntryMessage) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard: %w", err)
	}

	return c.client.Set(ctx, keyLeaderboard, data, 24*time.Hour).Err()
}

// GetLeaderboard retrieves the current classification
func (c *Client) GetLeaderboard(ctx context.Context) ([]types.LeaderboardEntryMessage, error) {
	var entries []types.LeaderboardEntryMessage
	if err := c.getData(ctx, keyLeaderboard, &entries, "leaderboard"); err != nil {
		return nil, err
	}
	return entries, nil
}

// StoreActiveSession publishes the running session for dashboards
func (c *Client) StoreActiveSession(ctx context.Context, session *types.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return c.client.Set(ctx, keyActiveSession, data, 24*time.Hour).Err()
}

// GetActiveSession retrieves the running session, or nil when none is
// advertised.
func (c *Client) GetActiveSession(ctx context.Context) (*types.Session, error) {
	var session types.Session
	if err := c.getData(ctx, keyActiveSession, &session, "session"); err != nil {
		return nil, err
	}
	if session.SessionID == "" {
		return nil, nil // Not cached
	}
	return &session, nil
}

// ClearActiveSession removes the advertised session on shutdown
func (c *Client) ClearActiveSession(ctx context.Context) error {
	return c.client.Del(ctx, keyActiveSession).Err()
}

// getData retrieves data from Redis and unmarshals it into the target
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil // Data not found
	}
	if err != nil {
		return fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}

	return nil
}
