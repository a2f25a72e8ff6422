package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/telemetry-rush/replay-server/internal/broadcast"
	"github.com/telemetry-rush/replay-server/internal/config"
	"github.com/telemetry-rush/replay-server/internal/db"
	"github.com/telemetry-rush/replay-server/internal/nats"
	"github.com/telemetry-rush/replay-server/internal/redis"
	"github.com/telemetry-rush/replay-server/internal/replay"
	"github.com/telemetry-rush/replay-server/internal/storage"
	"github.com/telemetry-rush/replay-server/internal/store"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// DBClient interface for testability
type DBClient interface {
	GetOpenSessions() ([]*types.Session, error)
	CreateSession(session *types.Session) error
	EndSession(sessionID string, endedAt time.Time) error
	StoreLapEvent(sessionID string, ev *types.LapEvent) error
	StoreLeaderboardEntry(sessionID string, e *types.LeaderboardEntry) error
	Close() error
}

// RedisClient interface for testability
type RedisClient interface {
	StoreActiveSession(ctx context.Context, session *types.Session) error
	ClearActiveSession(ctx context.Context) error
	Close() error
}

// Archiver is a hub subscriber that persists lap events and leaderboard
// rows into the database under the current session. Archive failures are
// logged and swallowed so a database hiccup never detaches the archiver
// from the hub.
type Archiver struct {
	id        string
	sessionID string
	db        DBClient
}

// NewArchiver creates an archiver bound to one session.
func NewArchiver(sessionID string, db DBClient) *Archiver {
	return &Archiver{
		id:        uuid.New().String(),
		sessionID: sessionID,
		db:        db,
	}
}

// ID returns the archiver's subscriber identity.
func (a *Archiver) ID() string {
	return a.id
}

// Send stores lap and leaderboard messages; other kinds are ignored.
func (a *Archiver) Send(kind string, data []byte) error {
	switch kind {
	case types.MessageLapEvent:
		var msg types.LapEventMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Warning: failed to decode lap event for archive: %v", err)
			return nil
		}
		if err := a.db.StoreLapEvent(a.sessionID, &msg.LapEvent); err != nil {
			log.Printf("Warning: failed to archive lap event: %v", err)
		}
	case types.MessageLeaderboard:
		var msg types.LeaderboardEntryMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Warning: failed to decode leaderboard entry for archive: %v", err)
			return nil
		}
		if err := a.db.StoreLeaderboardEntry(a.sessionID, &msg.LeaderboardEntry); err != nil {
			log.Printf("Warning: failed to archive leaderboard entry: %v", err)
		}
	}
	return nil
}

// sessionData holds everything loaded from disk for one replay session.
type sessionData struct {
	store   *store.Store
	weather *store.WeatherIndex
	laps    []types.LapEvent
	board   []types.LeaderboardEntry
}

// loadSessionData loads the per-vehicle telemetry plus the optional
// weather, lap and leaderboard files. Telemetry is required; the side
// feeds degrade to empty with a warning when their files are missing.
func loadSessionData(cfg *config.Config) (*sessionData, error) {
	perVehicle, err := storage.LoadVehicleDir(cfg.VehiclesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load vehicle telemetry: %w", err)
	}

	data := &sessionData{store: store.Build(perVehicle)}
	if data.store.Len() == 0 {
		return nil, fmt.Errorf("no telemetry samples found in %s", cfg.VehiclesDir)
	}

	weather, err := storage.ReadWeatherFile(cfg.WeatherFile)
	if err != nil {
		log.Printf("Warning: weather data unavailable: %v", err)
	}
	data.weather = store.NewWeatherIndex(weather)

	data.laps, err = storage.ReadEnduranceFile(cfg.EnduranceFile)
	if err != nil {
		log.Printf("Warning: lap event data unavailable: %v", err)
	}

	data.board, err = storage.ReadLeaderboardFile(cfg.LeaderboardFile)
	if err != nil {
		log.Printf("Warning: leaderboard data unavailable: %v", err)
	}

	return data, nil
}

// openSession closes any sessions left open by a previous crash and
// registers a new one for this run.
func openSession(dbClient DBClient, cfg *config.Config, data *sessionData) (*types.Session, error) {
	stale, err := dbClient.GetOpenSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to load open sessions: %w", err)
	}
	for _, s := range stale {
		log.Printf("Warning: closing stale session %s (%s)", s.SessionID, s.Name)
		if err := dbClient.EndSession(s.SessionID, time.Now().UTC()); err != nil {
			log.Printf("Warning: failed to close stale session %s: %v", s.SessionID, err)
		}
	}

	session := &types.Session{
		SessionID:     uuid.New().String(),
		Name:          cfg.SessionName,
		StartedAt:     time.Now().UTC(),
		PlaybackSpeed: cfg.PlaybackSpeed,
		VehicleCount:  data.store.VehicleCount(),
		SampleCount:   data.store.Len(),
	}
	if err := dbClient.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// createClients creates all the required clients for the application
func createClients(cfg *config.Config) (*nats.Client, *db.Client, *redis.Client, error) {
	// Create NATS client
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	// Create database client
	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}

	// Create Redis client
	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		natsClient.Close()
		if closeErr := dbClient.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", closeErr)
		}
		return nil, nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return natsClient, dbClient, redisClient, nil
}

// setupEngine builds the hub, attaches the egress subscribers and creates
// the replay engine over the loaded data.
func setupEngine(data *sessionData, cfg *config.Config, session *types.Session, natsClient *nats.Client, dbClient *db.Client, redisClient *redis.Client) (*replay.Engine, error) {
	hub := broadcast.New()

	engine, err := replay.New(data.store, data.weather, data.laps, data.board, hub, cfg.PlaybackSpeed, cfg.TargetHz)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay engine: %w", err)
	}

	hub.Register(nats.NewBridgeSubscriber(natsClient))
	hub.Register(redis.NewMirror(redisClient))
	hub.Register(NewArchiver(session.SessionID, dbClient), broadcast.StreamLaps, broadcast.StreamLeaderboard)

	// Persist engine statistics alongside the session
	engine.Stats().SetDB(dbClient)

	return engine, nil
}

// setupControlSubscription routes inbound control commands to the engine.
// Malformed commands only bump a counter; they never reach the engine.
func setupControlSubscription(natsClient *nats.Client, engine *replay.Engine) error {
	handler := func(cmd types.Command) {
		engine.SubmitCommand(cmd)
	}
	dropped := func(err error) {
		engine.Stats().IncrementInvalidCommands()
	}
	if err := natsClient.SubscribeControl(handler, dropped); err != nil {
		return fmt.Errorf("failed to subscribe to control commands: %w", err)
	}
	return nil
}

// advertiseSession publishes the active session marker for late joiners.
func advertiseSession(ctx context.Context, redisClient RedisClient, session *types.Session) {
	if err := redisClient.StoreActiveSession(ctx, session); err != nil {
		log.Printf("Warning: failed to advertise session in Redis: %v", err)
	}
}

// closeSession marks the session finished in the database and removes the
// active-session marker from Redis.
func closeSession(dbClient DBClient, redisClient RedisClient, session *types.Session) {
	if err := dbClient.EndSession(session.SessionID, time.Now().UTC()); err != nil {
		fmt.Fprintf(os.Stderr, "error ending session: %v\n", err)
	}
	if err := redisClient.ClearActiveSession(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error clearing active session: %v\n", err)
	}
}

// waitForShutdown waits for shutdown signals and handles cleanup
func waitForShutdown(cancel context.CancelFunc, engine *replay.Engine, session *types.Session, natsClient *nats.Client, dbClient *db.Client, redisClient *redis.Client) {
	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	engine.Wait()

	closeSession(dbClient, redisClient, session)

	natsClient.Close()
	if err := dbClient.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
	}
	if err := redisClient.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	// Load session data from disk
	data, err := loadSessionData(cfg)
	if err != nil {
		log.Printf("Failed to load session data: %v", err)
		os.Exit(1)
	}
	log.Printf("Loaded %d samples across %d vehicles", data.store.Len(), data.store.VehicleCount())

	// Create clients
	natsClient, dbClient, redisClient, err := createClients(cfg)
	if err != nil {
		log.Printf("Failed to create clients: %v", err)
		os.Exit(1)
	}

	closeClients := func() {
		natsClient.Close()
		if err := dbClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
		}
		if err := redisClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}

	// Register the session
	session, err := openSession(dbClient, cfg, data)
	if err != nil {
		log.Printf("Failed to open session: %v", err)
		closeClients()
		os.Exit(1)
	}

	// Build the engine and its subscribers
	engine, err := setupEngine(data, cfg, session, natsClient, dbClient, redisClient)
	if err != nil {
		log.Printf("Failed to setup engine: %v", err)
		closeClients()
		os.Exit(1)
	}

	// Subscribe to control commands
	if err := setupControlSubscription(natsClient, engine); err != nil {
		log.Printf("Failed to setup control subscription: %v", err)
		closeClients()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	advertiseSession(ctx, redisClient, session)

	engine.Start(ctx)
	go engine.Stats().StartPersistence(ctx, 5*time.Minute)
	log.Printf("Replay session %s (%s) started: speed=%.2fx, target=%dHz", session.SessionID, session.Name, cfg.PlaybackSpeed, cfg.TargetHz)

	// Wait for shutdown
	waitForShutdown(cancel, engine, session, natsClient, dbClient, redisClient)
}
