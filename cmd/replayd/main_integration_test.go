package main

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	natsMod "github.com/testcontainers/testcontainers-go/modules/nats"
	postgresMod "github.com/testcontainers/testcontainers-go/modules/postgres"
	redisMod "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telemetry-rush/replay-server/internal/config"
	"github.com/telemetry-rush/replay-server/internal/db/migrations"
	natsclient "github.com/telemetry-rush/replay-server/internal/nats"
	"github.com/telemetry-rush/replay-server/internal/storage"
	"github.com/telemetry-rush/replay-server/internal/testutils"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// INTEGRATION TESTS WITH TESTCONTAINERS (Comprehensive)

type testContainers struct {
	postgres *postgresMod.PostgresContainer
	redis    *redisMod.RedisContainer
	nats     *natsMod.NATSContainer
}

func setupTestContainers(ctx context.Context, t *testing.T) *testContainers {
	t.Helper()

	// TimescaleDB container; the migrations create the extension
	postgresContainer, err := postgresMod.Run(ctx,
		"timescale/timescaledb:latest-pg16",
		postgresMod.WithDatabase("replay_data"),
		postgresMod.WithUsername("replay"),
		postgresMod.WithPassword("replay_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	// Redis container
	redisContainer, err := redisMod.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Ready to accept connections")),
	)
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}

	// NATS container with JetStream enabled
	natsContainer, err := natsMod.Run(ctx,
		"nats:2.9-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start nats container: %v", err)
	}

	return &testContainers{
		postgres: postgresContainer,
		redis:    redisContainer,
		nats:     natsContainer,
	}
}

func (c *testContainers) cleanup(t *testing.T) {
	ctx := context.Background()
	if err := c.postgres.Terminate(ctx); err != nil {
		t.Logf("Failed to terminate postgres container: %v", err)
	}
	if err := c.redis.Terminate(ctx); err != nil {
		t.Logf("Failed to terminate redis container: %v", err)
	}
	if err := c.nats.Terminate(ctx); err != nil {
		t.Logf("Failed to terminate nats container: %v", err)
	}
}

// endpoints resolves container connection details into a Config pointing
// at the given data directory.
func (c *testContainers) endpoints(ctx context.Context, t *testing.T, cfg *config.Config) {
	t.Helper()

	postgresConn, err := c.postgres.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get postgres connection string: %v", err)
	}
	cfg.DBConnStr = postgresConn

	redisHost, err := c.redis.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get redis host: %v", err)
	}
	redisPort, err := c.redis.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get redis port: %v", err)
	}
	cfg.RedisAddr = fmt.Sprintf("%s:%s", redisHost, redisPort.Port())

	natsHost, err := c.nats.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get nats host: %v", err)
	}
	natsPort, err := c.nats.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("Failed to get nats port: %v", err)
	}
	cfg.NATSURL = fmt.Sprintf("nats://%s:%s", natsHost, natsPort.Port())
}

func applyMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator := migrations.New(db)
	list := []*migrations.Migration{
		migrations.InitialSchema,
		migrations.RetentionPolicies,
	}
	if err := migrator.Migrate(list); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
}

func TestCreateClients_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	containers := setupTestContainers(ctx, t)
	defer containers.cleanup(t)

	cfg := &config.Config{}
	containers.endpoints(ctx, t, cfg)

	natsClient, dbClient, redisClient, err := createClients(cfg)
	if err != nil {
		t.Fatalf("createClients() failed: %v", err)
	}

	if natsClient == nil || dbClient == nil || redisClient == nil {
		t.Error("Expected all clients to be non-nil")
	}

	natsClient.Close()
	if err := dbClient.Close(); err != nil {
		t.Errorf("Failed to close database client: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		t.Errorf("Failed to close redis client: %v", err)
	}
}

func TestMigrations_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	containers := setupTestContainers(ctx, t)
	defer containers.cleanup(t)

	cfg := &config.Config{}
	containers.endpoints(ctx, t, cfg)
	applyMigrations(t, cfg.DBConnStr)

	db, err := sql.Open("postgres", cfg.DBConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	tables := []string{"replay_sessions", "lap_events", "leaderboard_entries", "engine_stats"}
	for _, table := range tables {
		var exists bool
		query := `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`
		if err := db.QueryRow(query, table).Scan(&exists); err != nil {
			t.Errorf("Failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Table %s was not created", table)
		}
	}
}

func TestFullReplay_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	containers := setupTestContainers(ctx, t)
	defer containers.cleanup(t)

	// Session fixtures on disk
	dir := t.TempDir()
	cfg := fixtureConfig(dir)
	cfg.SessionName = "R1-integration"
	containers.endpoints(ctx, t, cfg)
	applyMigrations(t, cfg.DBConnStr)

	base := time.Date(2023, 4, 30, 18, 30, 0, 0, time.UTC)
	if _, err := storage.WriteVehicleFile(cfg.VehiclesDir, "07", []types.Sample{
		testutils.MockSample("07", "speed_kph", base, 182.4),
		testutils.MockSample("07", "speed_kph", base.Add(50*time.Millisecond), 183.0),
	}); err != nil {
		t.Fatalf("Failed to write vehicle file: %v", err)
	}
	if _, err := storage.WriteVehicleFile(cfg.VehiclesDir, "42", []types.Sample{
		testutils.MockSample("42", "speed_kph", base.Add(20*time.Millisecond), 179.1),
	}); err != nil {
		t.Fatalf("Failed to write vehicle file: %v", err)
	}
	writeFixture(t, cfg.EnduranceFile,
		"NUMBER;LAP_NUMBER;LAP_TIME;TOP_SPEED;FLAG_AT_FL;HOUR;ELAPSED\n"+
			"07;1;01:44.120;178.4;GF;18:31:44.120;01:44.120\n"+
			"42;1;01:45.003;176.2;GF;18:31:45.003;01:45.003\n")
	writeFixture(t, cfg.LeaderboardFile,
		"CLASS_TYPE;POS;NUMBER;VEHICLE;LAPS;BEST_LAP_TIME\n"+
			"GT3;1;07;GT3 #07;24;01:42.618\n"+
			"GT3;2;42;GT3 #42;24;01:43.240\n")

	// Wire everything the way main() does
	natsClient, dbClient, redisClient, err := createClients(cfg)
	if err != nil {
		t.Fatalf("createClients() failed: %v", err)
	}
	defer func() {
		natsClient.Close()
		if err := dbClient.Close(); err != nil {
			t.Logf("Failed to close database client: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			t.Logf("Failed to close redis client: %v", err)
		}
	}()

	data, err := loadSessionData(cfg)
	if err != nil {
		t.Fatalf("loadSessionData() failed: %v", err)
	}

	session, err := openSession(dbClient, cfg, data)
	if err != nil {
		t.Fatalf("openSession() failed: %v", err)
	}
	if session.VehicleCount != 2 || session.SampleCount != 3 {
		t.Errorf("Expected 2 vehicles and 3 samples, got %d and %d", session.VehicleCount, session.SampleCount)
	}

	engine, err := setupEngine(data, cfg, session, natsClient, dbClient, redisClient)
	if err != nil {
		t.Fatalf("setupEngine() failed: %v", err)
	}
	if err := setupControlSubscription(natsClient, engine); err != nil {
		t.Fatalf("setupControlSubscription() failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	advertiseSession(runCtx, redisClient, session)
	active, err := redisClient.GetActiveSession(runCtx)
	if err != nil {
		t.Fatalf("Failed to read active session: %v", err)
	}
	if active == nil || active.SessionID != session.SessionID {
		t.Error("Expected active session marker in Redis")
	}

	// A second connection plays the role of a downstream consumer and the
	// control publisher.
	consumer, err := natsclient.New(cfg.NATSURL)
	if err != nil {
		t.Fatalf("Failed to create consumer client: %v", err)
	}
	defer consumer.Close()

	frameReceived := make(chan *types.FrameMessage, 16)
	err = consumer.SubscribeTelemetry(func(msg types.Message) {
		if frame, ok := msg.(*types.FrameMessage); ok {
			select {
			case frameReceived <- frame:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("Failed to subscribe to telemetry: %v", err)
	}

	// Give the subscription time to establish
	time.Sleep(100 * time.Millisecond)

	engine.Start(runCtx)

	// Playback starts paused; the play command arrives over NATS
	if err := consumer.PublishControl(types.Command{Cmd: types.CmdPlay}); err != nil {
		t.Fatalf("Failed to publish play command: %v", err)
	}

	select {
	case frame := <-frameReceived:
		if len(frame.Vehicles) == 0 {
			t.Error("Expected frame to carry vehicle data")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for telemetry frame")
	}

	// The play command went through the control path
	if err := testutils.WaitForCondition(func() bool {
		return engine.Stats().GetStats()["control_commands"].(uint64) >= 1
	}, 5*time.Second); err != nil {
		t.Error("Expected control command to be counted")
	}

	// The mirror caches the latest frame for late joiners
	if err := testutils.WaitForCondition(func() bool {
		frame, err := redisClient.GetLatestFrame(runCtx)
		return err == nil && frame != nil
	}, 5*time.Second); err != nil {
		t.Error("Expected latest frame in Redis")
	}

	// The archiver lands lap events in TimescaleDB
	sqlDB, err := sql.Open("postgres", cfg.DBConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer sqlDB.Close()

	if err := testutils.WaitForCondition(func() bool {
		var count int
		if err := sqlDB.QueryRow(
			`SELECT COUNT(*) FROM lap_events WHERE session_id = $1`, session.SessionID,
		).Scan(&count); err != nil {
			return false
		}
		return count >= 2
	}, 10*time.Second); err != nil {
		t.Error("Expected lap events to be archived")
	}

	// Shutdown closes the session and drops the marker
	cancel()
	engine.Wait()
	closeSession(dbClient, redisClient, session)

	var endedAt sql.NullTime
	if err := sqlDB.QueryRow(
		`SELECT ended_at FROM replay_sessions WHERE session_id = $1`, session.SessionID,
	).Scan(&endedAt); err != nil {
		t.Fatalf("Failed to read session row: %v", err)
	}
	if !endedAt.Valid {
		t.Error("Expected session to be marked ended")
	}

	active, err = redisClient.GetActiveSession(context.Background())
	if err != nil {
		t.Fatalf("Failed to read active session after close: %v", err)
	}
	if active != nil {
		t.Error("Expected active session marker to be cleared")
	}
}
