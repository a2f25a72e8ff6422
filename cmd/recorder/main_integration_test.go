package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	natsMod "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	natsclient "github.com/telemetry-rush/replay-server/internal/nats"
	"github.com/telemetry-rush/replay-server/internal/storage"
	"github.com/telemetry-rush/replay-server/internal/testutils"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// INTEGRATION TESTS WITH TESTCONTAINERS (Comprehensive)

// testContainers holds the test containers for integration tests
type testContainers struct {
	nats *natsMod.NATSContainer
}

// setupTestContainers starts a NATS container with JetStream enabled
func setupTestContainers(ctx context.Context, t *testing.T) *testContainers {
	t.Helper()

	natsContainer, err := natsMod.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}

	return &testContainers{nats: natsContainer}
}

func (c *testContainers) cleanup(t *testing.T) {
	if err := c.nats.Terminate(context.Background()); err != nil {
		t.Logf("Failed to terminate NATS container: %v", err)
	}
}

// archiveLineCount counts complete lines in the current day's archive file
func archiveLineCount(dir string) int {
	path := filepath.Join(dir, fmt.Sprintf("replay_%s.jsonl", time.Now().UTC().Format("2006-01-02")))
	content, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(content), "\n")
}

// decodeArchive reads the current day's archive file back into messages
func decodeArchive(t *testing.T, dir string) []types.Message {
	t.Helper()

	path := filepath.Join(dir, fmt.Sprintf("replay_%s.jsonl", time.Now().UTC().Format("2006-01-02")))
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read archive file: %v", err)
	}

	var messages []types.Message
	for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
		if line == "" {
			continue
		}
		decoded, err := types.DecodeMessage([]byte(line))
		if err != nil {
			t.Fatalf("Failed to decode archive line %q: %v", line, err)
		}
		messages = append(messages, decoded)
	}
	return messages
}

// TestSubscribeStreams_Integration tests subscribing against a real broker
func TestSubscribeStreams_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	containers := setupTestContainers(ctx, t)
	defer containers.cleanup(t)

	natsURL, err := containers.nats.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}

	client, err := natsclient.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	archive := storage.NewArchive(t.TempDir())
	if err := archive.Start(); err != nil {
		t.Fatalf("Failed to start archive: %v", err)
	}
	defer func() {
		if err := archive.Stop(); err != nil {
			t.Logf("Failed to stop archive: %v", err)
		}
	}()

	if err := subscribeStreams(client, NewRecorder(archive)); err != nil {
		t.Errorf("subscribeStreams() failed: %v", err)
	}
}

// TestRecorder_Integration tests the full publish-to-archive flow
func TestRecorder_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	containers := setupTestContainers(ctx, t)
	defer containers.cleanup(t)

	natsURL, err := containers.nats.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}

	// Recorder side
	client, err := natsclient.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	tempDir := t.TempDir()
	archive := storage.NewArchive(tempDir)
	if err := archive.Start(); err != nil {
		t.Fatalf("Failed to start archive: %v", err)
	}

	if err := subscribeStreams(client, NewRecorder(archive)); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	// Publisher side
	publisher, err := natsclient.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create publisher client: %v", err)
	}
	defer publisher.Close()

	// Give the subscriptions a moment to register
	time.Sleep(100 * time.Millisecond)

	sim := time.Date(2023, 4, 30, 18, 30, 0, 0, time.UTC)
	if err := publisher.PublishFrame(testutils.MockFrame(sim, "07")); err != nil {
		t.Fatalf("Failed to publish frame: %v", err)
	}
	if err := publisher.PublishLapEvent(types.NewLapEventMessage(testutils.MockLapEvent("07", 1))); err != nil {
		t.Fatalf("Failed to publish lap event: %v", err)
	}
	if err := publisher.PublishLeaderboardEntry(types.NewLeaderboardEntryMessage(testutils.MockLeaderboardEntry(1, "07"))); err != nil {
		t.Fatalf("Failed to publish leaderboard entry: %v", err)
	}
	if err := publisher.PublishTelemetryEnd(types.NewTelemetryEndMessage(sim.Add(time.Second))); err != nil {
		t.Fatalf("Failed to publish end marker: %v", err)
	}

	if err := testutils.WaitForCondition(func() bool {
		return archiveLineCount(tempDir) >= 4
	}, 10*time.Second); err != nil {
		t.Fatalf("Archive never reached 4 lines: %v (have %d)", err, archiveLineCount(tempDir))
	}

	client.Close()
	if err := archive.Stop(); err != nil {
		t.Fatalf("Failed to stop archive: %v", err)
	}

	kinds := make(map[string]int)
	for _, msg := range decodeArchive(t, tempDir) {
		kinds[msg.Kind()]++
	}

	if kinds[types.MessageFrame] != 1 {
		t.Errorf("Expected 1 archived frame, got %d", kinds[types.MessageFrame])
	}
	if kinds[types.MessageTelemetryEnd] != 1 {
		t.Errorf("Expected 1 archived end marker, got %d", kinds[types.MessageTelemetryEnd])
	}
	if kinds[types.MessageLapEvent] != 1 {
		t.Errorf("Expected 1 archived lap event, got %d", kinds[types.MessageLapEvent])
	}
	if kinds[types.MessageLeaderboard] != 1 {
		t.Errorf("Expected 1 archived leaderboard entry, got %d", kinds[types.MessageLeaderboard])
	}
}

// TestRecorder_LateJoin_Integration tests that durable events published before
// the recorder attached still reach the archive
func TestRecorder_LateJoin_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	containers := setupTestContainers(ctx, t)
	defer containers.cleanup(t)

	natsURL, err := containers.nats.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}

	// Publish before any recorder exists
	publisher, err := natsclient.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create publisher client: %v", err)
	}
	defer publisher.Close()

	sim := time.Date(2023, 4, 30, 18, 30, 0, 0, time.UTC)
	if err := publisher.PublishFrame(testutils.MockFrame(sim, "22")); err != nil {
		t.Fatalf("Failed to publish frame: %v", err)
	}
	if err := publisher.PublishLapEvent(types.NewLapEventMessage(testutils.MockLapEvent("22", 5))); err != nil {
		t.Fatalf("Failed to publish lap event: %v", err)
	}

	// Now attach the recorder
	client, err := natsclient.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	tempDir := t.TempDir()
	archive := storage.NewArchive(tempDir)
	if err := archive.Start(); err != nil {
		t.Fatalf("Failed to start archive: %v", err)
	}

	if err := subscribeStreams(client, NewRecorder(archive)); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := testutils.WaitForCondition(func() bool {
		return archiveLineCount(tempDir) >= 1
	}, 10*time.Second); err != nil {
		t.Fatalf("Lap event never reached the archive: %v", err)
	}

	// The frame rode core NATS before the recorder joined, so it is gone
	time.Sleep(200 * time.Millisecond)

	client.Close()
	if err := archive.Stop(); err != nil {
		t.Fatalf("Failed to stop archive: %v", err)
	}

	messages := decodeArchive(t, tempDir)
	if len(messages) != 1 {
		t.Fatalf("Expected exactly 1 archived message, got %d", len(messages))
	}

	lap, ok := messages[0].(*types.LapEventMessage)
	if !ok {
		t.Fatalf("Expected archived lap event, got %T", messages[0])
	}
	if lap.VehicleID != "22" || lap.Lap != 5 {
		t.Errorf("Expected lap 5 for vehicle 22, got lap %d for vehicle %q", lap.Lap, lap.VehicleID)
	}
}
