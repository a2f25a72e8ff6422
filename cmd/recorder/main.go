package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/telemetry-rush/replay-server/internal/nats"
	"github.com/telemetry-rush/replay-server/internal/storage"
	"github.com/telemetry-rush/replay-server/internal/types"
)

func main() {
	if err := runRecorder(); err != nil {
		log.Printf("Recorder failed: %v", err)
		os.Exit(1)
	}
}

// runRecorder contains the main application logic and can be tested
func runRecorder() error {
	// Load configuration
	outputDir, natsURL := parseEnvironment()

	// Create NATS client
	client, err := nats.New(natsURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}

	// Start the archive writer
	archive := storage.NewArchive(outputDir)
	if err := archive.Start(); err != nil {
		client.Close()
		return fmt.Errorf("failed to start archive: %w", err)
	}

	recorder := NewRecorder(archive)

	// Subscribe to the replay subjects
	if err := subscribeStreams(client, recorder); err != nil {
		client.Close()
		if serr := archive.Stop(); serr != nil {
			log.Printf("Failed to stop archive: %v", serr)
		}
		return err
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	client.Close() // Close client before stopping the archive
	if err := archive.Stop(); err != nil {
		log.Printf("Failed to stop archive: %v", err)
	}

	return nil
}

// parseEnvironment extracts environment variables with defaults
func parseEnvironment() (string, string) {
	outputDir := os.Getenv("OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "./logs" // Default output directory
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://nats:4222" // Default to Docker service name
	}

	return outputDir, natsURL
}

// subscribeStreams attaches the recorder to the frame, lap and leaderboard
// subjects. Frames arrive over core NATS; laps and leaderboard rows replay
// from the durable stream, so a recorder started late still archives them.
func subscribeStreams(client *nats.Client, recorder *Recorder) error {
	if err := client.SubscribeTelemetry(func(msg types.Message) {
		if err := recorder.Record(msg); err != nil {
			log.Printf("Failed to record telemetry: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry: %w", err)
	}

	if err := client.SubscribeLapEvents(func(msg *types.LapEventMessage) {
		if err := recorder.Record(msg); err != nil {
			log.Printf("Failed to record lap event: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to lap events: %w", err)
	}

	if err := client.SubscribeLeaderboard(func(msg *types.LeaderboardEntryMessage) {
		if err := recorder.Record(msg); err != nil {
			log.Printf("Failed to record leaderboard entry: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to leaderboard: %w", err)
	}

	return nil
}

// Recorder writes decoded replay messages to the session archive
type Recorder struct {
	archive *storage.Archive
}

// NewRecorder creates a new recorder instance
func NewRecorder(archive *storage.Archive) *Recorder {
	return &Recorder{archive: archive}
}

// Record serializes one message back to JSON and appends it as an archive
// line. The type tag survives the decode/encode round trip, so archived
// lines can be fed back through types.DecodeMessage.
func (r *Recorder) Record(msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Kind(), err)
	}

	if err := r.archive.WriteEvent(data); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.Kind(), err)
	}

	return nil
}
