package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/telemetry-rush/replay-server/internal/preprocess"
)

// run executes one preprocessing pass and writes the Result as JSON to out.
// The exit code is 1 when the run reports an error status.
func run(ctx context.Context, opts preprocess.Options, out io.Writer) int {
	result := preprocess.Run(ctx, opts)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Printf("Failed to encode result: %v", err)
		return 1
	}

	if result.Status == preprocess.StatusError {
		return 1
	}
	return 0
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	dataDir := flag.String("data", envOr("DATA_DIR", "./logs"), "Data directory holding the raw telemetry log")
	input := flag.String("input", os.Getenv("RAW_FILE"), "Raw telemetry log (defaults under the data directory)")
	output := flag.String("output", os.Getenv("VEHICLES_DIR"), "Output directory for per-vehicle files (defaults under the data directory)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interrupts abort the run between chunks
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	os.Exit(run(ctx, preprocess.Options{
		DataDir:   *dataDir,
		InputFile: *input,
		OutputDir: *output,
	}, os.Stdout))
}
