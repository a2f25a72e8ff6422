package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/telemetry-rush/replay-server/internal/preprocess"
)

const rawHeader = "meta_time,vehicle_id,telemetry_name,telemetry_value,lap\n"

func writeRawLog(t *testing.T, dir string) {
	t.Helper()
	raw := rawHeader +
		"2024-06-01T10:00:00.000Z,7,speed,100,3\n" +
		"2024-06-01T10:00:00.100Z,7,gear,4,3\n" +
		"2024-06-01T10:00:00.500Z,22,speed,90,1\n"
	path := filepath.Join(dir, "R1_barber_telemetry_data.csv")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("Failed to write raw log: %v", err)
	}
}

func TestRun_Success(t *testing.T) {
	dataDir := t.TempDir()
	writeRawLog(t, dataDir)

	var buf bytes.Buffer
	code := run(context.Background(), preprocess.Options{DataDir: dataDir}, &buf)
	if code != 0 {
		t.Fatalf("run() = %d, want 0", code)
	}

	var result preprocess.Result
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode result JSON: %v", err)
	}
	if result.Status != preprocess.StatusSuccess {
		t.Errorf("Expected status success, got %s (%s)", result.Status, result.Message)
	}
	if result.VehicleCount != 2 {
		t.Errorf("Expected 2 vehicles, got %d", result.VehicleCount)
	}

	for vid, vr := range result.Vehicles {
		if _, err := os.Stat(vr.Path); err != nil {
			t.Errorf("Expected vehicle file for %s at %s: %v", vid, vr.Path, err)
		}
	}
}

func TestRun_MissingInput(t *testing.T) {
	var buf bytes.Buffer
	code := run(context.Background(), preprocess.Options{DataDir: t.TempDir()}, &buf)
	if code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}

	var result preprocess.Result
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode result JSON: %v", err)
	}
	if result.Status != preprocess.StatusError {
		t.Errorf("Expected status error, got %s", result.Status)
	}
}

func TestRun_AlreadyProcessed(t *testing.T) {
	dataDir := t.TempDir()
	vehiclesDir := filepath.Join(dataDir, "vehicles")
	if err := os.MkdirAll(vehiclesDir, 0o755); err != nil {
		t.Fatalf("Failed to create vehicles dir: %v", err)
	}
	content := "meta_time,telemetry_name,telemetry_value\n" +
		"2024-06-01T10:00:00.000Z,speed,100\n"
	if err := os.WriteFile(filepath.Join(vehiclesDir, "7.csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write vehicle file: %v", err)
	}

	// No raw log, but processed data exists: not an error
	var buf bytes.Buffer
	code := run(context.Background(), preprocess.Options{DataDir: dataDir}, &buf)
	if code != 0 {
		t.Fatalf("run() = %d, want 0", code)
	}

	var result preprocess.Result
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode result JSON: %v", err)
	}
	if result.Status != preprocess.StatusInfo {
		t.Errorf("Expected status info, got %s", result.Status)
	}
}

func TestRun_Canceled(t *testing.T) {
	dataDir := t.TempDir()
	writeRawLog(t, dataDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	code := run(ctx, preprocess.Options{DataDir: dataDir}, &buf)
	if code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}

	var result preprocess.Result
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode result JSON: %v", err)
	}
	if result.Status != preprocess.StatusError {
		t.Errorf("Expected status error, got %s", result.Status)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("write error")
}

func TestRun_EncodeFailure(t *testing.T) {
	dataDir := t.TempDir()
	writeRawLog(t, dataDir)

	if code := run(context.Background(), preprocess.Options{DataDir: dataDir}, failingWriter{}); code != 1 {
		t.Errorf("run() = %d, want 1 when the result cannot be written", code)
	}
}

func TestEnvOr(t *testing.T) {
	original := os.Getenv("DATA_DIR")
	defer os.Setenv("DATA_DIR", original)

	os.Setenv("DATA_DIR", "")
	if got := envOr("DATA_DIR", "./logs"); got != "./logs" {
		t.Errorf("envOr() = %q, want default ./logs", got)
	}

	os.Setenv("DATA_DIR", "/data/replay")
	if got := envOr("DATA_DIR", "./logs"); got != "/data/replay" {
		t.Errorf("envOr() = %q, want /data/replay", got)
	}
}

func TestFlags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedData   string
		expectedInput  string
		expectedOutput string
	}{
		{
			name:         "default values",
			args:         []string{},
			expectedData: "./logs",
		},
		{
			name:           "custom paths",
			args:           []string{"-data", "/data", "-input", "/data/raw.csv", "-output", "/data/out"},
			expectedData:   "/data",
			expectedInput:  "/data/raw.csv",
			expectedOutput: "/data/out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("preprocess", flag.ContinueOnError)
			dataDir := fs.String("data", "./logs", "Data directory holding the raw telemetry log")
			input := fs.String("input", "", "Raw telemetry log")
			output := fs.String("output", "", "Output directory for per-vehicle files")

			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("Failed to parse flags: %v", err)
			}

			if *dataDir != tt.expectedData {
				t.Errorf("Expected data=%q, got %q", tt.expectedData, *dataDir)
			}
			if *input != tt.expectedInput {
				t.Errorf("Expected input=%q, got %q", tt.expectedInput, *input)
			}
			if *output != tt.expectedOutput {
				t.Errorf("Expected output=%q, got %q", tt.expectedOutput, *output)
			}
		})
	}
}
