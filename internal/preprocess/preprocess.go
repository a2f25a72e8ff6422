package preprocess

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/telemetry-rush/replay-server/internal/parser"
	"github.com/telemetry-rush/replay-server/internal/storage"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// ChunkSize bounds how many raw rows are held in memory at once.
const ChunkSize = 200000

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusInfo    = "info"
)

// KeepChannels is the allow-list of telemetry signals consumed by the
// dashboard. Everything else in the raw log is dropped.
var KeepChannels = map[string]bool{
	"nmot":                   true,
	"aps":                    true,
	"gear":                   true,
	types.ChannelLat:         true,
	types.ChannelLon:         true,
	"Laptrigger_lapdist_dls": true,
	"speed":                  true,
	"accx_can":               true,
	"accy_can":               true,
	"pbrake_f":               true,
	"pbrake_r":               true,
	"Steering_Angle":         true,
}

// VehicleResult describes one exported vehicle file.
type VehicleResult struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// Result is the outcome of one preprocessing run.
type Result struct {
	Status       string                   `json:"status"`
	Message      string                   `json:"message"`
	InputFile    string                   `json:"input_file,omitempty"`
	OutputDir    string                   `json:"output_dir,omitempty"`
	VehiclesDir  string                   `json:"vehicles_dir,omitempty"`
	Vehicles     map[string]VehicleResult `json:"vehicles,omitempty"`
	VehicleCount int                      `json:"vehicle_count,omitempty"`
	TotalRows    int                      `json:"total_rows,omitempty"`
}

// Options configures a preprocessing run. InputFile and OutputDir are
// optional; empty values fall back to the default locations under DataDir
// (DataDir/R1_barber_telemetry_data.csv and DataDir/vehicles).
type Options struct {
	InputFile string
	OutputDir string
	DataDir   string
}

// Run converts a raw telemetry log into per-vehicle sample files. Parse
// errors in individual rows are skipped; missing input or an unwritable
// output directory fail the run. Cancellation is honored between chunks.
func Run(ctx context.Context, opts Options) Result {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "./logs"
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(dataDir, "vehicles")
	}

	inputFile := opts.InputFile
	if inputFile == "" {
		inputFile = filepath.Join(dataDir, "R1_barber_telemetry_data.csv")
		if _, err := os.Stat(inputFile); err != nil {
			// No raw log; report already-processed data when present.
			if existing, globErr := filepath.Glob(filepath.Join(outputDir, "*.csv")); globErr == nil && len(existing) > 0 {
				return Result{
					Status:       StatusInfo,
					Message:      fmt.Sprintf("Data is already processed. Vehicle files found in %s", outputDir),
					VehiclesDir:  outputDir,
					VehicleCount: len(existing),
				}
			}
			return Result{
				Status:  StatusError,
				Message: fmt.Sprintf("Input file not found. Searched: %s", inputFile),
			}
		}
	} else if _, err := os.Stat(inputFile); err != nil {
		return Result{
			Status:  StatusError,
			Message: fmt.Sprintf("Input file not found: %s", inputFile),
		}
	}

	log.Printf("Preprocessing %s into %s", inputFile, outputDir)

	perVehicle, err := processFile(ctx, inputFile)
	if err != nil {
		return Result{
			Status:    StatusError,
			Message:   fmt.Sprintf("Error preprocessing telemetry data: %v", err),
			InputFile: inputFile,
			OutputDir: outputDir,
		}
	}

	log.Println("Merging and exporting per-vehicle files...")

	results := make(map[string]VehicleResult, len(perVehicle))
	total := 0
	for vid, samples := range perVehicle {
		// The filter runs over the vehicle's full history so a chunk
		// boundary cannot restart its acceptance window. Its output is
		// time-sorted and ready for export.
		samples = DirectionalFilter(samples)

		path, err := storage.WriteVehicleFile(outputDir, vid, samples)
		if err != nil {
			return Result{
				Status:    StatusError,
				Message:   fmt.Sprintf("Error preprocessing telemetry data: %v", err),
				InputFile: inputFile,
				OutputDir: outputDir,
			}
		}
		results[vid] = VehicleResult{Path: path, Rows: len(samples)}
		total += len(samples)
		log.Printf("Exported %s -> %s (%d rows)", vid, path, len(samples))
	}

	return Result{
		Status:       StatusSuccess,
		Message:      fmt.Sprintf("Successfully processed %d vehicles", len(results)),
		InputFile:    inputFile,
		OutputDir:    outputDir,
		Vehicles:     results,
		VehicleCount: len(results),
		TotalRows:    total,
	}
}

// aggKey identifies one duplicate group within a chunk.
type aggKey struct {
	nano    int64
	vehicle string
	channel string
}

// processFile drains the chunked reader, accumulating filtered samples per
// vehicle.
func processFile(ctx context.Context, inputFile string) (map[string][]types.Sample, error) {
	reader := NewReader(inputFile, ChunkSize)
	if err := reader.Start(); err != nil {
		return nil, err
	}

	perVehicle := make(map[string][]types.Sample)
	// Lap markers are deduplicated across the whole file, not per chunk,
	// so a lap spanning a chunk boundary is injected once.
	seenLaps := make(map[string]map[float64]bool)

	chunkNum := 0
drain:
	for {
		// Checked separately so cancellation wins over a ready chunk.
		select {
		case <-ctx.Done():
			reader.Stop()
			return nil, ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			reader.Stop()
			return nil, ctx.Err()
		case chunk, ok := <-reader.Chunks():
			if !ok {
				break drain
			}
			chunkNum++
			processChunk(chunk, perVehicle, seenLaps)
		}
	}

	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	if skipped := reader.Skipped(); skipped > 0 {
		log.Printf("Warning: skipped %d malformed rows in %s", skipped, inputFile)
	}
	log.Printf("Processed %d chunks from %s", chunkNum, inputFile)

	return perVehicle, nil
}

// processChunk extracts lap changes, filters channels and aggregates
// duplicates into per-vehicle samples.
func processChunk(chunk []parser.RawRow, perVehicle map[string][]types.Sample, seenLaps map[string]map[float64]bool) {
	lapRows := extractLapChanges(chunk, seenLaps)

	// Median-aggregate duplicate (timestamp, vehicle, channel) keys over
	// the allow-listed channels.
	groups := make(map[aggKey][]float64)
	for _, row := range chunk {
		if !KeepChannels[row.Channel] {
			continue
		}
		key := aggKey{nano: row.Time.UnixNano(), vehicle: row.VehicleID, channel: row.Channel}
		if row.Value.Valid {
			groups[key] = append(groups[key], row.Value.Num)
		} else if _, ok := groups[key]; !ok {
			groups[key] = nil
		}
	}

	keys := make([]aggKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.nano != b.nano {
			return a.nano < b.nano
		}
		if a.vehicle != b.vehicle {
			return a.vehicle < b.vehicle
		}
		return a.channel < b.channel
	})

	combined := make(map[string][]types.Sample)
	for _, key := range keys {
		combined[key.vehicle] = append(combined[key.vehicle], types.Sample{
			Time:      time.Unix(0, key.nano).UTC(),
			VehicleID: key.vehicle,
			Channel:   key.channel,
			Value:     median(groups[key]),
		})
	}
	for vid, rows := range lapRows {
		combined[vid] = append(combined[vid], rows...)
	}

	for vid, samples := range combined {
		perVehicle[vid] = append(perVehicle[vid], samples...)
	}
}

// extractLapChanges returns one synthetic lap sample per newly seen
// (vehicle, lap) pair, taken at the pair's earliest timestamp. Lap values
// ride along every raw row; only changes become samples.
func extractLapChanges(chunk []parser.RawRow, seenLaps map[string]map[float64]bool) map[string][]types.Sample {
	type lapCandidate struct {
		t   time.Time
		lap float64
	}

	byVehicle := make(map[string][]lapCandidate)
	for _, row := range chunk {
		if row.Lap.Valid {
			byVehicle[row.VehicleID] = append(byVehicle[row.VehicleID], lapCandidate{t: row.Time, lap: row.Lap.Num})
		}
	}

	result := make(map[string][]types.Sample)
	for vid, candidates := range byVehicle {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].t.Before(candidates[j].t)
		})

		seen := seenLaps[vid]
		if seen == nil {
			seen = make(map[float64]bool)
			seenLaps[vid] = seen
		}
		for _, c := range candidates {
			if seen[c.lap] {
				continue
			}
			seen[c.lap] = true
			result[vid] = append(result[vid], types.Sample{
				Time:      c.t,
				VehicleID: vid,
				Channel:   types.LapChannel,
				Value:     types.Num(c.lap),
			})
		}
	}
	return result
}

// median returns the midpoint value, averaging the two middle elements
// for even counts. An empty group yields an absent value.
func median(values []float64) types.Value {
	if len(values) == 0 {
		return types.Value{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return types.Num(sorted[mid])
	}
	return types.Num((sorted[mid-1] + sorted[mid]) / 2)
}
