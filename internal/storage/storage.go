package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/telemetry-rush/replay-server/internal/parser"
	"github.com/telemetry-rush/replay-server/internal/types"
)

// loadWorkers bounds concurrent vehicle file reads.
const loadWorkers = 4

// vehicleHeader is the column layout of per-vehicle sample files.
var vehicleHeader = []string{parser.ColTime, parser.ColChannel, parser.ColValue}

// LoadVehicleDir reads every per-vehicle CSV under dir. The vehicle id is
// the file name without extension. Malformed rows are skipped with a
// warning; an unreadable directory is an error.
func LoadVehicleDir(dir string) (map[string][]types.Sample, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicle files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no vehicle files found in %s", dir)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		result  = make(map[string][]types.Sample, len(files))
		fileCh  = make(chan string)
		loadErr error
	)

	for i := 0; i < loadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range fileCh {
				vid := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				samples, err := ReadVehicleFile(file, vid)

				mu.Lock()
				if err != nil {
					if loadErr == nil {
						loadErr = err
					}
				} else {
					result[vid] = samples
				}
				mu.Unlock()
			}
		}()
	}

	for _, file := range files {
		fileCh <- file
	}
	close(fileCh)
	wg.Wait()

	if loadErr != nil {
		return nil, loadErr
	}
	return result, nil
}

// ReadVehicleFile reads one per-vehicle sample file.
func ReadVehicleFile(path, vehicleID string) ([]types.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vehicle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	idx := parser.HeaderIndex(header)

	var samples []types.Sample
	skipped := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		sample, err := parser.ParseVehicleRow(idx, record, vehicleID)
		if err != nil {
			skipped++
			continue
		}
		samples = append(samples, sample)
	}

	if skipped > 0 {
		log.Printf("Warning: skipped %d malformed rows in %s", skipped, path)
	}
	return samples, nil
}

// WriteVehicleFile writes a vehicle's samples as a sorted CSV under dir.
// Lap-channel values are written as integers, absent values as empty cells.
func WriteVehicleFile(dir, vehicleID string, samples []types.Sample) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, vehicleID+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create vehicle file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(vehicleHeader); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for _, s := range samples {
		if err := w.Write([]string{types.FormatTime(s.Time), s.Channel, formatValue(s)}); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush vehicle file: %w", err)
	}
	return path, nil
}

func formatValue(s types.Sample) string {
	if !s.Value.Valid {
		return ""
	}
	if s.Channel == types.LapChannel {
		return strconv.FormatInt(int64(math.Trunc(s.Value.Num)), 10)
	}
	return strconv.FormatFloat(s.Value.Num, 'f', -1, 64)
}

// ReadWeatherFile reads the semicolon-separated weather log. Rows without
// a parsable time are skipped.
func ReadWeatherFile(path string) ([]types.Weather, error) {
	idx, records, err := readSemicolonCSV(path)
	if err != nil {
		return nil, err
	}

	var rows []types.Weather
	skipped := 0
	for _, record := range records {
		w, err := parser.ParseWeatherRow(idx, record)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, w)
	}

	if skipped > 0 {
		log.Printf("Warning: skipped %d malformed weather rows in %s", skipped, path)
	}
	return rows, nil
}

// ReadEnduranceFile reads the semicolon-separated lap log, ordered by
// vehicle, lap number and elapsed time the way the timing export sorts.
func ReadEnduranceFile(path string) ([]types.LapEvent, error) {
	idx, records, err := readSemicolonCSV(path)
	if err != nil {
		return nil, err
	}

	type lapRow struct {
		ev      types.LapEvent
		elapsed string
	}

	var rows []lapRow
	skipped := 0
	for _, record := range records {
		ev, err := parser.ParseLapRow(idx, record)
		if err != nil {
			skipped++
			continue
		}
		elapsed := ""
		if i, ok := idx["ELAPSED"]; ok && i < len(record) {
			elapsed = strings.TrimSpace(record[i])
		}
		rows = append(rows, lapRow{ev: ev, elapsed: elapsed})
	}

	if skipped > 0 {
		log.Printf("Warning: skipped %d malformed lap rows in %s", skipped, path)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ev.VehicleID != b.ev.VehicleID {
			return a.ev.VehicleID < b.ev.VehicleID
		}
		if a.ev.Lap != b.ev.Lap {
			return a.ev.Lap < b.ev.Lap
		}
		return a.elapsed < b.elapsed
	})

	events := make([]types.LapEvent, len(rows))
	for i, r := range rows {
		events[i] = r.ev
	}
	return events, nil
}

// ReadLeaderboardFile reads the semicolon-separated standings log in file
// order.
func ReadLeaderboardFile(path string) ([]types.LeaderboardEntry, error) {
	idx, records, err := readSemicolonCSV(path)
	if err != nil {
		return nil, err
	}

	var entries []types.LeaderboardEntry
	skipped := 0
	for _, record := range records {
		entry, err := parser.ParseLeaderboardRow(idx, record)
		if err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	if skipped > 0 {
		log.Printf("Warning: skipped %d malformed leaderboard rows in %s", skipped, path)
	}
	return entries, nil
}

func readSemicolonCSV(path string) (map[string]int, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	var records [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return parser.HeaderIndex(header), records, nil
}
