package store

import (
	"sort"
	"time"

	"github.com/telemetry-rush/replay-server/internal/types"
)

// Store holds the merged, time-sorted samples of every vehicle. It is
// read-only after construction and safe to share across controllers.
type Store struct {
	samples  []types.Sample
	times    []time.Time
	vehicles int
}

// Build merges per-vehicle sample slices into one sorted store. Sample
// order within equal timestamps is preserved per vehicle.
func Build(perVehicle map[string][]types.Sample) *Store {
	total := 0
	for _, samples := range perVehicle {
		total += len(samples)
	}

	merged := make([]types.Sample, 0, total)
	for _, vid := range sortedKeys(perVehicle) {
		merged = append(merged, perVehicle[vid]...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})

	times := make([]time.Time, len(merged))
	for i, s := range merged {
		times[i] = s.Time
	}

	return &Store{
		samples:  merged,
		times:    times,
		vehicles: len(perVehicle),
	}
}

func sortedKeys(perVehicle map[string][]types.Sample) []string {
	keys := make([]string, 0, len(perVehicle))
	for k := range perVehicle {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of samples.
func (s *Store) Len() int {
	return len(s.samples)
}

// VehicleCount returns the number of distinct vehicles loaded.
func (s *Store) VehicleCount() int {
	return s.vehicles
}

// At returns the sample at index i.
func (s *Store) At(i int) types.Sample {
	return s.samples[i]
}

// Span returns the first and last sample timestamps. ok is false for an
// empty store.
func (s *Store) Span() (first, last time.Time, ok bool) {
	if len(s.samples) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.times[0], s.times[len(s.times)-1], true
}

// LowerBound returns the index of the first sample with timestamp >= t,
// or Len() when no such sample exists.
func (s *Store) LowerBound(t time.Time) int {
	return sort.Search(len(s.times), func(i int) bool {
		return !s.times[i].Before(t)
	})
}

// UpperBound returns the index of the first sample with timestamp > t,
// or Len() when no such sample exists.
func (s *Store) UpperBound(t time.Time) int {
	return sort.Search(len(s.times), func(i int) bool {
		return s.times[i].After(t)
	})
}

// WeatherIndex holds time-sorted weather snapshots for last-known-state
// lookups against simulated time.
type WeatherIndex struct {
	rows []types.Weather
}

// NewWeatherIndex sorts the snapshots by time.
func NewWeatherIndex(rows []types.Weather) *WeatherIndex {
	sorted := make([]types.Weather, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	return &WeatherIndex{rows: sorted}
}

// Len returns the number of snapshots.
func (w *WeatherIndex) Len() int {
	return len(w.rows)
}

// LatestAt returns the most recent snapshot with timestamp <= t. ok is
// false when t precedes all snapshots. Lookups by absolute time work in
// both playback directions.
func (w *WeatherIndex) LatestAt(t time.Time) (types.Weather, bool) {
	idx := sort.Search(len(w.rows), func(i int) bool {
		return w.rows[i].Time.After(t)
	})
	if idx == 0 {
		return types.Weather{}, false
	}
	return w.rows[idx-1], true
}
