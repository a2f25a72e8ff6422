package store

import (
	"testing"
	"time"

	"github.com/telemetry-rush/replay-server/internal/types"
)

func ts(sec int) time.Time {
	return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func sample(sec int, vid, channel string, v float64) types.Sample {
	return types.Sample{Time: ts(sec), VehicleID: vid, Channel: channel, Value: types.Num(v)}
}

func TestBuildSortsAcrossVehicles(t *testing.T) {
	s := Build(map[string][]types.Sample{
		"7":  {sample(0, "7", "speed", 10), sample(2, "7", "speed", 30)},
		"22": {sample(1, "22", "speed", 20), sample(3, "22", "speed", 40)},
	})

	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}
	if s.VehicleCount() != 2 {
		t.Errorf("VehicleCount() = %d, want 2", s.VehicleCount())
	}

	for i := 1; i < s.Len(); i++ {
		if s.At(i).Time.Before(s.At(i - 1).Time) {
			t.Errorf("samples out of order at %d: %v before %v", i, s.At(i).Time, s.At(i-1).Time)
		}
	}

	first, last, ok := s.Span()
	if !ok {
		t.Fatal("Span() not ok for non-empty store")
	}
	if !first.Equal(ts(0)) || !last.Equal(ts(3)) {
		t.Errorf("Span() = %v..%v, want %v..%v", first, last, ts(0), ts(3))
	}
}

func TestBuildEmpty(t *testing.T) {
	s := Build(nil)

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if _, _, ok := s.Span(); ok {
		t.Errorf("Span() ok for empty store")
	}
	if got := s.LowerBound(ts(0)); got != 0 {
		t.Errorf("LowerBound() on empty = %d, want 0", got)
	}
}

func TestBounds(t *testing.T) {
	// Duplicate timestamps at ts(1) exercise the bound split.
	s := Build(map[string][]types.Sample{
		"7": {
			sample(0, "7", "speed", 1),
			sample(1, "7", "speed", 2),
			sample(1, "7", "gear", 3),
			sample(2, "7", "speed", 4),
		},
	})

	tests := []struct {
		name      string
		t         time.Time
		wantLower int
		wantUpper int
	}{
		{name: "before all", t: ts(0).Add(-time.Second), wantLower: 0, wantUpper: 0},
		{name: "at first", t: ts(0), wantLower: 0, wantUpper: 1},
		{name: "at duplicates", t: ts(1), wantLower: 1, wantUpper: 3},
		{name: "between", t: ts(1).Add(500 * time.Millisecond), wantLower: 3, wantUpper: 3},
		{name: "at last", t: ts(2), wantLower: 3, wantUpper: 4},
		{name: "after all", t: ts(3), wantLower: 4, wantUpper: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.LowerBound(tt.t); got != tt.wantLower {
				t.Errorf("LowerBound(%v) = %d, want %d", tt.t, got, tt.wantLower)
			}
			if got := s.UpperBound(tt.t); got != tt.wantUpper {
				t.Errorf("UpperBound(%v) = %d, want %d", tt.t, got, tt.wantUpper)
			}
		})
	}
}

func TestWeatherLatestAt(t *testing.T) {
	idx := NewWeatherIndex([]types.Weather{
		{Time: ts(10), AirTemp: types.Num(22)},
		{Time: ts(0), AirTemp: types.Num(20)},
		{Time: ts(5), AirTemp: types.Num(21)},
	})

	tests := []struct {
		name   string
		t      time.Time
		wantOK bool
		want   float64
	}{
		{name: "before first", t: ts(0).Add(-time.Second), wantOK: false},
		{name: "at first", t: ts(0), wantOK: true, want: 20},
		{name: "between", t: ts(7), wantOK: true, want: 21},
		{name: "at snapshot", t: ts(5), wantOK: true, want: 21},
		{name: "after last", t: ts(60), wantOK: true, want: 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := idx.LatestAt(tt.t)

			if ok != tt.wantOK {
				t.Fatalf("LatestAt(%v) ok = %v, want %v", tt.t, ok, tt.wantOK)
			}
			if ok && w.AirTemp != types.Num(tt.want) {
				t.Errorf("LatestAt(%v) AirTemp = %+v, want %v", tt.t, w.AirTemp, tt.want)
			}
		})
	}
}

func TestWeatherLatestAtRewindsForEarlierTime(t *testing.T) {
	idx := NewWeatherIndex([]types.Weather{
		{Time: ts(0), AirTemp: types.Num(20)},
		{Time: ts(10), AirTemp: types.Num(25)},
	})

	// Reading a later time then an earlier one must not stick at the
	// later snapshot.
	if w, _ := idx.LatestAt(ts(20)); w.AirTemp != types.Num(25) {
		t.Fatalf("LatestAt(ts 20) = %+v, want 25", w.AirTemp)
	}
	if w, _ := idx.LatestAt(ts(3)); w.AirTemp != types.Num(20) {
		t.Errorf("LatestAt(ts 3) = %+v, want 20", w.AirTemp)
	}
}
