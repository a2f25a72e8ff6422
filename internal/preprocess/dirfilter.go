package preprocess

import (
	"math"
	"sort"

	"github.com/telemetry-rush/replay-server/internal/types"
)

// earthRadius is the mean Earth radius in meters used by the planar
// projection.
const earthRadius = 6371000.0

// point is a sample position projected onto a local plane.
type point struct {
	x, y float64
}

// project converts latitude/longitude degrees into planar coordinates.
// Longitude scales linearly, latitude through a Mercator-style stretch.
func project(lat, lon float64) point {
	return point{
		x: earthRadius * radians(lon),
		y: earthRadius * math.Log(math.Tan(math.Pi/4+radians(lat)/2)),
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DirectionalFilter removes GPS outliers from one vehicle's samples. The
// i-th latitude sample pairs with the i-th longitude sample; the first
// three pairs are always kept, and each later pair is kept only when the
// path direction does not reverse: the vector between the last two kept
// positions, dotted with the vector from the last kept position to the
// candidate, must be non-negative. Rejected pairs are dropped from both
// position channels. With mismatched pair counts or fewer than three
// pairs the filter only sorts.
//
// The returned slice is sorted by timestamp. Non-position samples pass
// through untouched.
func DirectionalFilter(samples []types.Sample) []types.Sample {
	sorted := make([]types.Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var latIdx, lonIdx []int
	for i, s := range sorted {
		switch s.Channel {
		case types.ChannelLat:
			latIdx = append(latIdx, i)
		case types.ChannelLon:
			lonIdx = append(lonIdx, i)
		}
	}

	if len(latIdx) != len(lonIdx) || len(latIdx) < 3 {
		return sorted
	}

	at := func(pair int) point {
		return project(sorted[latIdx[pair]].Value.Num, sorted[lonIdx[pair]].Value.Num)
	}

	kept := []int{0, 1, 2}
	for i := 3; i < len(latIdx); i++ {
		p1 := at(kept[len(kept)-2])
		p2 := at(kept[len(kept)-1])
		p3 := at(i)

		dot := (p2.x-p1.x)*(p3.x-p2.x) + (p2.y-p1.y)*(p3.y-p2.y)
		if dot >= 0 {
			kept = append(kept, i)
		}
	}

	if len(kept) == len(latIdx) {
		return sorted
	}

	rejected := make(map[int]bool, 2*(len(latIdx)-len(kept)))
	keep := make(map[int]bool, len(kept))
	for _, pair := range kept {
		keep[pair] = true
	}
	for pair := range latIdx {
		if !keep[pair] {
			rejected[latIdx[pair]] = true
			rejected[lonIdx[pair]] = true
		}
	}

	filtered := make([]types.Sample, 0, len(sorted)-len(rejected))
	for i, s := range sorted {
		if !rejected[i] {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
