// Package layout assigns timeline lanes to time intervals.
//
// The packer implements greedy first-fit interval partitioning: intervals
// are sorted by start and each is placed in the lowest row whose occupants
// do not overlap it. The greedy strategy is optimal — the number of rows
// used equals the maximum overlap depth at any instant.
package layout

import (
	"sort"
)

// minWidthPct keeps zero-duration events visible and clickable.
const minWidthPct = 1.0

// Interval is a unit to place on the timeline. Start and End are epoch
// milliseconds; the interval occupies [Start, End).
type Interval struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Placement is the computed position of one interval: a row index plus
// left/width percentages of the full timeline.
type Placement struct {
	ID    string  `json:"id"`
	Label string  `json:"label,omitempty"`
	Row   int     `json:"row"`
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// Pack lays intervals out into non-overlapping rows.
func Pack(intervals []Interval) []Placement {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	min, max := sorted[0].Start, sorted[0].End
	for _, iv := range sorted {
		if iv.Start < min {
			min = iv.Start
		}
		if iv.End > max {
			max = iv.End
		}
	}
	span := max - min

	placements := make([]Placement, 0, len(sorted))
	var rows [][]Interval

	for i, iv := range sorted {
		row := -1
		if span > 0 {
			for r := range rows {
				if fits(rows[r], iv) {
					row = r
					break
				}
			}
			if row < 0 {
				rows = append(rows, nil)
				row = len(rows) - 1
			}
			rows[row] = append(rows[row], iv)
		} else {
			// Degenerate zero-length range: one row per interval instead
			// of dividing by zero below.
			row = i
		}

		placements = append(placements, Placement{
			ID:    iv.ID,
			Label: iv.Label,
			Row:   row,
			Left:  leftPct(iv, min, span),
			Width: widthPct(iv, span),
		})
	}
	return placements
}

// Rows reports the number of rows a packing uses.
func Rows(placements []Placement) int {
	max := 0
	for _, p := range placements {
		if p.Row+1 > max {
			max = p.Row + 1
		}
	}
	return max
}

// fits reports whether iv overlaps none of the row's occupants in [start, end).
func fits(row []Interval, iv Interval) bool {
	for _, other := range row {
		if iv.Start < other.End && other.Start < iv.End {
			return false
		}
	}
	return true
}

func leftPct(iv Interval, min, span int64) float64 {
	if span <= 0 {
		return 0
	}
	return float64(iv.Start-min) / float64(span) * 100
}

func widthPct(iv Interval, span int64) float64 {
	if span <= 0 {
		return 100
	}
	w := float64(iv.End-iv.Start) / float64(span) * 100
	if w < minWidthPct {
		return minWidthPct
	}
	return w
}
