package track

import (
	"sort"

	"github.com/banshee-data/sentry.report/internal/geom"
)

// Match pairs a track row with a detection column in the overlap matrix.
type Match struct {
	TrackIdx int
	DetIdx   int
	IoU      float64
}

// Associator pairs tracks with detections given their IoU matrix. Entries
// below threshold must never be matched.
type Associator interface {
	Associate(iou [][]float64, threshold float64) []Match
}

// greedyAssociator repeatedly takes the globally highest remaining IoU
// pair above the threshold. Ties break on the lower track index, then the
// lower detection index, so results are deterministic.
type greedyAssociator struct{}

func (greedyAssociator) Associate(iou [][]float64, threshold float64) []Match {
	var candidates []Match
	for ti := range iou {
		for di, v := range iou[ti] {
			if v >= threshold {
				candidates = append(candidates, Match{TrackIdx: ti, DetIdx: di, IoU: v})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IoU != b.IoU {
			return a.IoU > b.IoU
		}
		if a.TrackIdx != b.TrackIdx {
			return a.TrackIdx < b.TrackIdx
		}
		return a.DetIdx < b.DetIdx
	})

	trackUsed := make(map[int]bool)
	detUsed := make(map[int]bool)
	var matches []Match
	for _, c := range candidates {
		if trackUsed[c.TrackIdx] || detUsed[c.DetIdx] {
			continue
		}
		trackUsed[c.TrackIdx] = true
		detUsed[c.DetIdx] = true
		matches = append(matches, c)
	}
	return matches
}

// hungarianAssociator solves the assignment globally with Kuhn–Munkres on
// cost 1-IoU. Pairs below the threshold are forbidden outright, so it only
// differs from greedy when detections compete for the same tracks.
type hungarianAssociator struct{}

func (hungarianAssociator) Associate(iou [][]float64, threshold float64) []Match {
	if len(iou) == 0 {
		return nil
	}
	cost := make([][]float64, len(iou))
	for ti := range iou {
		cost[ti] = make([]float64, len(iou[ti]))
		for di, v := range iou[ti] {
			if v < threshold {
				cost[ti][di] = geom.Forbidden
			} else {
				cost[ti][di] = 1 - v
			}
		}
	}

	assignment := geom.Assign(cost)
	var matches []Match
	for ti, di := range assignment {
		if di < 0 {
			continue
		}
		matches = append(matches, Match{TrackIdx: ti, DetIdx: di, IoU: iou[ti][di]})
	}
	return matches
}
