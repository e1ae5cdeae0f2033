// Package track maintains object identity across frames. Each camera owns
// one Tracker; Update consumes the frame's detections and returns the
// confirmed tracks.
package track

import (
	"sync"

	"github.com/banshee-data/sentry.report/internal/geom"
	"github.com/banshee-data/sentry.report/internal/monitoring"
)

// coastDecay is applied to a track's confidence for every unmatched frame.
const coastDecay = 0.9

// TrackerConfig tunes the association and lifecycle thresholds.
type TrackerConfig struct {
	// IoUThreshold is the minimum overlap for a detection to match a track.
	IoUThreshold float64
	// MinHits is the number of matches before a track is confirmed.
	MinHits int
	// MaxAge is the number of consecutive unmatched frames before a track
	// is dropped.
	MaxAge int
	// MaxHistory bounds the per-track detection history.
	MaxHistory int
	// OptimalAssignment switches association from greedy best-first to
	// Kuhn–Munkres.
	OptimalAssignment bool
}

// DefaultTrackerConfig returns the standard thresholds.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		IoUThreshold: 0.3,
		MinHits:      3,
		MaxAge:       30,
		MaxHistory:   300,
	}
}

// Tracker associates per-frame detections into persistent tracks. Update
// is expected to be called from a single goroutine per camera; the mutex
// guards read access from other goroutines.
type Tracker struct {
	mu     sync.Mutex
	cfg    TrackerConfig
	assoc  Associator
	tracks []*Track
	nextID uint64
}

// NewTracker creates a tracker, filling zero config fields with defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = def.IoUThreshold
	}
	if cfg.MinHits <= 0 {
		cfg.MinHits = def.MinHits
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}

	var assoc Associator = greedyAssociator{}
	if cfg.OptimalAssignment {
		assoc = hungarianAssociator{}
	}
	return &Tracker{cfg: cfg, assoc: assoc}
}

// Update advances the tracker by one frame and returns the confirmed
// tracks. Invalid detections are logged and dropped. Unmatched tracks
// coast on their last velocity with decaying confidence until MaxAge
// frames pass without a match.
func (tr *Tracker) Update(detections []Detection) []*Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	valid := detections[:0:0]
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			monitoring.Logf("track: dropping detection: %v", err)
			continue
		}
		valid = append(valid, d)
	}

	matches := tr.assoc.Associate(tr.overlapMatrix(valid), tr.cfg.IoUThreshold)

	matchedTracks := make(map[int]bool, len(matches))
	matchedDets := make(map[int]bool, len(matches))
	for _, m := range matches {
		tr.tracks[m.TrackIdx].update(valid[m.DetIdx], tr.cfg.MaxHistory, tr.cfg.MinHits)
		matchedTracks[m.TrackIdx] = true
		matchedDets[m.DetIdx] = true
	}

	for i, t := range tr.tracks {
		if !matchedTracks[i] {
			t.coast(coastDecay)
		}
	}

	for i, d := range valid {
		if !matchedDets[i] {
			tr.startTrack(d)
		}
	}

	kept := tr.tracks[:0]
	for _, t := range tr.tracks {
		if t.TimeSinceUpdate > tr.cfg.MaxAge {
			continue
		}
		kept = append(kept, t)
	}
	tr.tracks = kept

	return tr.confirmedLocked()
}

// Tracks returns a snapshot of all live tracks regardless of state.
func (tr *Tracker) Tracks() []*Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]*Track, len(tr.tracks))
	copy(out, tr.tracks)
	return out
}

// Confirmed returns the currently confirmed tracks.
func (tr *Tracker) Confirmed() []*Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.confirmedLocked()
}

func (tr *Tracker) confirmedLocked() []*Track {
	var out []*Track
	for _, t := range tr.tracks {
		if t.State == StateConfirmed {
			out = append(out, t)
		}
	}
	return out
}

func (tr *Tracker) overlapMatrix(dets []Detection) [][]float64 {
	iou := make([][]float64, len(tr.tracks))
	for ti, t := range tr.tracks {
		row := make([]float64, len(dets))
		for di, d := range dets {
			row[di] = geom.IoU(t.Detection.Rect, d.Rect)
		}
		iou[ti] = row
	}
	return iou
}

func (tr *Tracker) startTrack(d Detection) {
	tr.nextID++
	t := &Track{
		ID:        tr.nextID,
		Detection: d,
		State:     StateTentative,
		History:   []Detection{d},
		Age:       1,
		Hits:      1,
	}
	if t.Hits >= tr.cfg.MinHits {
		t.State = StateConfirmed
	}
	tr.tracks = append(tr.tracks, t)
}
