package track

import "github.com/banshee-data/sentry.report/internal/geom"

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	// StateTentative marks a track that has not yet accumulated enough
	// matches to be trusted.
	StateTentative TrackState = "tentative"
	// StateConfirmed marks a track with at least MinHits matches.
	StateConfirmed TrackState = "confirmed"
	// StateLost marks a previously confirmed track that is coasting on
	// predicted positions while unmatched.
	StateLost TrackState = "lost"
)

// Track is one tracked object. IDs are unique for the lifetime of a
// Tracker and never reused.
type Track struct {
	ID        uint64     `json:"id"`
	Detection Detection  `json:"detection"`
	State     TrackState `json:"state"`

	// History holds the most recent detections assigned to this track,
	// oldest first, bounded by the tracker's MaxHistory.
	History []Detection `json:"-"`

	// Age counts frames since the track was created. Hits counts matched
	// frames; TimeSinceUpdate counts consecutive unmatched frames.
	Age             int `json:"age"`
	Hits            int `json:"hits"`
	TimeSinceUpdate int `json:"time_since_update"`

	// Per-frame centroid velocity used to extrapolate the box while the
	// track is unmatched.
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Centroid returns the current centroid of the track's box.
func (t *Track) Centroid() geom.Point {
	return t.Detection.Centroid()
}

// update absorbs a matched detection and advances the lifecycle. A lost
// track that re-matches returns to confirmed here because its hit count
// already cleared minHits.
func (t *Track) update(d Detection, maxHistory, minHits int) {
	prev := t.Detection.Centroid()
	next := d.Centroid()
	t.VX = next.X - prev.X
	t.VY = next.Y - prev.Y

	t.Detection = d
	t.History = append(t.History, d)
	if len(t.History) > maxHistory {
		t.History = t.History[len(t.History)-maxHistory:]
	}

	t.Age++
	t.Hits++
	t.TimeSinceUpdate = 0
	if t.Hits >= minHits {
		t.State = StateConfirmed
	}
}

// coast advances an unmatched track one frame: the box follows the last
// known velocity and the confidence decays.
func (t *Track) coast(decay float64) {
	t.Detection.Rect = t.Detection.Rect.Translate(t.VX, t.VY)
	t.Detection.Confidence *= decay
	t.Age++
	t.TimeSinceUpdate++
	if t.State == StateConfirmed {
		t.State = StateLost
	}
}
