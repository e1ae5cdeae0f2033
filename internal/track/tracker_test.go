package track

import (
	"math"
	"testing"

	"github.com/banshee-data/sentry.report/internal/geom"
	"github.com/banshee-data/sentry.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func det(t *testing.T, x1, y1, x2, y2 float64, frame int64) Detection {
	t.Helper()
	d, err := NewDetection(geom.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}, 0, "person", 0.9, frame)
	if err != nil {
		t.Fatalf("bad test detection: %v", err)
	}
	return d
}

func TestTrackerConfirmsAfterMinHits(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	confirmed := tr.Update([]Detection{det(t, 100, 100, 150, 200, 1)})
	if len(confirmed) != 0 {
		t.Fatalf("frame 1: got %d confirmed tracks, want 0", len(confirmed))
	}
	confirmed = tr.Update([]Detection{det(t, 102, 101, 152, 201, 2)})
	if len(confirmed) != 0 {
		t.Fatalf("frame 2: got %d confirmed tracks, want 0", len(confirmed))
	}
	confirmed = tr.Update([]Detection{det(t, 104, 102, 154, 202, 3)})
	if len(confirmed) != 1 {
		t.Fatalf("frame 3: got %d confirmed tracks, want 1", len(confirmed))
	}
	if confirmed[0].State != StateConfirmed || confirmed[0].Hits != 3 {
		t.Errorf("track = %+v", confirmed[0])
	}
}

func TestTrackerIDStability(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1})

	var id uint64
	for i := 0; i < 20; i++ {
		x := float64(i * 5)
		confirmed := tr.Update([]Detection{det(t, x, 50, x+50, 150, int64(i))})
		if len(confirmed) != 1 {
			t.Fatalf("frame %d: got %d tracks", i, len(confirmed))
		}
		if i == 0 {
			id = confirmed[0].ID
		} else if confirmed[0].ID != id {
			t.Fatalf("frame %d: id changed from %d to %d", i, id, confirmed[0].ID)
		}
	}
}

func TestTrackerTwoObjectsKeepDistinctIDs(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1})

	for i := 0; i < 10; i++ {
		dx := float64(i * 3)
		confirmed := tr.Update([]Detection{
			det(t, 0+dx, 0, 50+dx, 100, int64(i)),
			det(t, 300-dx, 0, 350-dx, 100, int64(i)),
		})
		if len(confirmed) != 2 {
			t.Fatalf("frame %d: got %d tracks, want 2", i, len(confirmed))
		}
		if confirmed[0].ID == confirmed[1].ID {
			t.Fatalf("frame %d: duplicate id %d", i, confirmed[0].ID)
		}
	}
}

func TestTrackerCoastingDecaysConfidence(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	for i := 1; i <= 3; i++ {
		tr.Update([]Detection{det(t, 100, 100, 150, 200, int64(i))})
	}
	live := tr.Tracks()
	if len(live) != 1 || live[0].State != StateConfirmed {
		t.Fatalf("setup failed: %+v", live)
	}
	before := live[0].Detection.Confidence

	// Miss two frames: confidence decays 0.9 per frame, state goes lost
	// and the track leaves the confirmed set.
	if confirmed := tr.Update(nil); len(confirmed) != 0 {
		t.Errorf("coasting track still reported confirmed")
	}
	tr.Update(nil)

	live = tr.Tracks()
	if len(live) != 1 {
		t.Fatalf("track deleted too early")
	}
	if live[0].State != StateLost {
		t.Errorf("state = %s, want lost", live[0].State)
	}
	want := before * 0.9 * 0.9
	if math.Abs(live[0].Detection.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", live[0].Detection.Confidence, want)
	}
	if live[0].TimeSinceUpdate != 2 {
		t.Errorf("TimeSinceUpdate = %d, want 2", live[0].TimeSinceUpdate)
	}
}

func TestTrackerCoastingExtrapolatesBox(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1})

	tr.Update([]Detection{det(t, 0, 0, 50, 100, 1)})
	tr.Update([]Detection{det(t, 10, 0, 60, 100, 2)}) // velocity +10 px/frame
	tr.Update(nil)

	live := tr.Tracks()
	if len(live) != 1 {
		t.Fatalf("got %d tracks", len(live))
	}
	r := live[0].Detection.Rect
	if r.X1 != 20 || r.X2 != 70 {
		t.Errorf("coasted box = %+v, want x1=20 x2=70", r)
	}
}

func TestTrackerLostTrackRecovers(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	for i := 1; i <= 3; i++ {
		tr.Update([]Detection{det(t, 100, 100, 150, 200, int64(i))})
	}
	id := tr.Confirmed()[0].ID

	tr.Update(nil)
	tr.Update(nil)

	confirmed := tr.Update([]Detection{det(t, 100, 100, 150, 200, 6)})
	if len(confirmed) != 1 {
		t.Fatalf("got %d confirmed after recovery, want 1", len(confirmed))
	}
	if confirmed[0].ID != id {
		t.Errorf("recovered with id %d, want %d", confirmed[0].ID, id)
	}
	if confirmed[0].State != StateConfirmed {
		t.Errorf("state = %s, want confirmed", confirmed[0].State)
	}
}

func TestTrackerDeletesAfterMaxAge(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1, MaxAge: 3})

	tr.Update([]Detection{det(t, 100, 100, 150, 200, 1)})
	for i := 0; i < 3; i++ {
		tr.Update(nil)
		if len(tr.Tracks()) != 1 {
			t.Fatalf("miss %d: track deleted before MaxAge exceeded", i+1)
		}
	}
	tr.Update(nil) // 4th miss: TimeSinceUpdate > MaxAge
	if len(tr.Tracks()) != 0 {
		t.Fatal("track not deleted after MaxAge exceeded")
	}
}

func TestTrackerIDsNeverReused(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1, MaxAge: 1})

	first := tr.Update([]Detection{det(t, 0, 0, 50, 50, 1)})[0].ID
	tr.Update(nil)
	tr.Update(nil) // deleted

	second := tr.Update([]Detection{det(t, 0, 0, 50, 50, 4)})[0].ID
	if second <= first {
		t.Errorf("id %d reused or regressed after %d", second, first)
	}
}

func TestTrackerDropsInvalidDetections(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1})

	bad := Detection{Rect: geom.Rect{X1: 50, Y1: 50, X2: 10, Y2: 10}, Confidence: 0.9}
	confirmed := tr.Update([]Detection{bad})
	if len(confirmed) != 0 || len(tr.Tracks()) != 0 {
		t.Error("invalid detection seeded a track")
	}

	nan := Detection{Rect: geom.Rect{X1: math.NaN(), Y1: 0, X2: 10, Y2: 10}, Confidence: 0.9}
	good := det(t, 0, 0, 50, 50, 1)
	confirmed = tr.Update([]Detection{nan, good})
	if len(confirmed) != 1 {
		t.Fatalf("valid detection lost alongside invalid one: %d tracks", len(confirmed))
	}
}

func TestTrackerNoMatchBelowThreshold(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1})

	a := tr.Update([]Detection{det(t, 0, 0, 50, 50, 1)})[0].ID
	// Far away detection: same class, no overlap, must start a new track.
	confirmed := tr.Update([]Detection{det(t, 500, 500, 550, 550, 2)})
	if len(confirmed) != 1 {
		t.Fatalf("got %d confirmed", len(confirmed))
	}
	if confirmed[0].ID == a {
		t.Error("disjoint detection matched the old track")
	}
}

func TestTrackerHistoryBounded(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1, MaxHistory: 5})

	for i := 0; i < 12; i++ {
		tr.Update([]Detection{det(t, 0, 0, 50, 50, int64(i))})
	}
	tracks := tr.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks", len(tracks))
	}
	if len(tracks[0].History) != 5 {
		t.Errorf("history length = %d, want 5", len(tracks[0].History))
	}
	if tracks[0].History[4].FrameID != 11 {
		t.Errorf("newest history frame = %d, want 11", tracks[0].History[4].FrameID)
	}
}

func TestTrackerOptimalAssignment(t *testing.T) {
	tr := NewTracker(TrackerConfig{MinHits: 1, OptimalAssignment: true})

	confirmed := tr.Update([]Detection{
		det(t, 0, 0, 100, 100, 1),
		det(t, 80, 0, 180, 100, 1),
	})
	if len(confirmed) != 2 {
		t.Fatalf("got %d tracks, want 2", len(confirmed))
	}

	confirmed = tr.Update([]Detection{
		det(t, 5, 0, 105, 100, 2),
		det(t, 85, 0, 185, 100, 2),
	})
	if len(confirmed) != 2 {
		t.Fatalf("frame 2: got %d tracks, want 2", len(confirmed))
	}
}
