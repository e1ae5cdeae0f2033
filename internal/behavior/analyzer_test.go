package behavior

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/sentry.report/internal/geom"
	"github.com/banshee-data/sentry.report/internal/monitoring"
	"github.com/banshee-data/sentry.report/internal/timeutil"
	"github.com/banshee-data/sentry.report/internal/track"
)

func init() {
	monitoring.SetLogger(nil)
}

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func entranceZone(rules ...Rule) Zone {
	return Zone{
		ID:      "entrance",
		Name:    "Entrance",
		Polygon: []geom.Point{{X: 0, Y: 0}, {X: 400, Y: 0}, {X: 400, Y: 400}, {X: 0, Y: 400}},
		Rules:   rules,
		Active:  true,
	}
}

func personAt(id uint64, x, y float64) *track.Track {
	return &track.Track{
		ID:    id,
		State: track.StateConfirmed,
		Detection: track.Detection{
			Rect:       geom.Rect{X1: x - 25, Y1: y - 50, X2: x + 25, Y2: y + 50},
			ClassName:  "person",
			Confidence: 0.9,
		},
	}
}

func newTestAnalyzer(t *testing.T, clock timeutil.Clock, zones ...Zone) *Analyzer {
	t.Helper()
	zs := NewZoneSet()
	for _, z := range zones {
		if err := zs.Set(z); err != nil {
			t.Fatalf("zone setup: %v", err)
		}
	}
	return NewAnalyzer(AnalyzerConfig{}, zs, clock)
}

func patternsOfType(ps []Pattern, typ string) []Pattern {
	var out []Pattern
	for _, p := range ps {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func TestLoiteringFiresOncePerDwell(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleLoitering, Classes: []string{"person"}, TimeThresholdSec: 60,
	}))

	var loiters []Pattern
	// Person stands still inside the zone for 100 seconds, sampled at 5s.
	for i := 0; i <= 20; i++ {
		ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
		loiters = append(loiters, patternsOfType(ps, PatternLoitering)...)
		clock.Advance(5 * time.Second)
	}

	if len(loiters) != 1 {
		t.Fatalf("got %d loitering patterns, want exactly 1", len(loiters))
	}
	p := loiters[0]
	if p.Zone != "entrance" || len(p.TrackIDs) != 1 || p.TrackIDs[0] != 1 {
		t.Errorf("pattern = %+v", p)
	}
	// Fired at 60s dwell: confidence 60/(60*2) = 0.5.
	if p.Confidence < 0.49 || p.Confidence > 0.51 {
		t.Errorf("confidence = %v, want ~0.5", p.Confidence)
	}
}

func TestLoiteringDwellResetsOnExit(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleLoitering, TimeThresholdSec: 60,
	}))

	// 40s inside, then a brief exit, then 40s inside again: never fires.
	for i := 0; i < 8; i++ {
		a.Analyze([]*track.Track{personAt(1, 125, 150)})
		clock.Advance(5 * time.Second)
	}
	a.Analyze([]*track.Track{personAt(1, 900, 900)}) // outside
	clock.Advance(5 * time.Second)
	var loiters []Pattern
	for i := 0; i < 9; i++ {
		ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
		loiters = append(loiters, patternsOfType(ps, PatternLoitering)...)
		clock.Advance(5 * time.Second)
	}
	if len(loiters) != 0 {
		t.Errorf("dwell did not reset on exit: %v", loiters)
	}
}

func TestLoiteringRefiresAfterReentry(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleLoitering, TimeThresholdSec: 10,
	}))

	count := 0
	for i := 0; i < 4; i++ {
		ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
		count += len(patternsOfType(ps, PatternLoitering))
		clock.Advance(5 * time.Second)
	}
	if count != 1 {
		t.Fatalf("first dwell: %d patterns, want 1", count)
	}

	a.Analyze([]*track.Track{personAt(1, 900, 900)})
	clock.Advance(5 * time.Second)

	count = 0
	for i := 0; i < 4; i++ {
		ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
		count += len(patternsOfType(ps, PatternLoitering))
		clock.Advance(5 * time.Second)
	}
	if count != 1 {
		t.Errorf("second dwell: %d patterns, want 1", count)
	}
}

func TestLoiteringClassFilter(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleLoitering, Classes: []string{"person"}, TimeThresholdSec: 10,
	}))

	car := personAt(1, 125, 150)
	car.Detection.ClassName = "car"
	for i := 0; i < 4; i++ {
		if ps := a.Analyze([]*track.Track{car}); len(patternsOfType(ps, PatternLoitering)) != 0 {
			t.Fatal("loitering fired for filtered class")
		}
		clock.Advance(5 * time.Second)
	}
}

func TestIntrusionDuringSchedule(t *testing.T) {
	// Analyzer clock at 23:30, zone armed overnight 22:00-06:00.
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC))
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleIntrusion, Schedule: "22:00-06:00",
	}))

	ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
	intrusions := patternsOfType(ps, PatternIntrusion)
	if len(intrusions) != 1 {
		t.Fatalf("got %d intrusions, want 1", len(intrusions))
	}
	if intrusions[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want detection confidence 0.9", intrusions[0].Confidence)
	}

	// Same dwell: no repeat.
	clock.Advance(10 * time.Second)
	ps = a.Analyze([]*track.Track{personAt(1, 125, 150)})
	if len(patternsOfType(ps, PatternIntrusion)) != 0 {
		t.Error("intrusion refired within one dwell")
	}
}

func TestIntrusionOutsideSchedule(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleIntrusion, Schedule: "22:00-06:00",
	}))

	ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
	if len(patternsOfType(ps, PatternIntrusion)) != 0 {
		t.Error("intrusion fired outside schedule")
	}
}

func TestIntrusionEmptyScheduleAlwaysArmed(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{Type: RuleIntrusion}))

	ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
	if len(patternsOfType(ps, PatternIntrusion)) != 1 {
		t.Error("unscheduled intrusion rule did not fire")
	}
}

func TestIntrusionBadScheduleLogsOnce(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleIntrusion, Schedule: "not-a-schedule",
	}))

	var mu sync.Mutex
	logged := 0
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		logged++
		mu.Unlock()
		_ = fmt.Sprintf(format, v...)
	})
	defer monitoring.SetLogger(nil)

	for i := 0; i < 5; i++ {
		ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
		if len(patternsOfType(ps, PatternIntrusion)) != 0 {
			t.Fatal("broken rule fired")
		}
		clock.Advance(time.Second)
	}
	if logged != 1 {
		t.Errorf("misconfigured rule logged %d times, want 1", logged)
	}
}

func TestTailgatingDetected(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleTailgating, TimeThresholdSec: 5, DistanceThreshold: 150,
	}))
	a.SetAuthorized(1, true)

	// Authorized leader enters alone.
	ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
	if len(patternsOfType(ps, PatternTailgating)) != 0 {
		t.Fatal("tailgating fired for the leader alone")
	}

	// Unauthorized follower enters 2s later, 60px away.
	clock.Advance(2 * time.Second)
	ps = a.Analyze([]*track.Track{personAt(1, 125, 150), personAt(2, 185, 150)})
	tg := patternsOfType(ps, PatternTailgating)
	if len(tg) != 1 {
		t.Fatalf("got %d tailgating patterns, want 1", len(tg))
	}
	if len(tg[0].TrackIDs) != 2 || tg[0].TrackIDs[0] != 1 || tg[0].TrackIDs[1] != 2 {
		t.Errorf("TrackIDs = %v, want [1 2]", tg[0].TrackIDs)
	}
}

func TestTailgatingAuthorizedFollowerIgnored(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleTailgating, TimeThresholdSec: 5, DistanceThreshold: 150,
	}))
	a.SetAuthorized(1, true)
	a.SetAuthorized(2, true)

	a.Analyze([]*track.Track{personAt(1, 125, 150)})
	clock.Advance(2 * time.Second)
	ps := a.Analyze([]*track.Track{personAt(1, 125, 150), personAt(2, 185, 150)})
	if len(patternsOfType(ps, PatternTailgating)) != 0 {
		t.Error("tailgating fired for an authorized follower")
	}
}

func TestTailgatingWindowExpires(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone(Rule{
		Type: RuleTailgating, TimeThresholdSec: 5, DistanceThreshold: 150,
	}))
	a.SetAuthorized(1, true)

	a.Analyze([]*track.Track{personAt(1, 125, 150)})
	clock.Advance(10 * time.Second) // beyond the 5s window
	ps := a.Analyze([]*track.Track{personAt(1, 125, 150), personAt(2, 185, 150)})
	if len(patternsOfType(ps, PatternTailgating)) != 0 {
		t.Error("tailgating fired after the window expired")
	}
}

func TestGroupFormation(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock)

	// Three close tracks chained within 100px of a neighbour, one far away.
	tracks := []*track.Track{
		personAt(1, 100, 100),
		personAt(2, 180, 100),
		personAt(3, 260, 100),
		personAt(4, 900, 900),
	}
	ps := a.Analyze(tracks)
	groups := patternsOfType(ps, PatternGroupFormation)
	if len(groups) != 1 {
		t.Fatalf("got %d group patterns, want 1", len(groups))
	}
	if len(groups[0].TrackIDs) != 3 {
		t.Errorf("group = %v, want 3 members", groups[0].TrackIDs)
	}
	if groups[0].Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", groups[0].Confidence)
	}

	// Cooldown suppresses an immediate repeat; it fires again after 30s.
	if ps := a.Analyze(tracks); len(patternsOfType(ps, PatternGroupFormation)) != 0 {
		t.Error("group pattern refired inside cooldown")
	}
	clock.Advance(31 * time.Second)
	if ps := a.Analyze(tracks); len(patternsOfType(ps, PatternGroupFormation)) != 1 {
		t.Error("group pattern did not refire after cooldown")
	}
}

func TestGroupFormationNeedsTwo(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock)
	ps := a.Analyze([]*track.Track{personAt(1, 100, 100), personAt(2, 900, 900)})
	if len(patternsOfType(ps, PatternGroupFormation)) != 0 {
		t.Error("group formed from distant tracks")
	}
}

func TestErraticMovement(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock)

	// Zigzag: heading alternates between 0° and 90° every second, each
	// step a >45° change. 8 samples give 6 changes.
	positions := []geom.Point{
		{X: 0, Y: 0}, {X: 40, Y: 0}, {X: 40, Y: 40}, {X: 80, Y: 40},
		{X: 80, Y: 80}, {X: 120, Y: 80}, {X: 120, Y: 120}, {X: 160, Y: 120},
	}
	var erratics []Pattern
	for _, pos := range positions {
		ps := a.Analyze([]*track.Track{personAt(7, pos.X, pos.Y)})
		erratics = append(erratics, patternsOfType(ps, PatternErratic)...)
		clock.Advance(time.Second)
	}

	if len(erratics) != 1 {
		t.Fatalf("got %d erratic patterns, want 1", len(erratics))
	}
	p := erratics[0]
	if p.TrackIDs[0] != 7 {
		t.Errorf("TrackIDs = %v", p.TrackIDs)
	}
	// 6 changes over threshold 6: confidence 6/9.
	if p.Confidence < 0.66 || p.Confidence > 0.67 {
		t.Errorf("confidence = %v, want ~0.667", p.Confidence)
	}
	if p.Details["direction_changes"].(int) != 6 {
		t.Errorf("direction_changes = %v, want 6", p.Details["direction_changes"])
	}
}

func TestStraightMovementNotErratic(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock)

	for i := 0; i < 10; i++ {
		ps := a.Analyze([]*track.Track{personAt(7, float64(i*40), 100)})
		if len(patternsOfType(ps, PatternErratic)) != 0 {
			t.Fatal("straight movement reported erratic")
		}
		clock.Advance(time.Second)
	}
}

func TestZoneCounts(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone())

	a.Analyze([]*track.Track{personAt(1, 100, 100), personAt(2, 200, 200), personAt(3, 900, 900)})
	counts := a.ZoneCounts()
	if counts["entrance"] != 2 {
		t.Errorf("counts = %v, want entrance:2", counts)
	}
}

func TestStatePrunedAfterTrackGone(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone())

	a.Analyze([]*track.Track{personAt(1, 100, 100)})
	if len(a.state) != 1 {
		t.Fatalf("state size = %d", len(a.state))
	}

	// Track vanishes; state survives briefly, then is pruned after the
	// 2-minute staleness window.
	clock.Advance(time.Minute)
	a.Analyze(nil)
	if len(a.state) != 1 {
		t.Error("state pruned too early")
	}
	clock.Advance(2 * time.Minute)
	a.Analyze(nil)
	if len(a.state) != 0 {
		t.Error("stale state not pruned")
	}
}

func TestConcurrentOccupancyReads(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	a := newTestAnalyzer(t, clock, entranceZone())

	// ZoneCounts and SetAuthorized are called from the status API while
	// the camera worker runs Analyze; all three must be safe together.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				a.ZoneCounts()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := uint64(0); ; i++ {
			select {
			case <-done:
				return
			default:
				a.SetAuthorized(i%4, i%2 == 0)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		a.Analyze([]*track.Track{personAt(1, 100, 100), personAt(2, 200, 200)})
		clock.Advance(time.Second)
	}
	close(done)
	wg.Wait()

	if counts := a.ZoneCounts(); counts["entrance"] != 2 {
		t.Errorf("counts = %v, want entrance:2", counts)
	}
}

func TestInactiveZoneIgnored(t *testing.T) {
	clock := timeutil.NewMockClock(testStart)
	z := entranceZone(Rule{Type: RuleIntrusion})
	z.Active = false
	a := newTestAnalyzer(t, clock, z)

	ps := a.Analyze([]*track.Track{personAt(1, 125, 150)})
	if len(ps) != 0 {
		t.Errorf("inactive zone produced patterns: %v", ps)
	}
}
