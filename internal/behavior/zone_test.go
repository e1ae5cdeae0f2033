package behavior

import (
	"testing"

	"github.com/banshee-data/sentry.report/internal/geom"
)

func TestZoneValidate(t *testing.T) {
	square := []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}

	if err := (Zone{ID: "z1", Polygon: square}).Validate(); err != nil {
		t.Errorf("valid zone rejected: %v", err)
	}
	if err := (Zone{Polygon: square}).Validate(); err == nil {
		t.Error("empty id accepted")
	}
	if err := (Zone{ID: "z1", Polygon: square[:2]}).Validate(); err == nil {
		t.Error("2-vertex polygon accepted")
	}
}

func TestZoneContains(t *testing.T) {
	z := Zone{
		ID:      "entrance",
		Polygon: []geom.Point{{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 200, Y: 300}, {X: 0, Y: 300}},
	}
	if !z.Contains(geom.Point{X: 100, Y: 150}) {
		t.Error("interior point not contained")
	}
	if z.Contains(geom.Point{X: 250, Y: 150}) {
		t.Error("exterior point contained")
	}
}

func TestZoneSetBasics(t *testing.T) {
	s := NewZoneSet()
	square := []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}

	if err := s.Set(Zone{ID: "b", Polygon: square, Active: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(Zone{ID: "a", Polygon: square, Active: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(Zone{ID: "", Polygon: square}); err == nil {
		t.Error("invalid zone accepted")
	}

	if _, ok := s.Get("a"); !ok {
		t.Error("Get(a) missed")
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Errorf("Snapshot = %v, want [a b] order", snap)
	}

	s.Remove("a")
	if _, ok := s.Get("a"); ok {
		t.Error("zone still present after Remove")
	}
}

func TestZoneSetReplace(t *testing.T) {
	s := NewZoneSet()
	square := []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	if err := s.Set(Zone{ID: "z", Name: "old", Polygon: square}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(Zone{ID: "z", Name: "new", Polygon: square}); err != nil {
		t.Fatal(err)
	}
	z, _ := s.Get("z")
	if z.Name != "new" {
		t.Errorf("Name = %q after replace, want new", z.Name)
	}
	if len(s.Snapshot()) != 1 {
		t.Errorf("replace duplicated the zone")
	}
}
