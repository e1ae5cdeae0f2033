package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/sentry.report/internal/geom"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := writeFile(t, "sentry.json", `{
		"tracker": {"iou_threshold": 0.5},
		"behavior": {"group_cooldown": "45s"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetIoUThreshold(); got != 0.5 {
		t.Errorf("iou threshold = %f, want 0.5", got)
	}
	if got := cfg.GetGroupCooldown(); got != 45*time.Second {
		t.Errorf("group cooldown = %v, want 45s", got)
	}
	// Unset fields fall back.
	if got := cfg.GetMinHits(); got != 3 {
		t.Errorf("min hits = %d, want default 3", got)
	}
	if got := cfg.GetMaxAge(); got != 30 {
		t.Errorf("max age = %d, want default 30", got)
	}
	if got := cfg.GetRetryDelay(); got != 2*time.Second {
		t.Errorf("retry delay = %v, want default 2s", got)
	}
	if got := cfg.GetHistorySize(); got != 1000 {
		t.Errorf("history size = %d, want default 1000", got)
	}
}

func TestLoadEmptyConfig(t *testing.T) {
	path := writeFile(t, "sentry.json", `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetDBPath() != "sentry.db" {
		t.Errorf("db path = %s", cfg.GetDBPath())
	}
	if cfg.GetOptimalAssignment() {
		t.Error("optimal assignment should default off")
	}
	if cfg.GetNATSEmbedded() {
		t.Error("embedded nats should default off")
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := writeFile(t, "sentry.yaml", `{}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-json extension")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"iou out of range": `{"tracker": {"iou_threshold": 1.5}}`,
		"min_hits zero":    `{"tracker": {"min_hits": 0}}`,
		"bad duration":     `{"behavior": {"erratic_window": "soon"}}`,
		"not json":         `{tracker:`,
	}
	for name, content := range cases {
		path := writeFile(t, "sentry.json", content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadAlertsSection(t *testing.T) {
	path := writeFile(t, "sentry.json", `{
		"alerts": {
			"max_retries": 1,
			"retry_delay": "500ms",
			"webhook_url": "https://hooks.example.com/sec",
			"recipients": {
				"high": {"sms": ["+15550001111"], "email": ["sec@example.com"]}
			}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetMaxRetries() != 1 {
		t.Errorf("max retries = %d", cfg.GetMaxRetries())
	}
	if cfg.GetRetryDelay() != 500*time.Millisecond {
		t.Errorf("retry delay = %v", cfg.GetRetryDelay())
	}
	if cfg.Alerts.WebhookURL != "https://hooks.example.com/sec" {
		t.Errorf("webhook url = %s", cfg.Alerts.WebhookURL)
	}
	if got := cfg.Alerts.Recipients["high"]["sms"]; len(got) != 1 || got[0] != "+15550001111" {
		t.Errorf("recipients = %v", got)
	}
}

func TestLoadZonesPolygonAndRectangle(t *testing.T) {
	path := writeFile(t, "zones.json", `[
		{
			"id": "entrance",
			"name": "Main Entrance",
			"points": [{"x": 0, "y": 0}, {"x": 400, "y": 0}, {"x": 400, "y": 400}, {"x": 0, "y": 400}],
			"rules": [{"type": "loitering", "time_threshold": 60, "classes": ["person"]}]
		},
		{
			"id": "vault",
			"name": "Vault",
			"type": "rectangle",
			"points": [{"x": 100, "y": 100}, {"x": 300, "y": 250}],
			"active": false
		}
	]`)

	zones, err := LoadZones(path)
	if err != nil {
		t.Fatalf("LoadZones: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("got %d zones", len(zones))
	}

	entrance := zones[0]
	if entrance.ID != "entrance" || !entrance.Active {
		t.Errorf("entrance = %+v", entrance)
	}
	if len(entrance.Rules) != 1 || entrance.Rules[0].TimeThresholdSec != 60 {
		t.Errorf("entrance rules = %+v", entrance.Rules)
	}

	vault := zones[1]
	if vault.Active {
		t.Error("vault should be inactive")
	}
	wantPolygon := []geom.Point{
		{X: 100, Y: 100}, {X: 300, Y: 100}, {X: 300, Y: 250}, {X: 100, Y: 250},
	}
	if diff := cmp.Diff(wantPolygon, vault.Polygon); diff != "" {
		t.Errorf("rectangle polygon mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadZonesRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"rectangle with 3 points": `[{"id": "a", "type": "rectangle", "points": [{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1}]}]`,
		"unknown type":            `[{"id": "a", "type": "circle", "points": []}]`,
		"too few vertices":        `[{"id": "a", "points": [{"x":0,"y":0},{"x":1,"y":1}]}]`,
		"empty id":                `[{"id": "", "points": [{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1}]}]`,
	}
	for name, content := range cases {
		path := writeFile(t, "zones.json", content)
		if _, err := LoadZones(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
