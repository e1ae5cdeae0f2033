package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/sentry.report/internal/behavior"
	"github.com/banshee-data/sentry.report/internal/geom"
)

// zoneDef is the on-disk zone shape. A "rectangle" zone carries two
// corner points and is expanded to a four-vertex polygon on load.
type zoneDef struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Type   string          `json:"type,omitempty"` // "polygon" (default) or "rectangle"
	Points []geom.Point    `json:"points"`
	Rules  []behavior.Rule `json:"rules,omitempty"`
	Active *bool           `json:"active,omitempty"`
}

// LoadZones reads zone definitions from a JSON file. Zones default to
// active unless the file says otherwise.
func LoadZones(path string) ([]behavior.Zone, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read zones file: %w", err)
	}

	var defs []zoneDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse zones JSON: %w", err)
	}

	zones := make([]behavior.Zone, 0, len(defs))
	for i, def := range defs {
		z := behavior.Zone{
			ID:     def.ID,
			Name:   def.Name,
			Rules:  def.Rules,
			Active: def.Active == nil || *def.Active,
		}
		switch def.Type {
		case "", "polygon":
			z.Polygon = def.Points
		case "rectangle":
			if len(def.Points) != 2 {
				return nil, fmt.Errorf("zone %d (%q): rectangle needs exactly 2 corner points, got %d",
					i, def.ID, len(def.Points))
			}
			a, b := def.Points[0], def.Points[1]
			z.Polygon = []geom.Point{
				{X: a.X, Y: a.Y},
				{X: b.X, Y: a.Y},
				{X: b.X, Y: b.Y},
				{X: a.X, Y: b.Y},
			}
		default:
			return nil, fmt.Errorf("zone %d (%q): unknown type %q", i, def.ID, def.Type)
		}
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("zone %d: %w", i, err)
		}
		zones = append(zones, z)
	}
	return zones, nil
}
