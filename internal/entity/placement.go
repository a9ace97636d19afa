package entity

import "fmt"

// Placement is a normalized position for a product on a room image:
// x, y and scale all live in [0, 1] relative space.
type Placement struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

func (p Placement) Validate() error {
	if p.X < 0 || p.X > 1 {
		return fmt.Errorf("placement x must be in [0,1], got %v", p.X)
	}
	if p.Y < 0 || p.Y > 1 {
		return fmt.Errorf("placement y must be in [0,1], got %v", p.Y)
	}
	if p.Scale <= 0 || p.Scale > 1 {
		return fmt.Errorf("placement scale must be in (0,1], got %v", p.Scale)
	}
	return nil
}

// PlacementMetadata is the best-effort enrichment derived during asset
// preparation. An asset can reach ready with this still nil; consumers
// must tolerate that.
type PlacementMetadata struct {
	Role                  string   `json:"role"`
	ReplacementPolicy     string   `json:"replacement_policy"`
	AllowContextSynthesis bool     `json:"allow_context_synthesis"`
	SuggestedScale        *float64 `json:"suggested_scale,omitempty"`
}

// RenderConfig carries optional style/quality hints passed through to the
// compositing provider.
type RenderConfig struct {
	Style   string `json:"style,omitempty"`
	Quality string `json:"quality,omitempty"`
}
