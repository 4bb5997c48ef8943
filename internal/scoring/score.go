// Package scoring combines the digital and geospatial signals of an
// assessment into the unified 0-100 risk score.
package scoring

import (
	"fmt"
	"math"
)

// FormulaVersion is stored with every persisted score. Bump it if the
// arithmetic below ever changes.
const FormulaVersion = 1

const (
	digitalWeight = 0.6
	geoWeight     = 0.4

	// Each kilometre from the hazard removes five points from the geo score.
	proximityPenalty = 5
	// Sites below this elevation (metres) get the low-lying bonus.
	lowElevation      = 10
	lowElevationBonus = 20
)

// SignalInput holds the six inputs of one assessment.
type SignalInput struct {
	URLThreatLevel      float64 `json:"urlThreatLevel"`
	DocumentSensitivity float64 `json:"documentSensitivity"`
	ImageAnomalyScore   float64 `json:"imageAnomalyScore"`
	VideoIncidentScore  float64 `json:"videoIncidentScore"`
	ProximityToHazard   float64 `json:"proximityToHazard"`
	Elevation           float64 `json:"elevation"`
}

// Result is the derived score of one assessment.
type Result struct {
	DigitalScore float64 `json:"digitalScore"`
	GeoScore     float64 `json:"geoScore"`
	FinalScore   int     `json:"finalScore"`
}

// Calculate applies the fixed four-plus-two input formula. Inputs are not
// clamped: out-of-range values flow through, and the geo score has no upper
// bound (it reaches 120 at zero distance on low ground).
func Calculate(in SignalInput) Result {
	// 1. Digital score: mean of the four modality scores.
	digital := (in.URLThreatLevel +
		in.DocumentSensitivity +
		in.ImageAnomalyScore +
		in.VideoIncidentScore) / 4

	// 2. Geo score: distance penalty plus low-elevation bonus, floored at zero.
	bonus := 0.0
	if in.Elevation < lowElevation {
		bonus = lowElevationBonus
	}
	geo := math.Max(100-in.ProximityToHazard*proximityPenalty+bonus, 0)

	// 3. Weighted blend, rounded half up.
	final := roundHalfUp(digital*digitalWeight + geo*geoWeight)

	return Result{
		DigitalScore: digital,
		GeoScore:     geo,
		FinalScore:   final,
	}
}

// roundHalfUp rounds .5 towards positive infinity, so -2.5 becomes -2.
// math.Round would give -3.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// Validate reports inputs outside their documented ranges. Calculate never
// calls it; it is meant for hand-entered values.
func (in SignalInput) Validate() error {
	digital := []struct {
		name  string
		value float64
	}{
		{"urlThreatLevel", in.URLThreatLevel},
		{"documentSensitivity", in.DocumentSensitivity},
		{"imageAnomalyScore", in.ImageAnomalyScore},
		{"videoIncidentScore", in.VideoIncidentScore},
	}
	for _, d := range digital {
		if math.IsNaN(d.value) || d.value < 0 || d.value > 100 {
			return fmt.Errorf("%s must be within [0,100], got %v", d.name, d.value)
		}
	}
	if math.IsNaN(in.ProximityToHazard) || in.ProximityToHazard < 0 {
		return fmt.Errorf("proximityToHazard must be non-negative, got %v", in.ProximityToHazard)
	}
	if math.IsNaN(in.Elevation) {
		return fmt.Errorf("elevation must be a number")
	}
	return nil
}
