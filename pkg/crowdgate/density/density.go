// Package density turns zone occupancy into a density class.
//
// Density is people per square metre. The classifier is pure and holds no
// state, so a single value can be shared by every goroutine.
package density

import (
	"fmt"
	"math"
)

// Level is the density class of a zone.
type Level string

const (
	Safe        Level = "SAFE"
	Moderate    Level = "MODERATE"
	Overcrowded Level = "OVERCROWDED"
)

// Default thresholds in people per square metre.
const (
	DefaultSafeThreshold     = 0.40
	DefaultModerateThreshold = 0.70
)

// Density returns count/area. A non-positive area yields 0 rather than
// dividing by zero. The result is not clamped.
func Density(count int, areaM2 float64) float64 {
	if areaM2 <= 0 || math.IsNaN(areaM2) {
		return 0
	}
	return float64(count) / areaM2
}

// Classifier maps a density to a Level.
type Classifier struct {
	// SafeThreshold is the exclusive upper bound of SAFE.
	SafeThreshold float64

	// ModerateThreshold is the exclusive upper bound of MODERATE.
	ModerateThreshold float64
}

// DefaultClassifier uses the 0.40/0.70 thresholds.
var DefaultClassifier = Classifier{
	SafeThreshold:     DefaultSafeThreshold,
	ModerateThreshold: DefaultModerateThreshold,
}

// Classify returns SAFE below SafeThreshold, MODERATE below
// ModerateThreshold and OVERCROWDED otherwise. Boundaries belong to the
// higher class.
func (c Classifier) Classify(d float64) Level {
	switch {
	case d < c.SafeThreshold:
		return Safe
	case d < c.ModerateThreshold:
		return Moderate
	default:
		return Overcrowded
	}
}

// ClassifyZone is Classify(Density(count, area)).
func (c Classifier) ClassifyZone(count int, areaM2 float64) (float64, Level) {
	d := Density(count, areaM2)
	return d, c.Classify(d)
}

// Validate reports whether the thresholds are usable.
func (c Classifier) Validate() error {
	if c.SafeThreshold < 0 {
		return fmt.Errorf("safe threshold must be non-negative, got %v", c.SafeThreshold)
	}
	if c.SafeThreshold >= c.ModerateThreshold {
		return fmt.Errorf("safe threshold %v must be below moderate threshold %v",
			c.SafeThreshold, c.ModerateThreshold)
	}
	return nil
}
