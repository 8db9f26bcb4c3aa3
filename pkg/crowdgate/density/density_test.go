package density_test

import (
	"testing"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	"github.com/stretchr/testify/assert"
)

func TestDensity(t *testing.T) {
	tests := []struct {
		name  string
		count int
		area  float64
		want  float64
	}{
		{"typical", 400, 1000, 0.4},
		{"empty zone", 0, 1000, 0},
		{"zero area", 50, 0, 0},
		{"negative area", 50, -10, 0},
		{"above one", 1500, 1000, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, density.Density(tt.count, tt.area), 1e-9)
		})
	}
}

func TestClassify(t *testing.T) {
	c := density.DefaultClassifier

	tests := []struct {
		name string
		d    float64
		want density.Level
	}{
		{"zero", 0, density.Safe},
		{"just below safe", 0.399, density.Safe},
		{"safe boundary", 0.40, density.Moderate},
		{"mid moderate", 0.55, density.Moderate},
		{"just below moderate", 0.699, density.Moderate},
		{"moderate boundary", 0.70, density.Overcrowded},
		{"extreme", 2.0, density.Overcrowded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.d))
		})
	}
}

func TestClassifyZone(t *testing.T) {
	d, level := density.DefaultClassifier.ClassifyZone(700, 1000)
	assert.InDelta(t, 0.7, d, 1e-9)
	assert.Equal(t, density.Overcrowded, level)

	d, level = density.DefaultClassifier.ClassifyZone(10, 0)
	assert.Zero(t, d)
	assert.Equal(t, density.Safe, level)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, density.DefaultClassifier.Validate())
	assert.Error(t, density.Classifier{SafeThreshold: 0.7, ModerateThreshold: 0.4}.Validate())
	assert.Error(t, density.Classifier{SafeThreshold: 0.5, ModerateThreshold: 0.5}.Validate())
	assert.Error(t, density.Classifier{SafeThreshold: -1, ModerateThreshold: 0.5}.Validate())
}
