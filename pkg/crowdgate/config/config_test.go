package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilMap(t *testing.T) {
	cfg := config.New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.Equal(t, "sqlite", cfg.String("store.driver", "sqlite"))
}

// TestAccessors covers the conversions applied to values that arrive from
// YAML, JSON and environment variables.
func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"ingest": map[string]any{
			"debounce_window":    "600ms",
			"rate_limit_per_sec": "12",
		},
		"decision": map[string]any{
			"redirect_cooldown":    15,
			"check_interval":       2.5,
			"decision_interval":    "7",
			"retry_limit":          3.0,
			"escalation_threshold": "0.9",
			"bad_interval":         "soon",
			"fractional_limit":     2.5,
		},
		"density": map[string]any{
			"safe_threshold":     int64(1),
			"moderate_threshold": 0.7,
		},
		"http": map[string]any{
			"admin_key":       42,
			"allowed_origins": "https://ops.example, ,https://wall.example",
			"tls":             "true",
			"mixed_origins":   []any{"a", 1},
		},
		"kafka": map[string]any{"brokers": []any{"k1:9092", "k2:9092"}},
		"nats":  map[string]any{"subjects": []string{"a", "b"}},
	})

	durations := []struct {
		key  string
		want time.Duration
	}{
		{"ingest.debounce_window", 600 * time.Millisecond},
		{"decision.redirect_cooldown", 15 * time.Second},
		{"decision.check_interval", 2500 * time.Millisecond},
		{"decision.decision_interval", 7 * time.Second},
		{"decision.bad_interval", time.Minute},
		{"decision.missing", time.Minute},
	}
	for _, tt := range durations {
		t.Run("Duration/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Duration(tt.key, time.Minute))
		})
	}

	assert.Equal(t, 12, cfg.Int("ingest.rate_limit_per_sec", 0))
	assert.Equal(t, 3, cfg.Int("decision.retry_limit", 0))
	assert.Equal(t, 9, cfg.Int("decision.fractional_limit", 9), "fraction must not truncate")
	assert.Equal(t, 0.9, cfg.Float("decision.escalation_threshold", 0))
	assert.Equal(t, 1.0, cfg.Float("density.safe_threshold", 0))
	assert.Equal(t, 0.7, cfg.Float("density.moderate_threshold", 0))
	assert.Equal(t, "fallback", cfg.String("http.admin_key", "fallback"), "non-string is not coerced")
	assert.True(t, cfg.Bool("http.tls", false))
	assert.False(t, cfg.Bool("http.missing", false))

	assert.Equal(t, []string{"https://ops.example", "https://wall.example"},
		cfg.StringSlice("http.allowed_origins", nil))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.StringSlice("kafka.brokers", nil))
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("nats.subjects", nil))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("http.mixed_origins", []string{"x"}))
}

// TestSections verifies list-of-map extraction.
func TestSections(t *testing.T) {
	cfg := config.New(map[string]any{
		"zones": []any{
			map[string]any{"name": "North", "area_m2": 500},
			map[any]any{"name": "South", "area_m2": 750.5},
		},
		"mixed":  []any{map[string]any{"name": "x"}, "oops"},
		"scalar": "zones",
	})

	sections := cfg.Sections("zones")
	require.Len(t, sections, 2)
	assert.Equal(t, "North", sections[0].String("name", ""))
	assert.Equal(t, 500.0, sections[0].Float("area_m2", 0))
	assert.Equal(t, "South", sections[1].String("name", ""))
	assert.InDelta(t, 750.5, sections[1].Float("area_m2", 0), 1e-9)

	assert.Nil(t, cfg.Sections("mixed"))
	assert.Nil(t, cfg.Sections("scalar"))
	assert.Nil(t, cfg.Sections("missing"))
}

// TestDottedKeys verifies lookups through nested maps.
func TestDottedKeys(t *testing.T) {
	cfg := config.New(map[string]any{
		"decision": map[string]any{
			"retry_limit":       3,
			"redirect_cooldown": "20s",
		},
		"legacy":    map[any]any{"flag": true},
		"http.addr": ":8080",
		"density":   0.5,
		"store":     map[string]any{"dsn": "file.db"},
	})

	assert.Equal(t, 3, cfg.Int("decision.retry_limit", 0))
	assert.Equal(t, 20*time.Second, cfg.Duration("decision.redirect_cooldown", 0))
	assert.True(t, cfg.Bool("legacy.flag", false))
	assert.Equal(t, ":8080", cfg.String("http.addr", ""), "flat dotted key wins")
	assert.Equal(t, "file.db", cfg.String("store.dsn", ""))
	assert.Equal(t, "x", cfg.String("density.safe_threshold", "x"), "scalar cannot be descended")
	assert.False(t, cfg.Has("decision.missing"))
	assert.True(t, cfg.Has("decision.retry_limit"))
}

func TestParse(t *testing.T) {
	yamlCfg, err := config.Parse([]byte("decision:\n  retry_limit: 4\nzones:\n  - name: Hall\n    area_m2: 300\n"), config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 4, yamlCfg.Int("decision.retry_limit", 0))
	require.Len(t, yamlCfg.Sections("zones"), 1)

	jsonCfg, err := config.Parse([]byte(`{"store": {"driver": "memory"}, "ingest": {"rate_limit_per_sec": 20}}`), config.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "memory", jsonCfg.String("store.driver", ""))
	assert.Equal(t, 20, jsonCfg.Int("ingest.rate_limit_per_sec", 0))

	_, err = config.Parse([]byte("decision: [unclosed"), config.FormatYAML)
	assert.ErrorContains(t, err, "parse yaml")
	_, err = config.Parse([]byte("{"), config.FormatJSON)
	assert.ErrorContains(t, err, "parse json")
	_, err = config.Parse([]byte("{}"), config.Format("toml"))
	assert.Error(t, err)
}

func TestParse_UnknownSections(t *testing.T) {
	_, err := config.Parse([]byte("decison:\n  retry_limit: 4\nstores: {}\nlog: {level: debug}\n"), config.FormatYAML)
	require.Error(t, err)
	var valErr *cgerrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
	assert.ErrorContains(t, err, "decison")
	assert.ErrorContains(t, err, "stores")
	assert.NotContains(t, err.Error(), "log")
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path    string
		want    config.Format
		wantErr bool
	}{
		{"crowdgate.yaml", config.FormatYAML, false},
		{"crowdgate.YML", config.FormatYAML, false},
		{"/etc/crowdgate/config.json", config.FormatJSON, false},
		{"crowdgate.toml", "", true},
		{"crowdgate", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := config.FormatOf(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "crowdgate.yml")
	require.NoError(t, os.WriteFile(good, []byte("http:\n  addr: \":8080\"\n"), 0o600))
	cfg, err := config.Load(good)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.String("http.addr", ""))

	typo := filepath.Join(dir, "typo.json")
	require.NoError(t, os.WriteFile(typo, []byte(`{"htp": {}}`), 0o600))
	_, err = config.Load(typo)
	assert.ErrorContains(t, err, typo)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = config.Load(filepath.Join(dir, "crowdgate.ini"))
	assert.ErrorContains(t, err, "unsupported extension")
}
