/*
Package config provides type-safe configuration extraction and the typed
Settings of a crowdgate process.

# Overview

Config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches gracefully by returning default values.
Keys are dotted paths resolved through nested maps, so the same Config works
over a YAML file, a JSON document or viper.AllSettings().

	cfg := config.New(map[string]any{
	    "decision": map[string]any{"redirect_cooldown": "15s"},
	    "ingest":   map[string]any{"rate_limit_per_sec": 10},
	})

	cooldown := cfg.Duration("decision.redirect_cooldown", 0) // 15s
	limit := cfg.Int("ingest.rate_limit_per_sec", 5)          // 10
	missing := cfg.String("store.driver", "sqlite")           // "sqlite"

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("600ms", "1h30m"), or seconds if numeric
  - int/float64: interpreted as seconds
  - time.Duration: used directly

Int, Float and Bool also parse strings, because environment variables reach
viper as text. StringSlice splits comma-separated strings.

All methods return the default value if:
  - The key is missing
  - The value cannot be converted to the requested type
  - The conversion would lose precision (e.g., float to int with fraction)

# Settings

SettingsFrom overlays a Config on Defaults and Settings.Validate reports
every invalid field as a joined list of validation errors:

	cfg, err := config.Load("crowdgate.yaml")
	if err != nil {
	    return err
	}
	settings := config.SettingsFrom(cfg)
	if err := settings.Validate(); err != nil {
	    return err
	}

# Files

Load reads .yaml, .yml and .json files. Unknown top-level sections are
rejected so that a misspelt "decison:" block does not silently fall back
to defaults.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation. However, if the original map is modified
externally, behavior is undefined.
*/
package config
