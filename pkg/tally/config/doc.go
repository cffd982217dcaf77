/*
Package config provides typed configuration lookup over map[string]any.

# Overview

A Config wraps the map produced by decoding YAML, JSON or the environment.
Accessors take a key, which may be a dotted path into nested maps, and a
default that is returned when the key is missing or its value cannot be
converted.

	cfg, err := config.FromFile("tally.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	apiKey := cfg.String("api_key", "")
	interval := cfg.Duration("flush_interval", 30*time.Second)
	path := cfg.String("storage.path", "")

# Environment

FromEnv reads variables with a prefix. The prefix and its separator are
stripped, the rest is lower-cased and a double underscore starts a nested
key:

	TALLY_API_KEY=abc          -> api_key
	TALLY_STORAGE__PATH=/data  -> storage.path

Environment values are strings. The numeric, boolean and duration accessors
parse them.

# Layering

Merge overlays configs left to right, so later sources win:

	cfg := config.Merge(fileCfg, config.FromEnv("TALLY"))

# Thread Safety

Config is safe for concurrent reads. Merge returns a new map and never
modifies its inputs.
*/
package config
