// Package config loads a siridb-server TOML configuration file into the
// typed shape every other package wires itself from (spec.md §6's CLI
// surface resolves "--config <path>" to exactly this file).
//
// The teacher reads a single environment variable by hand; SiriDB-Go's
// tunable surface is wide enough (listen address, data directory, pool
// topology, buffer/optimizer knobs) that it is expanded into a TOML file
// loaded with github.com/BurntSushi/toml instead, per SPEC_FULL.md §1.3.
package config
