// Package config loads, normalizes, and validates worldsmith's TOML
// configuration. Configuration problems are startup failures: no component
// accepts work until Load succeeds.
package config
