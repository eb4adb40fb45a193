// Package config loads, validates, and normalizes foundry's TOML
// configuration. Path fields are tilde-expanded and made absolute during Load
// so downstream packages never deal with relative or unexpanded paths.
package config
