// Package config defines the updater settings shared by the binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills every optional field with its default, so code that received
// a validated Config never has to check for zero values.
package config
