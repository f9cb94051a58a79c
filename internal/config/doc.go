// Package config defines the patcher settings and provides helpers to load,
// validate and save them in YAML format.
//
// Signing secrets may be kept out of the settings file: environment variables
// (optionally loaded from a .env file) override the stored values.
package config
