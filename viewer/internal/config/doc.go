// Package config loads the viewer configuration from the `viewer:` section of
// config.yaml. Fields map 1:1 to config.example.yaml.
//
// Load(path) applies defaults before unmarshalling; Validate runs after
// command-line overrides have been applied.
package config
