// Package config handles YAML and TOML configuration loading with
// environment variable substitution.
//
// The format is chosen by file extension (.yaml, .yml or .toml).
// Configuration files support ${VAR} syntax for environment variable
// interpolation, which keeps tokens and database passwords out of the file.
package config
