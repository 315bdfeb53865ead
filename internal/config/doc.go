// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and UNWRAPQR_ environment variables.
// Both the server and the worker binaries read the same Config.
package config
