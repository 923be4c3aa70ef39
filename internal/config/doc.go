// Package config loads the wallet daemon's JSON configuration, overlays the
// PARA_* environment variables and validates the result before anything is
// wired.
package config
