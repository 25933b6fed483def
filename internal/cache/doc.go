// Package cache defines the flat, disk-backed store that keeps the last
// successful upstream payload per request URL. URLs are mapped to file names
// by MapURL (see key.go); every entry is a single file directly under the
// storage directory, without metadata, expiry or eviction. The gateway uses
// Probe before forwarding to pick a timeout, Read to fall back after a logical
// failure, and Write to persist a fresh success.
package cache
