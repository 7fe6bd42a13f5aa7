// ABOUTME: Package metrics exposes Prometheus collectors for a running room
// ABOUTME: Components take a *Metrics and tolerate nil when metrics are disabled

// Package metrics defines the Prometheus collectors recorded by the room.
package metrics
