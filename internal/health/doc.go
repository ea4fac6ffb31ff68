// Package health serves the ops HTTP surface: liveness, readiness and
// Prometheus metrics.
package health
