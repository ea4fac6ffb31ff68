// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Dial outcomes, disconnect reasons and scheduled reconnects
//   - Messages in/out by opcode
//   - Failure classes that are otherwise silent: malformed payloads,
//     dropped sends, oversized deliveries, heartbeat timeouts
//   - Journal write outcomes
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics
