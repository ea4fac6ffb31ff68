// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one transport (TCP, TLS or WebSocket) at a time
//   - Sends IDENTIFY {group, token} on connect and becomes ready on the
//     coordinator's IDENTIFY response
//   - Keeps the link alive with PING/PONG and drops it after one
//     unanswered PING
//   - Reconnects after a fixed delay following any close, forever
//   - Surfaces error, event and identify notifications to an Observer
package connection
