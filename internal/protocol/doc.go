// Package protocol defines the coordinator wire protocol.
//
// Every message is a single JSON object:
//
//	{"op": <int>, "event": <string>, "data": <any>, "intent": {"target": ..., "identifier": ...}, "id": <uuid>}
//
// Only "op" is mandatory. "id" is stamped by the sender on outbound EVENT
// messages. There is no length prefix: one delivery unit (one socket read,
// one line, or one WebSocket message depending on the framing) carries one
// message, and units longer than MaxMessageSize are rejected.
package protocol
