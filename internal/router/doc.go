// Package router is the host event bus.
//
// Application events received from the coordinator are published as
// Envelopes and delivered, in publish order, to handlers subscribed to the
// event name and to catch-all subscribers. Publishing never blocks: the
// queue is a GrowableBuffer drained by a single dispatch goroutine.
package router
