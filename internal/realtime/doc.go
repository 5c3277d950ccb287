// Package realtime is the live side of the chat backend. It authenticates
// WebSocket connections once at handshake, tracks which connections belong
// to which user, subscribes connections to conversation rooms and fans out
// persisted messages and ephemeral typing events to room subscribers.
//
// Shared state (the registry and the room subscriber sets) is owned by
// Registry and Hub and only reachable through their methods. Delivery to a
// connection is a non-blocking enqueue onto its bounded send buffer; a
// connection whose buffer is full is disconnected rather than allowed to
// stall the sender or the other subscribers.
package realtime
