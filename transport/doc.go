// Package transport implements the encrypted, multiplexed connection between
// two delix nodes.
//
// A Connection owns one TCP stream. Many logical requests run over it
// concurrently: each caller is assigned a fresh request id, registers a
// one-shot pending slot and suspends until the single reader goroutine
// resolves the slot with the correlated response, the caller's context
// expires, or the connection closes. Writes are serialized so frames never
// interleave; responses may arrive in any order.
//
// Request ids carry the side of the connection that allocated them in their
// lowest bit (even for the dialing side, odd for the accepting side), so a
// peer-initiated request can never be mistaken for the response to a local
// one. A received packet whose id belongs to the peer is an inbound request
// and is handed to the connection's Handler; its return value travels back as
// the response packet with the same id.
//
// Closing a connection is idempotent, wakes every waiting caller exactly once
// with a connection-aborted result, and renders the connection permanently
// unusable; retrying a peer means dialing a new Connection.
package transport
