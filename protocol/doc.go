// Package protocol defines the wire format spoken between delix nodes.
//
// The wire unit is the Packet: a request id for correlation, a result code, an
// optional human-readable message and an opaque payload. A request carries
// result Ok and a Request envelope naming the target service; the response
// echoes the request id, sets the result and carries the response payload (or
// an empty payload plus a message on error).
//
// Packets are serialized as JSON, sealed with the node's Cipher and written to
// the stream with a 4-byte big-endian length prefix. Any frame that fails to
// decode or authenticate is fatal to the connection that received it; silent
// desynchronization is worse than a reconnect.
//
// Result mirrors the operating-system level I/O error kinds so that the
// router's retry decision can be keyed off specific members: connection-level
// faults (refused, reset, aborted, not connected, broken pipe) are retried
// against another provider, everything else is an authoritative outcome and is
// surfaced unchanged.
package protocol
