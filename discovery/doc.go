// Package discovery maintains live overlay membership without central
// coordination.
//
// A node bootstraps by dialing its seed peers and exchanging a handshake: each
// side introduces itself with its advertised address, hosted services and
// known peer list. Learned services feed the directory; learned peers trigger
// further connection attempts, so membership spreads transitively from a
// single seed.
//
// The control plane rides the ordinary request path under reserved service
// names (delix.handshake, delix.services); reserved names never enter the
// directory and are never announced.
//
// Each known peer is owned by one maintainer goroutine: it reconnects after a
// connection loss with exponential backoff and evicts the peer after a capped
// number of consecutive failures. An evicted peer becomes eligible again the
// moment another peer re-announces it. Views are eventually consistent; the
// router tolerates routing to a just-failed provider via failover.
package discovery
