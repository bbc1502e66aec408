// Package directory maintains the in-memory mapping from logical service
// names to the providers currently able to serve them. It is fed by discovery
// as peers join, announce services and fail, and read by the router on every
// dispatch. Readers always observe a consistent snapshot: a provider is
// either fully present or fully absent, never mid-eviction.
package directory
