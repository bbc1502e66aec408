// Package relay bridges plain HTTP clients and backends onto the overlay.
//
// The ingress side accepts ordinary HTTP requests, reads the target service
// name from a configurable header and dispatches the request through the
// router; the response travels back as a regular HTTP response. The backend
// side is the mirror image: a service handler that replays overlay requests
// against a fixed upstream HTTP server, so existing services join the overlay
// without code changes.
//
// Routing errors map onto HTTP status codes (unknown service becomes 404,
// exhausted providers 503, a timeout 504) so that HTTP-side load balancers
// and clients see conventional failure semantics.
package relay
