// Package balancer picks one provider per request from a candidate set and
// records outcome feedback.
//
// Three strategies share one interface, selected by configuration name:
// dynamic round-robin (the default) approximates least-loaded routing by
// tracking outstanding requests per candidate, static round-robin rotates
// through candidates, and random picks uniformly.
package balancer
