// Package router dispatches requests to a provider of the target service and
// applies the failover policy.
//
// A dispatch consults the directory for the service's provider set, lets the
// balancer choose among the remaining candidates and sends the request over
// the chosen provider. Connection-level faults remove the candidate and
// retry the next one; a timeout or any result the remote authoritatively
// produced is surfaced unchanged, since retrying it could duplicate side
// effects at the provider.
//
// The router also hosts the node's local services: handlers registered here
// are balanced alongside remote providers for local dispatches, and serve
// requests arriving from peers.
package router
