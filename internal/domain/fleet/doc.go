// Package fleet tracks the worker hosts that transports keep alive.
//
// Transports add an entry when they spawn a host and remove it when the
// host ends; a poller that refreshes swaps its entry for the new host.
// The status server lists the fleet at /hosts. The active-host gauge is
// kept by the hosts themselves, so the fleet never touches metrics.
package fleet
