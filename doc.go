// Package changemaster aggregates version-control change notifications from
// any number of producers into a single, globally ordered change log. It
// couples durable id assignment (delegated to a Store), in-order subscriber
// fan-out, throttled retention pruning, and a read-only history service into
// a single library that can be embedded into services.
//
// Typical usage looks like:
//   - Open a Store from one of the backend packages
//   - Create a Manager with configuration
//   - Register Sources that feed raw changes into the Manager
//   - Subscribe to newly numbered changes, or query the History
//
// The cmd/changemaster directory contains an operator CLI that exercises the
// API against any of the backends.
package changemaster
