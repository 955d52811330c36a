// Package store provides a generic observable value container. A Store holds
// a single value, notifies subscribers synchronously on every update and
// persists the value to a backing Provider asynchronously, coalescing rapid
// successive updates into one write after a quiet interval.
//
// Values are treated as immutable by convention: updaters are pure functions
// returning a new value, never mutating the old one in place. Subscribers run
// in registration order and a panicking subscriber does not prevent the
// remaining ones from running.
package store
