// Package chat implements the message lifecycle for one conversation: a
// controller owning three staged stores (processing, just finished, history)
// and a streaming turn builder that drives a model stream into a single
// assistant message, executing tool calls and chaining follow-up turns
// through the controller's turn queue.
//
// Messages enter processing, move to just finished when their builder
// completes, and reach history once the batch is durably written. The
// finished-to-history flush is the only mutually excluded operation; bursts
// of flush requests collapse to the most recent pending one.
package chat
