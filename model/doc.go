// Package model defines the streaming language model abstraction consumed by
// the turn builder, plus a scriptable mock for tests. Concrete provider
// adapters live in the openai and anthropic sub-packages.
//
// A model receives a normalized Request (system prompts, projected history
// turns, tool declarations, generation parameters) and yields an ordered
// sequence of Delta events: text fragments and incremental tool call
// fragments. The sequence terminates normally when the delta channel closes,
// or abnormally through the error channel.
package model
