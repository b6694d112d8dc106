// Package processor turns flushed debounce events into normalized turns.
//
// For each event it resolves the conversation kind and sender identity
// through the metadata caches, drops duplicates, evaluates the access gate,
// runs requested side effects (pairing codes, control commands), and emits
// an authorized turn to the responder with the conversation's rolling
// history folded in. Metadata failures degrade to raw identifiers; they
// never abort a turn.
package processor
