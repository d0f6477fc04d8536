// Package audit provides the structured security audit pipeline: an
// append-only in-memory event ring with a buffered durable file sink,
// size-based rotation, retention pruning, search, statistics and export.
//
// Every security-relevant occurrence in the system flows through a Logger,
// either directly or via the domain event bus (see Subscribe). Events are
// assigned an ID and timestamp at log time; severity and category are
// inferred from the event name when the caller does not supply them.
//
// Durability degrades gracefully: a sink failure is reported to the fallback
// logger and never blocks or fails the operation that produced the event.
package audit
