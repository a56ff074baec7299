// Package flow tracks per-chunk delivery state for an outgoing transfer
// and decides which chunks may be sent at any moment.
//
// Each chunk moves through a small state machine: pending, sent, then
// either acknowledged or, after an acknowledgement timeout, retrying.
// A chunk whose retries are exhausted becomes permanently failed, which
// fails the transfer. The in-flight window adapts to feedback from the
// channel: backpressure pauses dispatch entirely, and the window size can
// be raised or lowered while the transfer runs.
//
// Timeout scanning is iterative. CheckTimeouts walks the sent set once
// per call; nothing recurses, so a pathological run of losses costs a
// bounded amount of work per tick.
package flow
