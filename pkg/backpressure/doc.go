// Package backpressure decides when a (subscriber, channel) stream may push
// again after a failure.
//
// Every stream is driven by a small state machine:
//
//	Idle ──begin──▶ Delivering ──finish──▶ Idle
//	                Delivering ──fail──▶ Waiting ──begin (retry due)──▶ Delivering
//	                Delivering ──fail (attempts exhausted)──▶ Suspended
//	any ──suspend──▶ Suspended ──resume──▶ Idle
//
// A stream in Delivering rejects further begin events, which is how the
// dispatcher guarantees at most one in-flight push per stream. Waiting
// streams become eligible once their exponential, jittered backoff elapses,
// at which point the controller calls the registered retry function.
package backpressure
