// Package runner drives one backend stream for one target to a terminal
// status.
//
// A [TargetRunner] owns a [State] that moves monotonically through
//
//	pending -> streaming -> done | errored | aborted
//
// (pending may jump straight to errored or aborted). Every fragment is
// appended to State.Text before it is handed to the emit callback, so the
// concatenation of emitted fragments always equals the accumulated text.
//
// # Failure classes
//
// Backend and protocol failures are captured in State.Err and Run returns
// nil: one failing target never ends a race. Cancellation, including a
// per-target [Options.Timeout], marks the target aborted and Run returns an
// error wrapping [ErrAborted]. A transport no adapter understands is a
// system defect; it is recorded and returned.
//
// # Retries
//
// Run never retries. Wrap the backend with backend.WithRetry instead.
package runner
