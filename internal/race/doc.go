// Package race fans one request out to several targets and renders the
// answers through a single output stream.
//
// The first target to produce non-blank text becomes the leader and streams
// live. Every other target accumulates silently; once all targets have
// settled they are printed in their original order, followed by a summary:
//
//	openai (gpt-4o): [412ms]
//	...live text...
//
//	anthropic (claude-sonnet-4): [655ms]
//	...buffered text...
//
//	[2/2 models responded in 3.1s]
//
// One target failing never ends a race. Cancelling the context does: the
// orchestrator stops rendering at once and returns an error wrapping
// context.Canceled, without a summary.
package race
