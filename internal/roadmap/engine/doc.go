// Package engine drives the roadmap lifecycle: stage activation with task
// instantiation, stage completion, and the level-1 gate cascade.
//
// Every mutation runs inside a single store transaction; the status flip and
// the task batch it implies commit together or not at all. Domain events are
// collected during the transaction and published only after it commits, so
// subscribers never observe state that was rolled back.
package engine
