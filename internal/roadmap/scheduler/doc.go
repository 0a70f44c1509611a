// Package scheduler computes waterfall deadlines for stage activations.
//
// Work units are partitioned into independent chains by executor key (the
// required role, or the current assignee for manual stages). Units sharing a
// key run strictly sequentially from the stage start; units on different
// keys run in parallel from the same start instant. The running-deadline
// ledger lives only for the duration of one planning call.
package scheduler
