// Package core defines the Loop aggregate and its satellite types
// (Participant, StopSequence, Message) together with the invariants the
// orchestrator relies on: rotation order derived from order indices,
// chronological message ordering, and turn counting. It also declares the
// LoopStore persistence contract implemented by the store package.
package core
