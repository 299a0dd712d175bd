// Package async provides lock-free coordination primitives for suspended
// computations: a manual-reset event, a mutex with direct ownership handoff,
// a reader/writer variant, a buffered channel, and a spin lock for short
// synchronous sections.
//
// A suspended computation presents itself as an Operation. Primitives link
// operations into intrusive wait lists and call Execute exactly once when the
// awaited condition holds. Execute runs inline on whichever goroutine calls
// Set or Unlock; use Via with a Scheduler to move it elsewhere.
//
// Every primitive also offers a blocking adapter (Wait, Lock, RLock, Send,
// Receive) that parks the calling goroutine on an internal Operation.
package async
