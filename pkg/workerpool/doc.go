// Package workerpool supplies the goroutines that execute tasks.
//
// Workers come in two kinds:
//
//   - Poolable workers are reusable. After finishing a unit of work they park
//     in one of the pool's idle slots and wait for the next one.
//   - Detached workers are one-shot. They are created only when every
//     poolable slot is busy and retire after a single unit of work.
//
// # Acquisition
//
//	Acquire(ctx)
//	  │
//	  ├─ idle poolable worker in a slot?  ──► reuse it
//	  ├─ poolable count < MaxPoolable?     ──► create poolable
//	  ├─ total count < combined cap?       ──► create detached
//	  └─ otherwise wait for a release (AcquireTimeout)
//	        ├─ woken early      ──► retry
//	        └─ timeout elapsed  ──► raise combined cap by CapIncrement,
//	                                 retry with one less retry credit
//
// Raising the cap breaks the deadlock where every worker runs a task that
// waits on a child task still sitting in a queue. It is a heuristic: the
// pool cannot tell a deadlock from plain saturation. After CapDecayIdle
// without further escalation the cap is lowered one step at a time back to
// its initial value.
//
// # Idle slots
//
// Idle poolable workers are kept in a fixed array of slots, each guarded by
// its own mutex. Successive Acquire calls alternate the scan direction so
// concurrent callers tend to contend on different slots.
//
// # Worker lifecycle
//
//	Poolable:  Idle ──► Running ──► Idle ──► ... ──► Retired
//	Detached:  Running ──► Retired
//
// Retire forces any state to Retired. Go cannot stop a goroutine from the
// outside, so a retired worker that is still executing keeps running until
// its unit of work returns and then exits instead of parking. Its capacity
// is released immediately so the pool can replace it.
package workerpool
