// Package driver runs process instances hosted by an external engine to
// completion under a virtual clock.
//
// A Runner starts one or more instances, polls the engine for the wait points
// they reach, dispatches each to a registered handler exactly once per reach,
// and advances the virtual clock to the next deferred continuation or engine
// timer when nothing is left to dispatch. The loop is single-threaded and
// synchronous: a handler runs to completion before the next one starts, and
// no real time passes.
//
// Key types:
//   - Runner drives one isolated run (its own clock, queue and instances)
//   - Delegate is the tagged union over paused points (TaskDelegate,
//     EventDelegate, TimerDelegate)
//   - Registry maps (activity id, kind) to handlers
//   - Queue holds deferred continuations ordered by (due time, enqueue order)
//   - VirtualClock is the only time source the engine may consult
//
// Engine is the boundary an engine implementation satisfies; see the
// memengine package for the in-memory reference.
package driver
