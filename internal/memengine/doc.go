// Package memengine is an in-memory process engine implementing
// driver.Engine.
//
// It executes compiled ir.ProcessDefinitions token by token: pass-through
// activities (start, end, gateways, scripts) run immediately, wait
// activities pause the token and surface as wait points. Timers are armed
// against the instance's virtual clock and fire only when ExecuteDueJobs is
// called, never on their own.
//
// The engine is deterministic: given the same definitions, id generator,
// clock and calls, it produces the same wait points and history in the same
// order. It is a reference and test boundary, not a production engine.
package memengine
