// Package daemon hosts the long-running worldsmith process: the workflow
// engine that drives generation runs, the HTTP API that accepts submissions
// and reports progress, and the periodic sweeper that reclaims stale work.
//
// # Lifecycle
//
// New wires the daemon from its collaborators but starts nothing. Start
// acquires the singleton file lock, starts the engine and the API listener,
// and launches the sweeper. Stop unwinds in reverse order and releases the
// lock; Close additionally closes the backing stores. A second daemon
// pointed at the same lock path refuses to start.
//
// # Stale work
//
// The sweeper periodically resets runs whose heartbeat went silent back to
// pending so the engine picks them up again, and removes working directories
// old enough that no live run can still own them.
package daemon
