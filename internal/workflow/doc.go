// Package workflow turns a submitted prompt into a registered world by
// driving the pipeline stages through an execution engine.
//
// The Engine contract mirrors a hosted state machine: Submit starts an
// asynchronous execution and returns a handle, Describe reports where it
// stands. LocalEngine is the in-process implementation used by the daemon.
// It walks the default definition one state at a time with per-state
// timeouts and retries, persisting every transition to the run store, and
// a background scanner resumes runs left in a non-terminal status so work
// survives a daemon restart.
package workflow
