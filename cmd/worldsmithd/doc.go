// Command worldsmithd runs the worldsmith daemon: it opens the run store and
// world catalog, connects to object storage, wires the four stage handlers
// into the workflow engine, and serves the HTTP API until interrupted.
package main
