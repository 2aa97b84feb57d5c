// Package logs reads the daemon log file for the CLI: a bounded tail of
// recent lines plus poll-based following of appended output. It tolerates
// the file not existing yet and restarts cleanly after truncation or
// rotation, so `worldsmith logs --follow` survives log rollover.
package logs
