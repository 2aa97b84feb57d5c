// Package pipeline persists generation runs in SQLite and defines their
// lifecycle. A run moves pending -> generating -> decomposing -> composing ->
// registering -> completed, with failed absorbing any stage error. Stages are
// idempotent overwrites keyed by theme, so a stuck run can always be reset to
// pending and replayed.
//
// The database is transient storage for in-flight work, not an archive;
// completed worlds live in the registry. Schema changes bump the version in
// schema.go and users clear the database to adopt the new schema.
package pipeline
