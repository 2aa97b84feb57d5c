// Package register orchestrates the final catalog stage for queued runs.
//
// The handler reads the world manifest, classifies the published world
// artifacts, and inserts a catalog record so viewers can list and download
// the finished world. Registration is the only stage that needs no engine
// or scratch space; it works entirely against object storage and the
// catalog database.
package register
