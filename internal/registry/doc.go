// Package registry catalogs completed worlds. Each record points at the
// panorama image and mesh set in object storage; a world appears here only
// after every artifact is durable, so readers never see partial runs. The
// catalog lives in its own SQLite database, separate from the transient run
// store.
package registry
