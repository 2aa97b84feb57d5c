// Package compose orchestrates the layers-to-world stage for queued runs.
//
// The handler stages every layer artifact back into a scratch directory,
// asks the engine to lift the layers into mesh geometry, and publishes the
// resulting mesh set together with a copy of the source panorama. The world
// namespace therefore holds everything the catalog needs: one panorama
// image, three or four mesh layers, and the world manifest written last.
package compose
