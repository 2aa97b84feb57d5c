// Package decompose orchestrates the layer-decomposition stage for queued
// runs.
//
// The handler pulls the published panorama back into a scratch directory,
// asks the engine to split it into sky, background, and foreground layers,
// and publishes every layer artifact together with a fresh copy of the
// panorama so the layer namespace is self-contained. Foreground label sets
// are optional tuning inputs; when absent the engine detects objects itself.
package decompose
