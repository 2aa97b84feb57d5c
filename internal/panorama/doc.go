// Package panorama orchestrates the text-to-panorama stage for queued runs.
//
// The handler primes run progress, decorates the submitted prompt with the
// shared quality suffix, streams engine progress back into the store as
// heartbeats, and publishes the rendered panorama to object storage. The
// stage manifest is always the last artifact uploaded, so downstream stages
// can treat its presence as proof that the panorama itself is durable.
package panorama
