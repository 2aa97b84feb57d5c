// Package api defines the wire-format types for the daemon HTTP surface and
// the service that backs it. The service translates requests into workflow
// submissions and catalog reads so the transport layer stays a thin JSON
// shell.
//
// # Key Types
//
// GenerateRequest/GenerateResponse: prompt submission and its acknowledgment.
//
// StatusResponse: execution progress keyed by the submission handle.
//
// WorldsResponse: the registered world catalog with presigned URLs.
package api
