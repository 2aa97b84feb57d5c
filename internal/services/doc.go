// Package services holds cross-cutting service plumbing: the pipeline error
// taxonomy, error wrapping helpers, and context annotations shared by stage
// runners, the coordinator, and the HTTP front-end.
package services
