// Package profile defines the shared types, sentinel errors, and collaborator
// interfaces of the profile extraction pipeline: requests, sessions, verdicts,
// extraction results, and the browser abstraction the core drives.
package profile
