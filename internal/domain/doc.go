// Package domain contains the core value types and errors shared by the
// logship packages.
//
// It has no dependencies on infrastructure concerns (HTTP, file system,
// logging).
//
// # Types
//
//   - [Batch]: a framed payload ready to be sent downstream
//   - [Checkpoint]: the persisted read position of a tailed source
//   - [OpError]: the tagged error returned by staging operations
package domain
