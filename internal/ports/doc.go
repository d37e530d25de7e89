// Package ports defines the interfaces that connect the application layer
// to infrastructure adapters.
//
// # Port Interfaces
//
//   - [EventSource]: produces raw log messages
//   - [BatchSender]: delivers framed batches to the ingestion service
//   - [StateRepository]: persists and loads the source checkpoint
//   - [ResourceGate]: defers non-urgent sends while the host is busy
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The application layer (internal/app) depends only on these interfaces.
// Adapters under internal/adapters implement them for the file system and
// HTTP.
package ports
