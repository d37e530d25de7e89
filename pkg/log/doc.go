// Package log provides the logging abstraction used across logship.
//
// The staging core (queue, pool, batcher) and the forwarding loop only
// depend on the Logger interface defined here. A zerolog adapter is
// provided for production use and a no-op logger for tests and embedding.
//
// # Usage
//
//	logger := log.NewZerologAdapter()
//	q := queue.New(queue.Config{Capacity: 1000, Logger: logger})
//
// # Levels
//
// The agent reports through four levels. Conditions the caller can
// recover from locally (an oversized message, a too-small buffer) are
// logged at Warn; conditions that abort an operation outright (pool
// exhaustion, a send that cannot be built) are logged at Error.
//
// # Custom Loggers
//
// Implement the Logger interface to route messages elsewhere:
//
//	type MyLogger struct { ... }
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
package log
