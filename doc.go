// Package logtower ships application logs to Amazon CloudWatch Logs without
// blocking the code that produces them. Records are routed to a log stream
// by a name template, queued per stream and submitted in batches by one
// background worker per stream.
//
// A Handler is built from a Config and a ServiceLogger. The logger only ever
// receives the handler's own diagnostics, never the records being shipped,
// so it is safe to point it at a sink that itself logs through the handler.
// Emit admits a Record; NewSlogHandler wraps a Handler as a slog.Handler so
// existing slog call sites ship without changes.
//
// # Batching
//
// A batch is submitted when the next record would push it past MaxBatchSize
// bytes (message bytes plus 26 bytes of overhead per event) or MaxBatchCount
// records, when SendInterval has passed since the batch was started, or when
// Flush or Close is called. Messages longer than MaxMessageSize are
// truncated.
//
// # Delivery
//
// Each batch is sorted by timestamp and submitted with the stream's sequence
// token. Stale tokens are corrected from the service's answer, streams that
// disappear are re-created (the log group too, unless SkipLogGroupCreation is
// set) and other failures are retried up to MaxRetries times. Batches that
// still fail are reported as warnings and dropped; delivery never panics or
// returns errors to the application.
//
// # Shutdown
//
// Close flushes every stream, stops the workers and waits for them. Records
// emitted after Close are dropped with a warning. Workers do not keep the
// process alive, so call Close before exiting.
//
// When you need more control, HandlerDependencies accepts a prebuilt
// CloudWatch Logs client or a ClientFactory, a warning Reporter, delivery
// hooks and Prometheus collectors.
package logtower
