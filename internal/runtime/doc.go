/*
Package runtime implements the CloudWatch Logs shipping engine behind logtower.

# Architecture Overview

Application code hands records to a Handler. The handler resolves each
record's stream name, queues it on that stream and returns. One worker per
stream assembles batches and submits them with PutLogEvents. Nothing on the
delivery path returns an error to the application: failures become warnings.

# Package Structure

## Admission & Lifecycle (handler.go)

The Handler validates its configuration, builds the CloudWatch Logs client
and provisions the log group. Emit admits records; Flush and Close push
control signals through every stream queue and wait until the workers have
processed them.

## Batch Assembly (batcher.go, record.go)

Each stream worker pulls from its queue with a timeout bounded by the batch
deadline. A batch is submitted when the next event would exceed
MaxBatchSize or MaxBatchCount, when SendInterval elapses, or on a control
signal. Oversized messages are truncated before they join a batch.

## Delivery (delivery.go)

Batches are sorted by timestamp and submitted with the stream's sequence
token. Token conflicts adopt the token the service expects, a missing
stream is re-created and the batch resubmitted without a token, anything
else is retried up to MaxRetries.

## Observability (metrics.go, hooks.go, status.go)

Prometheus collectors, batch lifecycle hooks and a JSON status endpoint.

## slog (sloghandler.go)

A slog.Handler that ships slog records through a Handler.

# Sub-packages

  - config/: Handler configuration with validation and YAML loading
  - cwlogs/: CloudWatch Logs API subset and error classification
  - diagnostics/: Non-fatal warnings and reporters
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for batch IDs
  - jsoncodec/: JSON rendering of payloads
  - logging/: Logger interface and adapters
  - queue/: Unbounded FIFO with timed reads
  - streamname/: Stream name templates
  - transport/: AWS SDK client construction

# Usage Example

	cfg := &logtower.Config{
		LogGroupName:  "my-app",
		LogStreamName: "{machine_name}/{logger_name}",
		SendInterval:  5 * time.Second,
	}

	h := logtower.NewHandler(cfg, logger, ctx, logtower.HandlerDependencies{})
	defer h.Close()

	slog.SetDefault(slog.New(logtower.NewSlogHandler(h, nil)))
*/
package runtime
