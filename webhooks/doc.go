// Package webhooks verifies, parses and dispatches signed webhook deliveries.
//
// Verify checks an HMAC-SHA256 signature over the exact raw body against one
// or more secrets. Parser wraps verification with JSON decoding and per-event
// schema validation, and Dispatcher fans parsed events out to handlers in
// registration order.
//
// Processor adds a delivery ledger on top with the claim lifecycle
// pending/retry_ready -> processing -> processed|dead, so retries and
// crash-recovery stay explicit and redeliveries are deduped.
package webhooks
