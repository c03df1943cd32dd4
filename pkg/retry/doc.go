// Package retry runs an operation again with exponential backoff while it
// fails with a retryable error.
//
// Errors classified as invalid input by the dynbus errors package, and
// errors wrapped with NonRetryable, end the loop at once. Everything else is
// retried until MaxAttempts is reached or the context is done.
//
//	rev, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (uint64, error) {
//		return bucket.Put(ctx, key, value)
//	})
//
// The NATS key-value store wraps discovery record writes with it. Sample
// writes are never retried.
package retry
