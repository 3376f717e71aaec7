package port

import "context"

type IdempotencyGuard interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes a key so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
