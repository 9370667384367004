package matrix

import "errors"

var (
	// ErrAuthFailed means the homeserver rejected our credentials. Fatal;
	// callers must not retry silently.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrRateLimited means the homeserver returned 429. Retryable.
	ErrRateLimited = errors.New("rate limited by homeserver")
	// ErrNotFound means the requested room or resource does not exist.
	ErrNotFound = errors.New("not found")
)

// IsFatal reports whether an error from the client rules out forward
// progress. Everything else is treated as transient and retried with
// back-off.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
