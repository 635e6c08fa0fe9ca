package apperr

import "errors"

// Sentinel error classes. Wrap with fmt.Errorf("...: %w", Err...) so
// callers can classify with errors.Is across package boundaries.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalid       = errors.New("invalid input")
	ErrConfiguration = errors.New("not configured")
	ErrNetwork       = errors.New("network failure")
	ErrTimeout       = errors.New("timed out")
	ErrDecryption    = errors.New("decryption failed")
	ErrEncoding      = errors.New("malformed payload")
)

// Retryable reports whether the caller may reasonably retry the
// operation. Timeouts and transport failures qualify; everything else
// is deterministic.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}
