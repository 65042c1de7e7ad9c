package identity

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAssertionMissing    = errors.New("identity assertion missing from callback")
	ErrAssertionInvalid    = errors.New("identity assertion invalid")
	ErrSessionNotFound     = errors.New("ephemeral session not found or expired")
	ErrProofBindingInvalid = errors.New("proof does not bind to this session")
	ErrPepperService       = errors.New("pepper service unavailable")
	ErrProofService        = errors.New("proof service unavailable")
)

// UpstreamError carries the HTTP status of a failed pepper or prover call.
type UpstreamError struct {
	Service    error
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%v: returned %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Service }

// IsRetryable reports whether a failed exchange step may succeed on retry.
// Only upstream service failures qualify, and not when the upstream rejected
// the request outright.
func IsRetryable(err error) bool {
	if !errors.Is(err, ErrPepperService) && !errors.Is(err, ErrProofService) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500 || ue.StatusCode == http.StatusTooManyRequests
	}
	return true
}
