package ledger

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	Transient Kind = iota + 1
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ErrUnavailable matches any transient *Error.
var ErrUnavailable = errors.New("ledger unavailable")

// Move abort codes raised by the tipjar module.
const (
	AbortPaused              = "EPAUSED"
	AbortInsufficientBalance = "EINSUFFICIENT_BALANCE"
	AbortProfileNotFound     = "EPROFILE_NOT_FOUND"
	AbortProfileExists       = "EPROFILE_ALREADY_EXISTS"
	AbortInvalidAmount       = "EINVALID_AMOUNT"
)

var knownAborts = []string{
	AbortPaused,
	AbortInsufficientBalance,
	AbortProfileNotFound,
	AbortProfileExists,
	AbortInvalidAmount,
}

// Error is a classified ledger failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	VMStatus   string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ledger %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.VMStatus != "" {
		fmt.Fprintf(&b, ": %s", e.VMStatus)
	} else if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrUnavailable && e.Kind == Transient
}

// UserMessage is safe to show to end users.
func (e *Error) UserMessage() string {
	switch e.abortCode() {
	case AbortPaused:
		return "Tipping is temporarily paused. Please try again later."
	case AbortInsufficientBalance:
		return "Insufficient balance to send this tip."
	case AbortProfileNotFound:
		return "This recipient has no on-chain profile yet."
	case AbortProfileExists:
		return "A profile already exists for this account."
	case AbortInvalidAmount:
		return "The tip amount is not valid."
	}
	if e.Kind == Transient {
		return "The ledger is temporarily unavailable. Please try again."
	}
	return "The ledger rejected this transaction."
}

func (e *Error) abortCode() string {
	for _, code := range knownAborts {
		if strings.Contains(e.VMStatus, code) || strings.Contains(e.Message, code) {
			return code
		}
	}
	return ""
}

// AbortCode returns the Move abort name carried by err, if any.
func AbortCode(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.abortCode()
	}
	return ""
}

func IsTransient(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == Transient
}

func IsPermanent(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == Permanent
}

// UserMessage falls back to a generic message for unclassified errors.
func UserMessage(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.UserMessage()
	}
	return "The ledger request failed."
}

func transportError(op string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Err: err}
}

// classifyStatus maps a non-2xx node response. Server errors and throttling
// are transient; everything else the node refused is permanent.
func classifyStatus(op string, status int, body nodeError) *Error {
	kind := Permanent
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		kind = Transient
	}
	return &Error{
		Kind:       kind,
		Op:         op,
		StatusCode: status,
		VMStatus:   body.VMStatus,
		Message:    body.Message,
	}
}

// nodeError is the REST node's error body.
type nodeError struct {
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode int    `json:"vm_error_code"`
	VMStatus    string `json:"vm_status"`
}
