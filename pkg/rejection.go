package pkg

import (
	"errors"
	"time"
)

// Rejection codes sent to the originating connection.
const (
	CodeUnauthorized      = "Unauthorized"
	CodeAccessDenied      = "AccessDenied"
	CodeNotFound          = "NotFound"
	CodeRateLimited       = "RateLimited"
	CodeValidationFailed  = "ValidationFailed"
	CodeRetryableInternal = "RetryableInternal"
)

// Rejection is the client-visible shape of a failed operation.
// Internal details never leave the process: RetryableInternal always carries a
// generic message.
type Rejection struct {
	Code             string     `json:"code"`
	Message          string     `json:"message"`
	ResetAt          *time.Time `json:"resetAt,omitempty"`
	IdempotencyToken string     `json:"idempotencyToken,omitempty"`
}

// Classify maps an error chain onto a Rejection.
func Classify(err error) Rejection {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		resetAt := rl.ResetAt.UTC()
		return Rejection{Code: CodeRateLimited, Message: "rate limit exceeded", ResetAt: &resetAt}
	}

	var re *RetryableError
	if errors.As(err, &re) {
		return Rejection{
			Code:             CodeRetryableInternal,
			Message:          "message could not be saved, retry with the same idempotency token",
			IdempotencyToken: re.Token,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return Rejection{Code: CodeUnauthorized, Message: err.Error()}
	case errors.Is(err, ErrForbidden):
		return Rejection{Code: CodeAccessDenied, Message: err.Error()}
	case errors.Is(err, ErrNotFound):
		return Rejection{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrAlreadyExists):
		return Rejection{Code: CodeValidationFailed, Message: err.Error()}
	case errors.Is(err, ErrRateLimited):
		return Rejection{Code: CodeRateLimited, Message: err.Error()}
	default:
		return Rejection{Code: CodeRetryableInternal, Message: "internal error"}
	}
}
