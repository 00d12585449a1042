package router

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageFailed wraps any persistence failure during a send.
	ErrMessageFailed = errors.New("message failed")
	// ErrInvalidMessage is returned for malformed sends; no quota is used.
	ErrInvalidMessage = errors.New("invalid message")
)

type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("sender is blocked: %s", e.Reason)
}

type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}
