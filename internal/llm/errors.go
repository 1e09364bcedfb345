package llm

import (
	"errors"
	"fmt"
)

// AI categorisation errors. Callers branch on these to decide whether a
// failure is worth retrying: transport failures may be retried, content
// failures are not retryable with the same input, and rate limiting is
// final until the next day.
var (
	// ErrAPIFailure indicates the external service returned an error or
	// was unreachable.
	ErrAPIFailure = errors.New("classification service error")
	// ErrTimeout indicates the external call exceeded its deadline.
	ErrTimeout = errors.New("classification service timeout")
	// ErrParseFailure indicates the response was not parsable as the
	// expected structure.
	ErrParseFailure = errors.New("unparsable classification response")
	// ErrInvalidResponse indicates a parsable but semantically invalid
	// response item.
	ErrInvalidResponse = errors.New("invalid classification response")
	// ErrRateLimited indicates the daily usage budget is exhausted.
	ErrRateLimited = errors.New("daily AI categorisation limit reached")
)

// RateLimitError carries quota information alongside ErrRateLimited so the
// caller can tell a user how much budget remains and when it resets.
type RateLimitError struct {
	Remaining  int
	DailyLimit int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("daily AI categorisation limit reached (%d/%d remaining)",
		e.Remaining, e.DailyLimit)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
