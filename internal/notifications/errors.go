package notifications

import "errors"

// Repository errors.
var (
	ErrJobNotFound          = errors.New("delivery job not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrProfileNotFound      = errors.New("preference profile not found")
	ErrDuplicateDigest      = errors.New("digest job already exists for period")
)

// State machine errors.
var (
	ErrJobNotClaimable = errors.New("job is not in the expected state")
	ErrJobTerminal     = errors.New("job is in a terminal state")
	ErrNotRetryable    = errors.New("only failed jobs can be retried")
)

// Service errors.
var (
	ErrUnknownTemplate = errors.New("unknown notification type")
	ErrNoTransport     = errors.New("no outbound transport configured")
)
