package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Presence errors
	ErrIdentityRequired = errors.New("identity is required")
	ErrPresenceNotFound = errors.New("presence record not found")

	// Dispatch errors
	ErrInvalidEvent  = errors.New("notification event requires a recipient and a message")
	ErrEmailDelivery = errors.New("email fallback delivery failed")

	// Channel errors
	ErrClientClosed   = errors.New("client connection is closed")
	ErrSendBufferFull = errors.New("client send buffer is full")
)
