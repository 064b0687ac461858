package models

import "errors"

// Engine errors are plain values so the dispatcher and the admin API can
// classify them with errors.Is and render user-facing text without leaking
// anything beyond the deal id.
var (
	// ErrNotFound: unknown deal id, or a chat with no active bound deal.
	ErrNotFound = errors.New("deal not found")

	// ErrUnauthorized: non-admin invoking an admin operation.
	ErrUnauthorized = errors.New("not allowed")

	// ErrInvalidState: transition attempted from a status that does not
	// permit it.
	ErrInvalidState = errors.New("invalid deal state")

	// ErrAlreadyBound: the deal is already attached to a different chat.
	ErrAlreadyBound = errors.New("deal already bound to another chat")

	// ErrChatHasActiveDeal: the chat already has a non-terminal deal bound.
	ErrChatHasActiveDeal = errors.New("chat already has an active deal")

	// ErrValidation: malformed argument (empty address, bad role, etc.).
	ErrValidation = errors.New("validation failed")

	// ErrStorage: repository read or write failure.
	ErrStorage = errors.New("storage failure")
)
