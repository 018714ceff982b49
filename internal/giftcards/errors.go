package giftcards

import "errors"

var (
	// ErrCardNotFound is returned when no card matches the given id or code
	ErrCardNotFound = errors.New("gift card not found")
	// ErrDuplicateCode is returned when the unique code constraint rejects an insert
	ErrDuplicateCode = errors.New("gift card code already exists")
	// ErrCodeGenerationExhausted is returned when code generation keeps colliding
	ErrCodeGenerationExhausted = errors.New("gift card code generation exhausted retries")
	// ErrInsufficientBalance is returned when a debit would take the balance below zero
	ErrInsufficientBalance = errors.New("insufficient gift card balance")
	// ErrCardCancelled is returned when an operation targets a cancelled card
	ErrCardCancelled = errors.New("gift card is cancelled")
	// ErrCardExpired is returned when an operation targets an expired card
	ErrCardExpired = errors.New("gift card is expired")
	// ErrCardUsed is returned when cancelling a fully spent card
	ErrCardUsed = errors.New("gift card is fully used")
	// ErrCardNotActive is returned when a mutation requires an active card
	ErrCardNotActive = errors.New("gift card is not active")
	// ErrInvalidAmount is returned for non-positive operation amounts
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidDateRange is returned when valid_from is after valid_until
	ErrInvalidDateRange = errors.New("valid_from must not be after valid_until")
	// ErrStateConflict is returned when a concurrent mutation changed the card state
	ErrStateConflict = errors.New("gift card was modified concurrently")
)
