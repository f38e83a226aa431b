// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientFunds indicates a debit would drive the balance negative.
var ErrInsufficientFunds = errors.New("insufficient token balance")

// ErrRunInFlight indicates the user already has a non-terminal run.
var ErrRunInFlight = errors.New("a vibe check is already in progress")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")
