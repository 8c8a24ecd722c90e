// Package apperr defines the sentinel errors shared across Tracemark packages.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrIO              = errors.New("io failure")
	ErrDeserialization = errors.New("deserialization failure")
)
