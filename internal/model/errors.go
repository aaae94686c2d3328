package model

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrUnknownMIME = errors.New("could not determine MIME type")
	ErrValidation  = errors.New("validation error")
)
