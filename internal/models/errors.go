package models

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrLimitExceeded = errors.New("story limit exceeded")
	ErrTerminal      = errors.New("job already finished")
	ErrStaleState    = errors.New("job has moved past this state")
)
