package service

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrJobNotCancellable = errors.New("job cannot be cancelled")
	ErrStartFailed       = errors.New("failed to start restoration")
	ErrPaymentProvider   = errors.New("payment provider error")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrNotFound          = errors.New("not found")
)
