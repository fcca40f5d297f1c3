package repository

import "errors"

var (
	ErrJobNotFound          = errors.New("job not found")
	ErrJobTerminal          = errors.New("job already in terminal state")
	ErrJobNotRefundable     = errors.New("job not refundable")
	ErrImageNotFound        = errors.New("image not found")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrMilestoneUnavailable = errors.New("milestone not available")
	ErrConflict             = errors.New("concurrent update")
	ErrCustomerNotFound     = errors.New("stripe customer not found")
)
