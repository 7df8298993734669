package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrActiveJobExists     = errors.New("active job exists")
	ErrJobFinished         = errors.New("job already finished")
	ErrNoInputImage        = errors.New("no input image")
	ErrImageTooLarge       = errors.New("image exceeds size limit")
	ErrInvalidImage        = errors.New("invalid image")
)
