package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrAlreadyStarted  = errors.New("generation already started")
	ErrAlreadyEnhanced = errors.New("audio already enhanced")
	ErrNoFinalVideo    = errors.New("no final video")
)
