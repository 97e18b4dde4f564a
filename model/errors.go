package model

import "errors"

var (
	ErrInvalidValue     = errors.New("invalid value")
	ErrNetwork          = errors.New("network error")
	ErrTimeout          = errors.New("timeout")
	ErrParse            = errors.New("parse error")
	ErrAborted          = errors.New("aborted")
	ErrAlreadySubmitted = errors.New("request already submitted")
	ErrPoolFull         = errors.New("dispatch queue is full")
	ErrPoolClosed       = errors.New("dispatcher is closed")
)
