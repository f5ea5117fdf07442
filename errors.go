package match

import "errors"

var (
	ErrInvalidOrder   = errors.New("the order is invalid")
	ErrDuplicateEntry = errors.New("the order is already resting in the book")
	ErrShutdown       = errors.New("matching engine is shutting down")
	ErrTimeout        = errors.New("timeout")
	ErrBookCorrupted  = errors.New("stored book entry could not be decoded")
)
