package storage

import "errors"

// Common storage errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAddressLinked = errors.New("address already linked to another account")
	ErrAccountLinked = errors.New("account already has a linked address")
)
