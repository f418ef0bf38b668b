package services

import "errors"

var (
	// ErrInvalidCredentials is returned for both unknown emails and wrong
	// passwords so callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("the provided credentials do not match our records")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("the email has already been taken")
)
