package app

import "errors"

var (
	// ErrUserNotFound and ErrInvalidPassword are the login failures shown to clients.
	ErrUserNotFound    = errors.New("User not found!")
	ErrInvalidPassword = errors.New("Invalid password!")

	// ErrUserDisabled is returned when a disabled account tries to log in.
	ErrUserDisabled = errors.New("user disabled")

	// ErrInvalidInput wraps field validation failures.
	ErrInvalidInput = errors.New("invalid input")

	ErrUsernameTaken       = errors.New("username already exists")
	ErrOldPasswordMismatch = errors.New("Old password does not match!")
	ErrDemoMode            = errors.New("This endpoint is disabled in DEMO mode!")
	ErrForbidden           = errors.New("forbidden")
	ErrNotImplemented      = errors.New("not implemented")

	ErrBookNotFound       = errors.New("book not found")
	ErrNotEPub            = errors.New("unsupported file type: only .epub files are accepted")
	ErrFileTooLarge       = errors.New("file too large")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidProgress    = errors.New("progress must be a non-negative number")

	// ErrInvalidSearchID is returned for ids outside the accepted length range.
	ErrInvalidSearchID = errors.New("search id must be 9 to 13 characters")
)
