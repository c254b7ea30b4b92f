package service

import (
	"errors"
	"fmt"
)

// Business errors. Handlers map them onto HTTP status codes with errors.Is;
// the specific variants wrap their category.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = fmt.Errorf("%w: account inactive", ErrInvalidCredentials)
	ErrForbidden          = errors.New("forbidden")
	ErrProtectedAccount   = errors.New("protected account")
	ErrProtectedRoom      = errors.New("protected room")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidUpload      = errors.New("invalid upload")
	ErrPayloadTooLarge    = errors.New("payload too large")

	ErrUsernameTaken = fmt.Errorf("%w: username taken", ErrConflict)
	ErrRoomNameTaken = fmt.Errorf("%w: room name taken", ErrConflict)
	ErrUserNotFound  = fmt.Errorf("%w: user", ErrNotFound)
	ErrRoomNotFound  = fmt.Errorf("%w: room", ErrNotFound)
)
