package app

import "errors"

// Book lifecycle errors.
var (
	ErrBookNotFound     = errors.New("book not found")
	ErrBookNotReady     = errors.New("book is not ready for download")
	ErrBookPDFMissing   = errors.New("book has no generated file")
	ErrBookAlreadyFinal = errors.New("book already reached a final status")
)

// Validation errors for book creation and completion.
var (
	ErrChildNameRequired    = errors.New("child name is required")
	ErrChildNameTooLong     = errors.New("child name is too long")
	ErrInvalidAdventureType = errors.New("unknown adventure type")
	ErrPhotosRequired       = errors.New("at least one photo is required")
	ErrInvalidStatus        = errors.New("invalid completion status")
)

// Account errors.
var (
	ErrInvalidCredentials       = errors.New("incorrect email or password")
	ErrEmailAlreadyExists       = errors.New("email already registered")
	ErrEmailAndPasswordRequired = errors.New("email and password are required")
	ErrPasswordTooShort         = errors.New("password is too short")
	ErrUserDisabled             = errors.New("user account is disabled")
)
