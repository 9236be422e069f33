package common

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the conversion engine. Match with errors.Is.
var (
	ErrInvalidGeometry         = errors.New("invalid geometry")
	ErrUnknownCategory         = errors.New("unknown category")
	ErrMissingImageAssociation = errors.New("missing image association")
	ErrSchemaMismatch          = errors.New("schema mismatch")
	ErrDuplicateImageKey       = errors.New("duplicate image key")
)

// Error carries one of the kinds above plus a human readable detail.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func InvalidGeometry(format string, args ...interface{}) error {
	return newError(ErrInvalidGeometry, format, args...)
}

func UnknownCategory(format string, args ...interface{}) error {
	return newError(ErrUnknownCategory, format, args...)
}

func MissingImageAssociation(format string, args ...interface{}) error {
	return newError(ErrMissingImageAssociation, format, args...)
}

func SchemaMismatch(format string, args ...interface{}) error {
	return newError(ErrSchemaMismatch, format, args...)
}

func DuplicateImageKey(format string, args ...interface{}) error {
	return newError(ErrDuplicateImageKey, format, args...)
}

// IsTaxonomy reports whether err belongs to one of the engine's error kinds.
func IsTaxonomy(err error) bool {
	for _, kind := range []error{
		ErrInvalidGeometry,
		ErrUnknownCategory,
		ErrMissingImageAssociation,
		ErrSchemaMismatch,
		ErrDuplicateImageKey,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
