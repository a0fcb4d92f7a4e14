package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeNotFound     = "IDENTITY_NOT_FOUND"
	ErrorCodeUnauthorized = "IDENTITY_UNAUTHORIZED"
	ErrorCodeForbidden    = "IDENTITY_FORBIDDEN"
	ErrorCodeBadRequest   = "IDENTITY_BAD_REQUEST"
	ErrorCodeConflict     = "IDENTITY_CONFLICT"
	ErrorCodeInternal     = "IDENTITY_INTERNAL_ERROR"
)

// MetadataKeyChallenge carries a WWW-Authenticate challenge for
// token-introspection-style callers that must echo one.
const MetadataKeyChallenge = "www_authenticate"

func NewNotFound(message string) *goerrors.Error {
	return newIdentityError(message, goerrors.CategoryNotFound, ErrorCodeNotFound)
}

func NewUnauthorized(message string) *goerrors.Error {
	return newIdentityError(message, goerrors.CategoryAuth, ErrorCodeUnauthorized)
}

func NewForbidden(message string) *goerrors.Error {
	return newIdentityError(message, goerrors.CategoryAuthz, ErrorCodeForbidden)
}

func NewBadRequest(message string) *goerrors.Error {
	return newIdentityError(message, goerrors.CategoryBadInput, ErrorCodeBadRequest)
}

func NewConflict(message string) *goerrors.Error {
	return newIdentityError(message, goerrors.CategoryConflict, ErrorCodeConflict)
}

func NewInternal(err error, message string) *goerrors.Error {
	if err == nil {
		return newIdentityError(message, goerrors.CategoryInternal, ErrorCodeInternal)
	}
	return ensureIdentityErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryInternal, message),
	)
}

// WithChallenge attaches a WWW-Authenticate challenge string to an error so
// callers that must echo one can pick it up from metadata.
func WithChallenge(err *goerrors.Error, challenge string) *goerrors.Error {
	if err == nil {
		return nil
	}
	return err.WithMetadata(map[string]any{MetadataKeyChallenge: challenge})
}

// HasCategory reports whether err carries the given go-errors category
// anywhere in its chain.
func HasCategory(err error, category goerrors.Category) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == category
}

func IsNotFound(err error) bool {
	return HasCategory(err, goerrors.CategoryNotFound)
}

func IsConflict(err error) bool {
	return HasCategory(err, goerrors.CategoryConflict)
}

// IdentityErrorMapper normalizes any error into the identity error envelope:
// a go-errors Error with category, HTTP status code, and IDENTITY_* text code.
func IdentityErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIdentityErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no rows"):
		return newIdentityError(err.Error(), goerrors.CategoryNotFound, ErrorCodeNotFound)
	case strings.Contains(msg, "csrf"), strings.Contains(msg, "unauthorized"):
		return newIdentityError(err.Error(), goerrors.CategoryAuth, ErrorCodeUnauthorized)
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "another session"):
		return newIdentityError(err.Error(), goerrors.CategoryAuthz, ErrorCodeForbidden)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "expired"), strings.Contains(msg, "already used"):
		return newIdentityError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadRequest)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIdentityErrorEnvelope(mapped)
}

func newIdentityError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIdentityErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIdentityErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = identityHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIdentityTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIdentityTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorCodeBadRequest
	case goerrors.CategoryNotFound:
		return ErrorCodeNotFound
	case goerrors.CategoryAuth:
		return ErrorCodeUnauthorized
	case goerrors.CategoryAuthz:
		return ErrorCodeForbidden
	case goerrors.CategoryConflict:
		return ErrorCodeConflict
	default:
		return ErrorCodeInternal
	}
}

func identityHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
