package device

import (
	goerrors "github.com/goliatone/go-errors"
)

// Poll outcomes the device client must distinguish. Each rides a
// dedicated text code because they all map to the same HTTP status in
// the device-grant protocol.
const (
	ErrorCodeAuthorizationPending = "IDENTITY_AUTHORIZATION_PENDING"
	ErrorCodeSlowDown             = "IDENTITY_SLOW_DOWN"
	ErrorCodeAccessDenied         = "IDENTITY_ACCESS_DENIED"
	ErrorCodeExpiredToken         = "IDENTITY_EXPIRED_TOKEN"
)

func newAuthorizationPending() *goerrors.Error {
	return goerrors.New("the device grant is awaiting user approval", goerrors.CategoryBadInput).
		WithTextCode(ErrorCodeAuthorizationPending)
}

func newSlowDown() *goerrors.Error {
	return goerrors.New("polling faster than the allowed interval", goerrors.CategoryBadInput).
		WithTextCode(ErrorCodeSlowDown)
}

func newAccessDenied(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithTextCode(ErrorCodeAccessDenied)
}

func newExpiredToken() *goerrors.Error {
	return goerrors.New("the device code is expired or unknown", goerrors.CategoryBadInput).
		WithTextCode(ErrorCodeExpiredToken)
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// IsAuthorizationPending reports the poll outcome that tells the client
// to keep polling.
func IsAuthorizationPending(err error) bool {
	return hasTextCode(err, ErrorCodeAuthorizationPending)
}

// IsSlowDown reports the poll outcome that tells the client to back
// off.
func IsSlowDown(err error) bool {
	return hasTextCode(err, ErrorCodeSlowDown)
}

// IsAccessDenied reports a terminal rejection.
func IsAccessDenied(err error) bool {
	return hasTextCode(err, ErrorCodeAccessDenied)
}

// IsExpiredToken reports a terminal expiry.
func IsExpiredToken(err error) bool {
	return hasTextCode(err, ErrorCodeExpiredToken)
}
