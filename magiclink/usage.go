package magiclink

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-identity/core"
)

// UsageKind names one of the supported link purposes.
type UsageKind string

const (
	UsageEmailChange   UsageKind = "email_change"
	UsagePasswordReset UsageKind = "password_reset"
	UsageNewUser       UsageKind = "new_user"
)

// usageSeparator splits the kind from its payload in the stored form.
// The payload itself may contain the separator, so decoding splits on
// the first occurrence only.
const usageSeparator = "$"

// Usage is the decoded purpose of a magic link. Value carries the new
// email address for email-change links and an optional post-login
// redirect URI for the other kinds. An empty Value is omitted from the
// encoded form entirely.
type Usage struct {
	Kind  UsageKind
	Value string
}

// EmailChange builds a usage recording the address the account should
// move to once the link is consumed.
func EmailChange(newEmail string) Usage {
	return Usage{Kind: UsageEmailChange, Value: newEmail}
}

// PasswordReset builds a usage with an optional redirect URI.
func PasswordReset(redirectURI string) Usage {
	return Usage{Kind: UsagePasswordReset, Value: redirectURI}
}

// NewUser builds a usage for initial account activation, with an
// optional redirect URI.
func NewUser(redirectURI string) Usage {
	return Usage{Kind: UsageNewUser, Value: redirectURI}
}

// String encodes the usage into its persisted representation:
// the bare kind when Value is empty, otherwise "<kind>$<value>".
func (u Usage) String() string {
	if u.Value == "" {
		return string(u.Kind)
	}
	return string(u.Kind) + usageSeparator + u.Value
}

// ParseUsage decodes a persisted usage string. Unknown kinds yield a
// bad-request error so that tampered or stale rows surface as client
// failures rather than internal ones.
func ParseUsage(raw string) (Usage, error) {
	kind, value, _ := strings.Cut(raw, usageSeparator)
	switch UsageKind(kind) {
	case UsageEmailChange, UsagePasswordReset, UsageNewUser:
		return Usage{Kind: UsageKind(kind), Value: value}, nil
	default:
		return Usage{}, core.NewBadRequest(fmt.Sprintf("unknown magic link usage %q", raw))
	}
}
