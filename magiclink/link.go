package magiclink

import (
	"strings"
	"time"
)

const (
	// IDLength is the size of the random link identifier sent by email.
	IDLength = 64
	// CSRFTokenLength is the size of the token handed to the browser page
	// that must be echoed back in HeaderCSRF on protected steps.
	CSRFTokenLength = 48

	// CookieBinding is the browser cookie that pins a link to the session
	// that first opened it.
	CookieBinding = "identity-magic-binding"
	// HeaderCSRF carries the per-link CSRF token on validation requests.
	HeaderCSRF = "x-magic-csrf-token"
)

// RequestContext exposes the pieces of an incoming request that link
// validation inspects. HTTP handlers adapt their request type to it.
type RequestContext interface {
	// BindingCookie returns the value of the CookieBinding cookie and
	// whether it was present at all.
	BindingCookie() (string, bool)
	// CSRFHeader returns the value of the HeaderCSRF header, empty when
	// absent.
	CSRFHeader() string
	// PeerIP identifies the caller for audit logging on rejections.
	PeerIP() string
}

// MagicLink is a single-use credential delivered out of band. Cookie is
// nil until the first browser opens the link; from then on every further
// step must come from the same session.
type MagicLink struct {
	ID        string
	UserID    string
	CSRFToken string
	Cookie    *string
	ExpiresAt int64
	Used      bool
	UsageRaw  string
}

// Usage decodes the persisted purpose of the link.
func (l *MagicLink) Usage() (Usage, error) {
	return ParseUsage(l.UsageRaw)
}

// Expired reports whether the link's lifetime has passed at the given
// instant.
func (l *MagicLink) Expired(now time.Time) bool {
	return l.ExpiresAt < now.Unix()
}

// BoundTo reports whether the presented cookie value matches the stored
// binding. The browser may prefix the stored value, so only the suffix
// must match.
func (l *MagicLink) BoundTo(cookie string) bool {
	if l.Cookie == nil {
		return true
	}
	return strings.HasSuffix(cookie, *l.Cookie)
}
