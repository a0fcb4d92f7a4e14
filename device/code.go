package device

import "time"

// DeviceAuthCode is an in-flight device-authorization grant. It lives
// only in the cache backend, keyed by UserCode, and disappears on
// expiry, denial, or redemption. ExpiresAt is fixed at creation; no
// operation extends it.
type DeviceAuthCode struct {
	ClientID     string  `json:"client_id"`
	DeviceCode   string  `json:"device_code"`
	UserCode     string  `json:"user_code"`
	VerifiedBy   *string `json:"verified_by,omitempty"`
	ExpiresAt    int64   `json:"exp"`
	LastPoll     int64   `json:"last_poll"`
	Scopes       *string `json:"scopes,omitempty"`
	ClientSecret *string `json:"client_secret,omitempty"`
	Warnings     int     `json:"warnings"`
}

// Expired reports whether the grant's lifetime has passed.
func (c *DeviceAuthCode) Expired(now time.Time) bool {
	return c.ExpiresAt < now.Unix()
}

// Verified reports whether a user has approved the grant.
func (c *DeviceAuthCode) Verified() bool {
	return c.VerifiedBy != nil
}
