// Package magiclink issues and validates single-use, purpose-typed links
// bound to a user, an optional browser cookie, and a CSRF token. Links are
// durable: they must survive process restarts during a user's multi-step
// email round trip.
package magiclink
