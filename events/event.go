package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-identity/core"
)

// Level grades how urgent an event is. Subscribers register a minimum
// level and only receive events at or above it.
type Level int16

const (
	LevelInfo Level = iota
	LevelNotice
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelNotice:
		return "notice"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int16(l))
	}
}

// ParseLevel maps a textual level back to its value. Unknown input is a
// bad-request error so API filters reject it cleanly.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warning":
		return LevelWarning, nil
	case "critical":
		return LevelCritical, nil
	default:
		return 0, core.NewBadRequest(fmt.Sprintf("unknown event level %q", raw))
	}
}

// Type names the kind of occurrence an event records.
type Type string

const (
	TypeInvalidLogins        Type = "invalid_logins"
	TypeIPBlacklistRequested Type = "ip_blacklist_requested"
	TypeNewUser              Type = "new_user"
	TypeUserPasswordReset    Type = "user_password_reset"
	TypeUserEmailChange      Type = "user_email_change"
	TypeTest                 Type = "test"
)

// Event is a single append-only notification. Data and Text carry
// type-specific payloads: a counter for invalid logins and abuse
// warnings, an email address for account lifecycle events.
type Event struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Level     Level   `json:"level"`
	Typ       Type    `json:"typ"`
	IP        string  `json:"ip,omitempty"`
	Data      *int64  `json:"data,omitempty"`
	Text      *string `json:"text,omitempty"`
}

func newEvent(level Level, typ Type) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Typ:       typ,
	}
}

// InvalidLogins records repeated failed logins from one address.
func InvalidLogins(ip string, counter int64) Event {
	evt := newEvent(LevelWarning, TypeInvalidLogins)
	evt.IP = ip
	evt.Data = &counter
	return evt
}

// IPBlacklistRequested asks the blacklist collaborator to block an
// address, carrying the warning count that crossed the threshold.
func IPBlacklistRequested(ip string, warnings int64) Event {
	evt := newEvent(LevelCritical, TypeIPBlacklistRequested)
	evt.IP = ip
	evt.Data = &warnings
	return evt
}

// NewUserRegistered records a completed account activation.
func NewUserRegistered(email string) Event {
	evt := newEvent(LevelInfo, TypeNewUser)
	evt.Text = &email
	return evt
}

// UserPasswordReset records a completed password reset.
func UserPasswordReset(email string) Event {
	evt := newEvent(LevelNotice, TypeUserPasswordReset)
	evt.Text = &email
	return evt
}

// UserEmailChange records a completed email change.
func UserEmailChange(email string) Event {
	evt := newEvent(LevelNotice, TypeUserEmailChange)
	evt.Text = &email
	return evt
}

// TestEvent exercises the delivery pipeline end to end.
func TestEvent(ip string) Event {
	evt := newEvent(LevelInfo, TypeTest)
	evt.IP = ip
	return evt
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339), e.Level, e.Typ)
	if e.IP != "" {
		fmt.Fprintf(&b, " ip=%s", e.IP)
	}
	if e.Data != nil {
		fmt.Fprintf(&b, " data=%d", *e.Data)
	}
	if e.Text != nil {
		fmt.Fprintf(&b, " text=%s", *e.Text)
	}
	return b.String()
}
