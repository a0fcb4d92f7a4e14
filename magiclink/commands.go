package magiclink

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-identity/core"
)

// UserRef is the slice of a user account the link flows need.
type UserRef struct {
	ID    string
	Email string
}

// UserDirectory resolves accounts by email address. The surrounding
// application supplies it; this package never owns user records.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (UserRef, error)
}

// LinkSender delivers a freshly minted link out of band, typically by
// email.
type LinkSender interface {
	SendLink(ctx context.Context, to string, link MagicLink) error
}

// RequestPasswordResetMessage asks for a password-reset link to be sent
// to the given address. The response reports success regardless of
// whether the address maps to an account, so the handler cannot be used
// to probe for registered emails.
type RequestPasswordResetMessage struct {
	Email       string `json:"email"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	OnResponse  func(resp *RequestPasswordResetResponse)
}

func (m RequestPasswordResetMessage) Type() string { return "identity.magic_link.password_reset" }

type RequestPasswordResetResponse struct {
	Accepted bool
}

type RequestPasswordResetHandler struct {
	links  *Manager
	users  UserDirectory
	sender LinkSender
	logger core.Logger
}

func NewRequestPasswordResetHandler(links *Manager, users UserDirectory, sender LinkSender, logger core.Logger) (*RequestPasswordResetHandler, error) {
	if links == nil {
		return nil, fmt.Errorf("magiclink: link manager is required")
	}
	if users == nil {
		return nil, fmt.Errorf("magiclink: user directory is required")
	}
	return &RequestPasswordResetHandler{
		links:  links,
		users:  users,
		sender: sender,
		logger: glog.Ensure(logger),
	}, nil
}

func (h *RequestPasswordResetHandler) Execute(ctx context.Context, msg RequestPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation,
			"context cancelled during password reset request")
	default:
		return h.execute(ctx, msg)
	}
}

func (h *RequestPasswordResetHandler) execute(ctx context.Context, msg RequestPasswordResetMessage) error {
	if msg.Email == "" {
		return core.NewBadRequest("password reset email is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp := &RequestPasswordResetResponse{Accepted: true}

	user, err := h.users.FindByEmail(ctx, msg.Email)
	if err != nil {
		if core.IsNotFound(err) {
			h.logger.Info("password reset requested for unknown address", "email", msg.Email)
			h.respond(msg, resp)
			return nil
		}
		return core.NewInternal(err, "resolve account for password reset")
	}

	// A password reset supersedes any email change still in flight, so the
	// account cannot be moved with a link minted before it was reset.
	if err := h.links.InvalidateAllEmailChange(ctx, user.ID); err != nil {
		return err
	}

	link, err := h.links.Create(ctx, user.ID, 0, PasswordReset(msg.RedirectURI))
	if err != nil {
		return err
	}

	if h.sender != nil {
		if err := h.sender.SendLink(ctx, user.Email, link); err != nil {
			return core.NewInternal(err, "deliver password reset link")
		}
	}

	h.respond(msg, resp)
	return nil
}

func (h *RequestPasswordResetHandler) respond(msg RequestPasswordResetMessage, resp *RequestPasswordResetResponse) {
	if msg.OnResponse != nil {
		msg.OnResponse(resp)
	}
}

// RequestEmailChangeMessage starts an email-change round trip for an
// authenticated user. Any earlier pending email-change links for the
// same user are dropped first so only the newest request can complete.
type RequestEmailChangeMessage struct {
	UserID     string `json:"user_id"`
	NewEmail   string `json:"new_email"`
	OnResponse func(resp *RequestEmailChangeResponse)
}

func (m RequestEmailChangeMessage) Type() string { return "identity.magic_link.email_change" }

type RequestEmailChangeResponse struct {
	Link MagicLink
}

type RequestEmailChangeHandler struct {
	links  *Manager
	sender LinkSender
	logger core.Logger
}

func NewRequestEmailChangeHandler(links *Manager, sender LinkSender, logger core.Logger) (*RequestEmailChangeHandler, error) {
	if links == nil {
		return nil, fmt.Errorf("magiclink: link manager is required")
	}
	return &RequestEmailChangeHandler{
		links:  links,
		sender: sender,
		logger: glog.Ensure(logger),
	}, nil
}

func (h *RequestEmailChangeHandler) Execute(ctx context.Context, msg RequestEmailChangeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation,
			"context cancelled during email change request")
	default:
		return h.execute(ctx, msg)
	}
}

func (h *RequestEmailChangeHandler) execute(ctx context.Context, msg RequestEmailChangeMessage) error {
	if msg.UserID == "" || msg.NewEmail == "" {
		return core.NewBadRequest("email change requires a user id and a new address")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := h.links.InvalidateAllEmailChange(ctx, msg.UserID); err != nil {
		return err
	}

	link, err := h.links.Create(ctx, msg.UserID, 0, EmailChange(msg.NewEmail))
	if err != nil {
		return err
	}

	if h.sender != nil {
		if err := h.sender.SendLink(ctx, msg.NewEmail, link); err != nil {
			return core.NewInternal(err, "deliver email change link")
		}
	}

	if msg.OnResponse != nil {
		msg.OnResponse(&RequestEmailChangeResponse{Link: link})
	}
	return nil
}

// FinalizeMagicLinkMessage validates and consumes a link presented by a
// browser. On first contact the link is bound to the session and the
// fresh binding value is returned so the HTTP layer can set the cookie.
type FinalizeMagicLinkMessage struct {
	LinkID     string
	UserID     string
	Request    RequestContext
	WithCSRF   bool
	OnResponse func(resp *FinalizeMagicLinkResponse)
}

func (m FinalizeMagicLinkMessage) Type() string { return "identity.magic_link.finalize" }

type FinalizeMagicLinkResponse struct {
	Link MagicLink
	// NewBindingCookie is non-empty only on the link's first use, when no
	// binding existed yet.
	NewBindingCookie string
}

type FinalizeMagicLinkHandler struct {
	links  *Manager
	logger core.Logger
}

func NewFinalizeMagicLinkHandler(links *Manager, logger core.Logger) (*FinalizeMagicLinkHandler, error) {
	if links == nil {
		return nil, fmt.Errorf("magiclink: link manager is required")
	}
	return &FinalizeMagicLinkHandler{links: links, logger: glog.Ensure(logger)}, nil
}

func (h *FinalizeMagicLinkHandler) Execute(ctx context.Context, msg FinalizeMagicLinkMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation,
			"context cancelled during magic link finalization")
	default:
		return h.execute(ctx, msg)
	}
}

func (h *FinalizeMagicLinkHandler) execute(ctx context.Context, msg FinalizeMagicLinkMessage) error {
	if msg.LinkID == "" || msg.Request == nil {
		return core.NewBadRequest("magic link finalization requires a link id and request context")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	link, err := h.links.Find(ctx, msg.LinkID)
	if err != nil {
		return err
	}

	if err := h.links.Validate(&link, msg.UserID, msg.Request, msg.WithCSRF); err != nil {
		h.logger.Warn("magic link validation rejected",
			"link_id", link.ID, "peer_ip", msg.Request.PeerIP(), "error", err)
		return err
	}

	resp := &FinalizeMagicLinkResponse{}
	if link.Cookie == nil {
		binding, err := core.SecureToken(CSRFTokenLength)
		if err != nil {
			return core.NewInternal(err, "generate magic link binding cookie")
		}
		if err := h.links.BindToSession(ctx, &link, binding); err != nil {
			return err
		}
		resp.NewBindingCookie = binding
	}

	if err := h.links.Consume(ctx, &link); err != nil {
		return err
	}

	resp.Link = link
	if msg.OnResponse != nil {
		msg.OnResponse(resp)
	}
	return nil
}
