package magiclink

import "github.com/goliatone/go-command"

var (
	_ command.Commander[RequestPasswordResetMessage] = (*RequestPasswordResetHandler)(nil)
	_ command.Commander[RequestEmailChangeMessage]   = (*RequestEmailChangeHandler)(nil)
	_ command.Commander[FinalizeMagicLinkMessage]    = (*FinalizeMagicLinkHandler)(nil)

	_ command.Message = RequestPasswordResetMessage{}
	_ command.Message = RequestEmailChangeMessage{}
	_ command.Message = FinalizeMagicLinkMessage{}
)
