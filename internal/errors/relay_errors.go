package errors

var (
	ErrInvalidKey              = New(CodeInvalidKey, "invalid key material")
	ErrAuthenticationFailure   = New(CodeAuthenticationFailure, "message authentication failed")
	ErrNotJoined               = New(CodeNotJoined, "connection has not joined this chat")
	ErrCollaboratorUnavailable = New(CodeCollaboratorUnavailable, "collaborator unavailable")
	ErrInvalidFrame            = New(CodeInvalidFrame, "invalid frame")
	ErrInvalidIdentity         = New(CodeInvalidIdentity, "invalid user identity")
	ErrUserNotFound            = New(CodeNotFound, "user not found")
)
