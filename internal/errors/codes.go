package errors

type Code string

const (
	CodeUnknown                 Code = "UNKNOWN"
	CodeInvalidKey              Code = "INVALID_KEY"
	CodeAuthenticationFailure   Code = "AUTHENTICATION_FAILURE"
	CodeNotJoined               Code = "NOT_JOINED"
	CodeCollaboratorUnavailable Code = "COLLABORATOR_UNAVAILABLE"
	CodeInvalidFrame            Code = "INVALID_FRAME"
	CodeInvalidIdentity         Code = "INVALID_IDENTITY"
	CodeNotFound                Code = "NOT_FOUND"
	CodeInternal                Code = "INTERNAL"
)
