package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code, so wrapped instances
// compare equal to the package sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidKey(msg string, cause error) error {
	return Wrap(CodeInvalidKey, msg, cause)
}

func AuthenticationFailure(msg string, cause error) error {
	return Wrap(CodeAuthenticationFailure, msg, cause)
}

func CollaboratorUnavailable(msg string, cause error) error {
	return Wrap(CodeCollaboratorUnavailable, msg, cause)
}

func InvalidFrame(msg string) error {
	return New(CodeInvalidFrame, msg)
}

func InvalidIdentity(msg string) error {
	return New(CodeInvalidIdentity, msg)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns the message of the first AppError in err's chain, without its cause.
func MessageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
