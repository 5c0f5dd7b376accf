package errors

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication   = errors.New("invalid username or password")
	ErrSessionExpired   = errors.New("session expired")
	ErrValidation       = errors.New("validation failed")
	ErrUpstreamProvider = errors.New("game statistics provider rejected the request")
	ErrNetwork          = errors.New("could not reach the server, please try again")
	ErrBusy             = errors.New("request already in progress")
	ErrNotAuthenticated = errors.New("not logged in")
)

// APIError is a failed backend call. Kind is one of the sentinel errors above,
// so callers can branch with errors.Is.
type APIError struct {
	Kind    error
	Status  int
	Op      string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, msg)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// Validation builds an input error with a message meant for the user.
func Validation(msg string) error {
	return &APIError{Kind: ErrValidation, Op: "validation", Message: msg}
}

// Message returns the text shown to the user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case errors.Is(apiErr.Kind, ErrNetwork) && apiErr.Message == "":
			return ErrNetwork.Error()
		case apiErr.Message != "":
			return apiErr.Message
		default:
			return apiErr.Kind.Error()
		}
	}

	for _, kind := range []error{
		ErrAuthentication, ErrSessionExpired, ErrUpstreamProvider,
		ErrNetwork, ErrBusy, ErrNotAuthenticated,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "something went wrong"
}
