// Package view holds the top-level screens a browser can be on. View is a
// closed set: only the types in this package implement it.
package view

import (
	"encoding/json"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/user"
)

type View interface {
	Name() string
	isView()
}

type Screen string

const (
	ScreenLogin  Screen = "login"
	ScreenSignup Screen = "signup"
)

type Initializing struct{}

type LoggedOut struct {
	Screen Screen          `json:"screen"`
	Invite *invite.Pending `json:"invite,omitempty"`
	Notice string          `json:"notice,omitempty"`
}

type Authenticating struct {
	Screen Screen `json:"screen"`
}

type LoggedIn struct {
	Session user.Session `json:"-"`
}

// Errored is shown when the session slot itself could not be read or
// written. The next Start retries from scratch.
type Errored struct {
	Message string `json:"message"`
}

func (Initializing) Name() string   { return "initializing" }
func (LoggedOut) Name() string      { return "logged_out" }
func (Authenticating) Name() string { return "authenticating" }
func (LoggedIn) Name() string       { return "logged_in" }
func (Errored) Name() string        { return "error" }

func (Initializing) isView()   {}
func (LoggedOut) isView()      {}
func (Authenticating) isView() {}
func (LoggedIn) isView()       {}
func (Errored) isView()        {}

// Render is the JSON shape sent to the browser.
type Render struct {
	View string          `json:"view"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalView renders v with its variant name. LoggedIn exposes the identity
// only; the credential never leaves the server.
func MarshalView(v View) ([]byte, error) {
	var data any = v
	if in, ok := v.(LoggedIn); ok {
		data = struct {
			User user.Identity `json:"user"`
		}{User: in.Session.Identity}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Render{View: v.Name(), Data: raw})
}
