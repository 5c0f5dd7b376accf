package user

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the bearer token issued by the backend at login.
type Credential struct {
	AccessToken string `json:"access_token" bson:"access_token"`
	TokenType   string `json:"token_type" bson:"token_type"`
}

func (c Credential) Empty() bool {
	return c.AccessToken == ""
}

// Header returns the Authorization header value.
func (c Credential) Header() string {
	tokenType := c.TokenType
	if tokenType == "" || tokenType == "bearer" {
		tokenType = "Bearer"
	}
	return tokenType + " " + c.AccessToken
}

// Expired reports whether the token carries an exp claim in the past.
// Tokens that are not JWTs are never considered expired locally; the backend
// has the final word on them.
func (c Credential) Expired(now time.Time) bool {
	if c.Empty() {
		return true
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

type Identity struct {
	ID        int     `json:"id" bson:"id"`
	Username  string  `json:"username" bson:"username"`
	Email     string  `json:"email,omitempty" bson:"email,omitempty"`
	PlayerTag *string `json:"player_tag" bson:"player_tag"`
	Trophies  int     `json:"trophies" bson:"trophies"`
	ClanName  string  `json:"clan_name,omitempty" bson:"clan_name,omitempty"`
}

func (i Identity) Tag() string {
	if i.PlayerTag == nil {
		return ""
	}
	return *i.PlayerTag
}

func (i Identity) HasTag() bool {
	return i.Tag() != ""
}

// Session is the credential plus the identity it was last validated against.
// It is what the session store persists for a browser.
type Session struct {
	Credential Credential `json:"credential" bson:"credential"`
	Identity   Identity   `json:"identity" bson:"identity"`
	SavedAt    time.Time  `json:"saved_at" bson:"saved_at"`
}

type SignupProfile struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	PlayerTag   *string `json:"player_tag,omitempty"`
	InviteToken *string `json:"invite_token,omitempty"`
}
