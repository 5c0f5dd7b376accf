package invite

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"clash_tracker/internal/utils"
)

// Lifetime is how long the backend keeps an invite redeemable.
const Lifetime = 24 * time.Hour

type Invite struct {
	Token           string    `json:"token"`
	CreatorUsername string    `json:"creator_username"`
	TargetTag       *string   `json:"target_tag,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// UnmarshalJSON accepts timestamps with or without a UTC offset.
func (i *Invite) UnmarshalJSON(data []byte) error {
	type plain Invite
	aux := struct {
		*plain
		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if i.CreatedAt, err = utils.ParseTimestamp(aux.CreatedAt); err != nil {
		return fmt.Errorf("invite: created_at: %w", err)
	}
	if i.ExpiresAt, err = utils.ParseTimestamp(aux.ExpiresAt); err != nil {
		return fmt.Errorf("invite: expires_at: %w", err)
	}
	return nil
}

func (i Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Link is the URL a friend opens to land on the signup screen with the
// invite attached.
func (i Invite) Link(publicURL string) string {
	base := strings.TrimRight(publicURL, "/")
	q := url.Values{}
	q.Set("from", i.CreatorUsername)
	if i.TargetTag != nil && *i.TargetTag != "" {
		q.Set("tag", *i.TargetTag)
	}
	return base + "/invite/" + url.PathEscape(i.Token) + "?" + q.Encode()
}

// Pending is the descriptor held between an invite-link click and the end of
// the signup it was meant for.
type Pending struct {
	Token       string  `json:"token"`
	CreatorName string  `json:"creator_name"`
	TargetTag   *string `json:"target_tag,omitempty"`
}

// State is the invite shown on the dashboard.
type State struct {
	Invite Invite `json:"invite"`
	Link   string `json:"link"`
	Copied bool   `json:"copied"`
}
