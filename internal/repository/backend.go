package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/match"
	"clash_tracker/internal/domain/user"
	errs "clash_tracker/internal/errors"
	"clash_tracker/internal/utils"
)

// BackendClient talks to the tracker backend. It never retries; callers
// decide what a failure means for them.
type BackendClient struct {
	base string
	http *http.Client
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewBackendClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *BackendClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BackendClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
		now:  time.Now,
	}
}

type request struct {
	op          string
	method      string
	path        string
	cred        *user.Credential
	body        io.Reader
	contentType string
	// provider marks calls whose failures come from the game statistics
	// provider behind the backend rather than from the backend itself.
	provider bool
}

func (c *BackendClient) do(ctx context.Context, r request, out any) error {
	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, r.body)
	if err != nil {
		return fmt.Errorf("%s: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.cred != nil && !r.cred.Empty() {
		req.Header.Set("Authorization", r.cred.Header())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warnf("%s: %s %s failed: %v", r.op, r.method, r.path, err)
		return &errs.APIError{Kind: errs.ErrNetwork, Op: r.op}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := classify(r, resp.StatusCode, detailOf(body))
		c.log.Infof("%s: %s %s -> %d: %s", r.op, r.method, r.path, resp.StatusCode, apiErr.Message)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Errorf("%s: decode response: %v", r.op, err)
		return &errs.APIError{Kind: errs.ErrNetwork, Op: r.op, Status: resp.StatusCode}
	}
	return nil
}

func classify(r request, status int, detail string) *errs.APIError {
	e := &errs.APIError{Op: r.op, Status: status, Message: detail}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = errs.ErrAuthentication
	case r.provider && (status == http.StatusForbidden || status == http.StatusTooManyRequests || status >= 500):
		e.Kind = errs.ErrUpstreamProvider
		if e.Message == "" {
			if status == http.StatusForbidden {
				e.Message = "Clash Royale API rejected the request (check API key / IP allow-list)."
			} else {
				e.Message = "Sync failed: the game statistics provider is unavailable, try again later."
			}
		}
	case status == http.StatusForbidden:
		e.Kind = errs.ErrAuthentication
	case status >= 400 && status < 500:
		e.Kind = errs.ErrValidation
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	default:
		e.Kind = errs.ErrNetwork
	}
	return e
}

// detailOf pulls the human readable message out of an error body. The
// backend answers {"detail": "..."}, or a list of {"msg": "..."} for
// request validation errors.
func detailOf(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return payload.Message
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

func (c *BackendClient) Login(ctx context.Context, username, password string) (user.Credential, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var cred user.Credential
	err := c.do(ctx, request{
		op:          "backend.Login",
		method:      http.MethodPost,
		path:        "/auth/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &cred)
	if err != nil {
		return user.Credential{}, err
	}
	if cred.AccessToken == "" {
		return user.Credential{}, &errs.APIError{Kind: errs.ErrAuthentication, Op: "backend.Login", Message: "login response carried no token"}
	}
	return cred, nil
}

func (c *BackendClient) Signup(ctx context.Context, profile user.SignupProfile) error {
	const op = "backend.Signup"

	body, err := jsonBody(profile)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        "/auth/signup",
		body:        body,
		contentType: "application/json",
	}, nil)
}

func (c *BackendClient) CurrentUser(ctx context.Context, cred user.Credential) (user.Identity, error) {
	var me user.Identity
	err := c.do(ctx, request{
		op:     "backend.CurrentUser",
		method: http.MethodGet,
		path:   "/users/me",
		cred:   &cred,
	}, &me)
	return me, err
}

func (c *BackendClient) LinkPlayerTag(ctx context.Context, cred user.Credential, tag string) (user.Identity, error) {
	const op = "backend.LinkPlayerTag"

	body, err := jsonBody(map[string]string{"player_tag": utils.FormatTag(tag)})
	if err != nil {
		return user.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	var me user.Identity
	err = c.do(ctx, request{
		op:          op,
		method:      http.MethodPut,
		path:        "/users/link-tag",
		cred:        &cred,
		body:        body,
		contentType: "application/json",
		provider:    true,
	}, &me)
	return me, err
}

// Matches returns the caller's match history, newest first.
func (c *BackendClient) Matches(ctx context.Context, cred user.Credential) ([]match.Match, error) {
	var matches []match.Match
	err := c.do(ctx, request{
		op:     "backend.Matches",
		method: http.MethodGet,
		path:   "/matches",
		cred:   &cred,
	}, &matches)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].BattleTime.After(matches[j].BattleTime)
	})
	return matches, nil
}

func (c *BackendClient) AddFriend(ctx context.Context, cred user.Credential, tag string) error {
	const op = "backend.AddFriend"

	body, err := jsonBody(map[string]string{"player_tag": utils.FormatTag(tag)})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        "/friends/add",
		cred:        &cred,
		body:        body,
		contentType: "application/json",
	}, nil)
}

func (c *BackendClient) Friends(ctx context.Context, cred user.Credential, userID int) ([]user.Identity, error) {
	var friends []user.Identity
	err := c.do(ctx, request{
		op:     "backend.Friends",
		method: http.MethodGet,
		path:   "/users/" + strconv.Itoa(userID) + "/friends",
		cred:   &cred,
	}, &friends)
	return friends, err
}

type syncResponse struct {
	Status           string `json:"status"`
	NewMatchesSynced int    `json:"new_matches_synced"`
}

// SyncBattles asks the backend to ingest the latest battles for tag and
// returns how many were new.
func (c *BackendClient) SyncBattles(ctx context.Context, cred user.Credential, tag string) (int, error) {
	var out syncResponse
	err := c.do(ctx, request{
		op:       "backend.SyncBattles",
		method:   http.MethodPost,
		path:     "/sync/" + utils.EscapeTag(tag),
		cred:     &cred,
		provider: true,
	}, &out)
	return out.NewMatchesSynced, err
}

func (c *BackendClient) CreateInvite(ctx context.Context, cred user.Credential) (invite.Invite, error) {
	var inv invite.Invite
	err := c.do(ctx, request{
		op:     "backend.CreateInvite",
		method: http.MethodPost,
		path:   "/invites/",
		cred:   &cred,
	}, &inv)
	if err != nil {
		return invite.Invite{}, err
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = c.now()
	}
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = inv.CreatedAt.Add(invite.Lifetime)
	}
	return inv, nil
}
