package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/user"
	"clash_tracker/internal/domain/view"
	errs "clash_tracker/internal/errors"
	"clash_tracker/internal/utils"
)

type Backend interface {
	Login(ctx context.Context, username, password string) (user.Credential, error)
	Signup(ctx context.Context, profile user.SignupProfile) error
	CurrentUser(ctx context.Context, cred user.Credential) (user.Identity, error)
	LinkPlayerTag(ctx context.Context, cred user.Credential, tag string) (user.Identity, error)
}

type SessionStorage interface {
	Save(ctx context.Context, slot string, s user.Session) error
	Load(ctx context.Context, slot string) (user.Session, bool, error)
	Clear(ctx context.Context, slot string) error
}

type InviteStorage interface {
	Put(ctx context.Context, slot string, p invite.Pending) error
	Get(ctx context.Context, slot string) (invite.Pending, bool, error)
	Delete(ctx context.Context, slot string) error
}

// Controller owns the auth state of one browser slot. It is the only writer
// of that slot's session entry.
type Controller struct {
	slot     string
	api      Backend
	sessions SessionStorage
	invites  InviteStorage
	log      *zap.SugaredLogger
	now      func() time.Time

	mu      sync.Mutex
	current view.View
	// epoch is bumped by Logout so a login that finishes afterwards is dropped.
	epoch uint64

	busy atomic.Bool
}

func NewController(slot string, api Backend, sessions SessionStorage, invites InviteStorage, log *zap.SugaredLogger) *Controller {
	return &Controller{
		slot:     slot,
		api:      api,
		sessions: sessions,
		invites:  invites,
		log:      log,
		now:      time.Now,
		current:  view.Initializing{},
	}
}

func (c *Controller) View() view.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Session returns the logged-in session, if any.
func (c *Controller) Session() (user.Session, bool) {
	in, ok := c.View().(view.LoggedIn)
	return in.Session, ok
}

func (c *Controller) set(v view.View) view.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = v
	return v
}

// Start validates whatever session the slot holds. Any failure of the check
// clears the slot and lands on LoggedOut.
func (c *Controller) Start(ctx context.Context) view.View {
	if !c.busy.CompareAndSwap(false, true) {
		return c.View()
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	epoch := c.epoch
	c.current = view.Initializing{}
	c.mu.Unlock()

	sess, found, err := c.sessions.Load(ctx, c.slot)
	if err != nil {
		c.log.Errorf("Start: load session for %s: %v", c.slot, err)
		return c.set(view.Errored{Message: "could not read your session, please reload"})
	}
	if !found {
		return c.set(c.loggedOut(ctx, "", ""))
	}

	if sess.Credential.Expired(c.now()) {
		c.log.Infof("Start: stored token for %s expired", c.slot)
		c.drop(ctx)
		return c.set(c.loggedOut(ctx, "", ""))
	}

	me, err := c.api.CurrentUser(ctx, sess.Credential)
	if err != nil {
		c.log.Infof("Start: session check for %s failed: %v", c.slot, err)
		c.drop(ctx)
		return c.set(c.loggedOut(ctx, "", ""))
	}

	sess.Identity = me
	sess.SavedAt = c.now()
	v, err := c.commit(ctx, epoch, sess)
	if err != nil {
		c.log.Errorf("Start: %v", err)
	}
	return v
}

// drop clears the slot even if the request that noticed the bad session is
// already gone.
func (c *Controller) drop(ctx context.Context) {
	if err := c.sessions.Clear(context.WithoutCancel(ctx), c.slot); err != nil {
		c.log.Errorf("clear session for %s: %v", c.slot, err)
	}
}

func (c *Controller) loggedOut(ctx context.Context, screen view.Screen, notice string) view.LoggedOut {
	out := view.LoggedOut{Screen: screen, Notice: notice}

	p, ok, err := c.invites.Get(ctx, c.slot)
	if err != nil {
		c.log.Warnf("load pending invite for %s: %v", c.slot, err)
	}
	if ok {
		out.Invite = &p
	}

	if out.Screen == "" {
		out.Screen = view.ScreenLogin
		if ok {
			out.Screen = view.ScreenSignup
		}
	}
	return out
}

// commit persists sess and switches to LoggedIn, unless a logout happened
// since epoch was read.
func (c *Controller) commit(ctx context.Context, epoch uint64, sess user.Session) (view.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return c.current, errs.ErrNotAuthenticated
	}
	if err := c.sessions.Save(ctx, c.slot, sess); err != nil {
		c.current = view.Errored{Message: "could not save your session, please try again"}
		return c.current, fmt.Errorf("auth.commit: %w", err)
	}
	c.current = view.LoggedIn{Session: sess}
	return c.current, nil
}

func (c *Controller) authenticate(ctx context.Context, epoch uint64, username, password string) (view.View, error) {
	cred, err := c.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	me, err := c.api.CurrentUser(ctx, cred)
	if err != nil {
		return nil, err
	}
	return c.commit(ctx, epoch, user.Session{Credential: cred, Identity: me, SavedAt: c.now()})
}

func (c *Controller) begin(screen view.Screen) (uint64, bool) {
	if !c.busy.CompareAndSwap(false, true) {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = view.Authenticating{Screen: screen}
	return c.epoch, true
}

func (c *Controller) Login(ctx context.Context, username, password string) (view.View, error) {
	if in, ok := c.View().(view.LoggedIn); ok {
		return in, nil
	}
	epoch, ok := c.begin(view.ScreenLogin)
	if !ok {
		return c.View(), errs.ErrBusy
	}
	defer c.busy.Store(false)

	v, err := c.authenticate(ctx, epoch, username, password)
	if err != nil {
		if errors.Is(err, errs.ErrNotAuthenticated) {
			return v, err
		}
		c.log.Infof("Login: %s: %v", c.slot, err)
		return c.set(c.loggedOut(ctx, view.ScreenLogin, errs.Message(err))), err
	}
	return v, nil
}

// Signup creates the account and then logs into it. A pending invite is
// attached to the request and forgotten whatever the outcome.
func (c *Controller) Signup(ctx context.Context, profile user.SignupProfile) (view.View, error) {
	if in, ok := c.View().(view.LoggedIn); ok {
		return in, nil
	}
	epoch, ok := c.begin(view.ScreenSignup)
	if !ok {
		return c.View(), errs.ErrBusy
	}
	defer c.busy.Store(false)

	pending, hasInvite, err := c.invites.Get(ctx, c.slot)
	if err != nil {
		c.log.Warnf("Signup: load pending invite for %s: %v", c.slot, err)
	}
	if hasInvite {
		token := pending.Token
		profile.InviteToken = &token
		if pending.TargetTag != nil && *pending.TargetTag != "" {
			tag := utils.FormatTag(*pending.TargetTag)
			profile.PlayerTag = &tag
		}
	}
	if profile.PlayerTag != nil {
		tag := utils.FormatTag(*profile.PlayerTag)
		if tag == "" {
			profile.PlayerTag = nil
		} else {
			profile.PlayerTag = &tag
		}
	}

	err = c.api.Signup(ctx, profile)
	if hasInvite {
		if derr := c.invites.Delete(context.WithoutCancel(ctx), c.slot); derr != nil {
			c.log.Warnf("Signup: drop pending invite for %s: %v", c.slot, derr)
		}
	}
	if err != nil {
		c.log.Infof("Signup: %s: %v", c.slot, err)
		return c.set(c.loggedOut(ctx, view.ScreenSignup, errs.Message(err))), err
	}

	v, err := c.authenticate(ctx, epoch, profile.Username, profile.Password)
	if err != nil {
		if errors.Is(err, errs.ErrNotAuthenticated) {
			return v, err
		}
		c.log.Infof("Signup: login after signup for %s: %v", c.slot, err)
		notice := "Account created, please log in: " + errs.Message(err)
		return c.set(c.loggedOut(ctx, view.ScreenLogin, notice)), err
	}
	return v, nil
}

// Logout clears the slot before returning. It never calls the backend.
func (c *Controller) Logout(ctx context.Context) (view.View, error) {
	c.mu.Lock()
	c.epoch++
	err := c.sessions.Clear(ctx, c.slot)
	c.mu.Unlock()

	out := c.set(c.loggedOut(ctx, view.ScreenLogin, ""))
	if err != nil {
		return out, fmt.Errorf("auth.Logout: %w", err)
	}
	return out, nil
}

// ShowScreen switches between the login and signup forms. It is a no-op
// unless the slot is logged out.
func (c *Controller) ShowScreen(ctx context.Context, screen view.Screen) (view.View, error) {
	if screen != view.ScreenLogin && screen != view.ScreenSignup {
		return c.View(), errs.Validation(fmt.Sprintf("unknown screen %q", screen))
	}

	switch cur := c.View().(type) {
	case view.LoggedOut:
		cur.Screen = screen
		cur.Notice = ""
		return c.set(cur), nil
	case view.Errored, view.Initializing:
		return c.set(c.loggedOut(ctx, screen, "")), nil
	default:
		return cur, nil
	}
}

// AcceptInvite remembers an invite link the browser arrived with. Logged-in
// users are not eligible and the invite is ignored for them.
func (c *Controller) AcceptInvite(ctx context.Context, p invite.Pending) (view.View, error) {
	if p.Token == "" {
		return c.View(), errs.Validation("invite token is required")
	}
	if in, ok := c.View().(view.LoggedIn); ok {
		return in, nil
	}

	if err := c.invites.Put(ctx, c.slot, p); err != nil {
		return c.View(), fmt.Errorf("auth.AcceptInvite: %w", err)
	}
	return c.set(view.LoggedOut{Screen: view.ScreenSignup, Invite: &p}), nil
}

// LinkPlayerTag binds a game account to the logged-in user and re-saves the
// session with the refreshed identity.
func (c *Controller) LinkPlayerTag(ctx context.Context, tag string) (view.View, error) {
	return c.updateIdentity(ctx, "auth.LinkPlayerTag", func(cred user.Credential) (user.Identity, error) {
		return c.api.LinkPlayerTag(ctx, cred, tag)
	})
}

// Refresh re-reads the identity from the backend.
func (c *Controller) Refresh(ctx context.Context) (view.View, error) {
	return c.updateIdentity(ctx, "auth.Refresh", func(cred user.Credential) (user.Identity, error) {
		return c.api.CurrentUser(ctx, cred)
	})
}

func (c *Controller) updateIdentity(ctx context.Context, op string, fetch func(user.Credential) (user.Identity, error)) (view.View, error) {
	c.mu.Lock()
	in, ok := c.current.(view.LoggedIn)
	epoch := c.epoch
	c.mu.Unlock()
	if !ok {
		return c.View(), errs.ErrNotAuthenticated
	}

	me, err := fetch(in.Session.Credential)
	if err != nil {
		if errors.Is(err, errs.ErrAuthentication) {
			return c.expire(ctx, epoch)
		}
		return in, fmt.Errorf("%s: %w", op, err)
	}

	sess := in.Session
	sess.Identity = me
	sess.SavedAt = c.now()
	v, err := c.commit(ctx, epoch, sess)
	if err != nil {
		return v, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Expire is called when the backend rejects the stored credential during a
// dashboard action.
func (c *Controller) Expire(ctx context.Context) (view.View, error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return c.expire(ctx, epoch)
}

func (c *Controller) expire(ctx context.Context, epoch uint64) (view.View, error) {
	c.mu.Lock()
	if epoch == c.epoch {
		c.epoch++
		if err := c.sessions.Clear(context.WithoutCancel(ctx), c.slot); err != nil {
			c.log.Errorf("expire: clear session for %s: %v", c.slot, err)
		}
	}
	c.mu.Unlock()

	return c.set(c.loggedOut(ctx, view.ScreenLogin, errs.ErrSessionExpired.Error())), errs.ErrSessionExpired
}
