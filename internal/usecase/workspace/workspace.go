// Package workspace ties the auth controller of a browser slot to the
// dashboard that exists while that slot is logged in.
package workspace

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/user"
	"clash_tracker/internal/domain/view"
	errs "clash_tracker/internal/errors"
	"clash_tracker/internal/usecase/auth"
	"clash_tracker/internal/usecase/dashboard"
)

type Backend interface {
	auth.Backend
	dashboard.Backend
}

// Publisher receives dashboard snapshots after a successful sync.
type Publisher interface {
	Publish(slot string, snap dashboard.Snapshot)
}

type Options struct {
	PublicURL  string
	MatchLimit int
	IdleTTL    time.Duration
}

type Registry struct {
	api      Backend
	sessions auth.SessionStorage
	invites  auth.InviteStorage
	opts     Options
	log      *zap.SugaredLogger
	now      func() time.Time

	mu        sync.Mutex
	items     map[string]*Workspace
	publisher Publisher
}

func NewRegistry(api Backend, sessions auth.SessionStorage, invites auth.InviteStorage, opts Options, log *zap.SugaredLogger) *Registry {
	return &Registry{
		api:      api,
		sessions: sessions,
		invites:  invites,
		opts:     opts,
		log:      log,
		now:      time.Now,
		items:    make(map[string]*Workspace),
	}
}

func (r *Registry) SetPublisher(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// Get returns the workspace of slot, creating it on first use.
func (r *Registry) Get(slot string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.items[slot]
	if !ok {
		w = &Workspace{
			Slot: slot,
			Auth: auth.NewController(slot, r.api, r.sessions, r.invites, r.log),
			reg:  r,
		}
		r.items[slot] = w
	}
	w.touch(r.now())
	return w
}

// LoggedIn lists the workspaces that currently have a dashboard.
func (r *Registry) LoggedIn() []*Workspace {
	r.mu.Lock()
	all := make([]*Workspace, 0, len(r.items))
	for _, w := range r.items {
		all = append(all, w)
	}
	r.mu.Unlock()

	out := all[:0]
	for _, w := range all {
		if w.Dashboard() != nil {
			out = append(out, w)
		}
	}
	return out
}

// Evict forgets workspaces idle for longer than IdleTTL and closes their
// dashboards. Stored sessions are left alone; the next request rebuilds the
// workspace from them.
func (r *Registry) Evict() int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.IdleTTL)

	r.mu.Lock()
	var idle []*Workspace
	for slot, w := range r.items {
		if w.seen().Before(cutoff) {
			idle = append(idle, w)
			delete(r.items, slot)
		}
	}
	r.mu.Unlock()

	for _, w := range idle {
		w.closeDashboard()
	}
	return len(idle)
}

func (r *Registry) publish(slot string, snap dashboard.Snapshot) {
	r.mu.Lock()
	p := r.publisher
	r.mu.Unlock()
	if p != nil {
		p.Publish(slot, snap)
	}
}

type Workspace struct {
	Slot string
	Auth *auth.Controller

	reg *Registry

	mu       sync.Mutex
	dash     *dashboard.Dashboard
	lastSeen time.Time
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = now
}

func (w *Workspace) seen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

func (w *Workspace) Dashboard() *dashboard.Dashboard {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dash
}

func (w *Workspace) closeDashboard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dash != nil {
		w.dash.Close()
		w.dash = nil
	}
}

// reconcile makes the dashboard follow the current auth view: one dashboard
// per logged-in user, none otherwise. The view is read under w.mu so a
// reconcile that lost a race with logout cannot reopen a dashboard.
func (w *Workspace) reconcile() view.View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := w.Auth.View()
	in, ok := v.(view.LoggedIn)
	if !ok {
		if w.dash != nil {
			w.dash.Close()
			w.dash = nil
		}
		return v
	}

	if w.dash != nil && w.dash.UserID() == in.Session.Identity.ID {
		w.dash.SetSession(in.Session)
		return v
	}
	if w.dash != nil {
		w.dash.Close()
	}
	w.dash = dashboard.New(in.Session, w.reg.api, dashboard.Options{
		PublicURL:  w.reg.opts.PublicURL,
		MatchLimit: w.reg.opts.MatchLimit,
	}, w.reg.log)
	return v
}

func (w *Workspace) Start(ctx context.Context) view.View {
	w.Auth.Start(ctx)
	return w.reconcile()
}

func (w *Workspace) Login(ctx context.Context, username, password string) (view.View, error) {
	_, err := w.Auth.Login(ctx, username, password)
	return w.reconcile(), err
}

func (w *Workspace) Signup(ctx context.Context, profile user.SignupProfile) (view.View, error) {
	_, err := w.Auth.Signup(ctx, profile)
	return w.reconcile(), err
}

func (w *Workspace) Logout(ctx context.Context) (view.View, error) {
	_, err := w.Auth.Logout(ctx)
	return w.reconcile(), err
}

func (w *Workspace) ShowScreen(ctx context.Context, screen view.Screen) (view.View, error) {
	return w.Auth.ShowScreen(ctx, screen)
}

func (w *Workspace) AcceptInvite(ctx context.Context, p invite.Pending) (view.View, error) {
	return w.Auth.AcceptInvite(ctx, p)
}

func (w *Workspace) LinkPlayerTag(ctx context.Context, tag string) (view.View, error) {
	_, err := w.Auth.LinkPlayerTag(ctx, tag)
	return w.reconcile(), err
}

// board returns the dashboard, running the startup check first if this
// workspace has not been through one yet.
func (w *Workspace) board(ctx context.Context) (*dashboard.Dashboard, error) {
	if d := w.Dashboard(); d != nil {
		return d, nil
	}
	if _, ok := w.Auth.View().(view.Initializing); ok {
		w.Start(ctx)
	}
	if d := w.Dashboard(); d != nil {
		return d, nil
	}
	return nil, errs.ErrNotAuthenticated
}

// guard turns a rejected credential into a forced logout.
func (w *Workspace) guard(ctx context.Context, err error) error {
	if err == nil || !errors.Is(err, errs.ErrAuthentication) {
		return err
	}
	_, expErr := w.Auth.Expire(ctx)
	w.reconcile()
	return expErr
}

func (w *Workspace) Load(ctx context.Context) (dashboard.Snapshot, error) {
	d, err := w.board(ctx)
	if err != nil {
		return dashboard.Snapshot{}, err
	}
	snap, err := d.Load(ctx)
	return snap, w.guard(ctx, err)
}

func (w *Workspace) Sync(ctx context.Context) (dashboard.Snapshot, error) {
	d, err := w.board(ctx)
	if err != nil {
		return dashboard.Snapshot{}, err
	}
	snap, err := d.Sync(ctx)
	if err != nil {
		return snap, w.guard(ctx, err)
	}

	// trophies and clan move with new battles
	if _, err := w.Auth.Refresh(ctx); err != nil {
		w.reg.log.Warnf("sync: refresh identity for %s: %v", w.Slot, err)
		w.reconcile()
		if errors.Is(err, errs.ErrSessionExpired) {
			return snap, err
		}
	} else {
		w.reconcile()
		snap = d.Snapshot()
	}
	w.reg.publish(w.Slot, snap)
	return snap, nil
}

func (w *Workspace) AddFriend(ctx context.Context, tag string) (dashboard.Snapshot, error) {
	d, err := w.board(ctx)
	if err != nil {
		return dashboard.Snapshot{}, err
	}
	snap, err := d.AddFriend(ctx, tag)
	return snap, w.guard(ctx, err)
}

func (w *Workspace) CreateInvite(ctx context.Context) (invite.State, error) {
	d, err := w.board(ctx)
	if err != nil {
		return invite.State{}, err
	}
	state, err := d.CreateInvite(ctx)
	return state, w.guard(ctx, err)
}

func (w *Workspace) MarkInviteCopied(ctx context.Context) (invite.State, error) {
	d, err := w.board(ctx)
	if err != nil {
		return invite.State{}, err
	}
	return d.MarkInviteCopied()
}
