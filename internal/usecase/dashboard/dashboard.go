package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clash_tracker/internal/domain/invite"
	"clash_tracker/internal/domain/match"
	"clash_tracker/internal/domain/user"
	errs "clash_tracker/internal/errors"
	"clash_tracker/internal/utils"
)

type Backend interface {
	Matches(ctx context.Context, cred user.Credential) ([]match.Match, error)
	Friends(ctx context.Context, cred user.Credential, userID int) ([]user.Identity, error)
	SyncBattles(ctx context.Context, cred user.Credential, tag string) (int, error)
	AddFriend(ctx context.Context, cred user.Credential, tag string) error
	CreateInvite(ctx context.Context, cred user.Credential) (invite.Invite, error)
}

// ErrClosed is returned for work that finished after the dashboard was torn
// down. Its results have been discarded.
var ErrClosed = fmt.Errorf("dashboard closed: %w", errs.ErrNotAuthenticated)

type Options struct {
	PublicURL  string
	MatchLimit int
}

type SyncResult struct {
	NewMatches int       `json:"new_matches"`
	At         time.Time `json:"at"`
}

// Snapshot is a copy of the dashboard state, safe to hand to other goroutines.
type Snapshot struct {
	User      user.Identity    `json:"user"`
	Matches   []match.Match    `json:"matches"`
	Friends   []user.Identity  `json:"friends"`
	Standings []match.Standing `json:"standings"`
	Loading   bool             `json:"loading"`
	Syncing   bool             `json:"syncing"`
	LastSync  *SyncResult      `json:"last_sync,omitempty"`
	Error     string           `json:"error,omitempty"`
	Invite    *invite.State    `json:"invite,omitempty"`
}

// Dashboard holds the data shown to one logged-in user. Every backend call it
// makes is scoped to its own context, so Close drops whatever is in flight.
type Dashboard struct {
	api  Backend
	opts Options
	log  *zap.SugaredLogger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	session  user.Session
	matches  []match.Match
	friends  []user.Identity
	loading  bool
	lastSync *SyncResult
	errMsg   string
	invite   *invite.State

	syncing atomic.Bool
}

func New(sess user.Session, api Backend, opts Options, log *zap.SugaredLogger) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dashboard{
		api:     api,
		opts:    opts,
		log:     log,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		session: sess,
		matches: []match.Match{},
		friends: []user.Identity{},
	}
}

func (d *Dashboard) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel()
}

func (d *Dashboard) Closed() bool {
	return d.ctx.Err() != nil
}

func (d *Dashboard) UserID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Identity.ID
}

// SetSession swaps in a refreshed session for the same user.
func (d *Dashboard) SetSession(sess user.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = sess
}

func (d *Dashboard) current() user.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// scope derives a context that ends with either ctx or the dashboard.
func (d *Dashboard) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(d.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

type fetchResult struct {
	matches    []match.Match
	friends    []user.Identity
	matchErr   error
	friendsErr error
}

// authErr returns the first failure that means the credential was rejected.
func (r fetchResult) authErr() error {
	for _, err := range []error{r.matchErr, r.friendsErr} {
		if errors.Is(err, errs.ErrAuthentication) {
			return err
		}
	}
	return nil
}

func (r fetchResult) firstErr() error {
	if r.matchErr != nil {
		return r.matchErr
	}
	return r.friendsErr
}

// fetch loads matches and friends side by side. A failure of one leaves that
// list empty and does not affect the other.
func (d *Dashboard) fetch(ctx context.Context, sess user.Session) fetchResult {
	res := fetchResult{matches: []match.Match{}, friends: []user.Identity{}}

	var g errgroup.Group
	g.Go(func() error {
		matches, err := d.api.Matches(ctx, sess.Credential)
		if err != nil {
			d.log.Warnf("dashboard: matches for user %d: %v", sess.Identity.ID, err)
			res.matchErr = err
			return nil
		}
		if d.opts.MatchLimit > 0 && len(matches) > d.opts.MatchLimit {
			matches = matches[:d.opts.MatchLimit]
		}
		res.matches = matches
		return nil
	})
	g.Go(func() error {
		friends, err := d.api.Friends(ctx, sess.Credential, sess.Identity.ID)
		if err != nil {
			d.log.Warnf("dashboard: friends for user %d: %v", sess.Identity.ID, err)
			res.friendsErr = err
			return nil
		}
		if friends != nil {
			res.friends = friends
		}
		return nil
	})
	_ = g.Wait()

	return res
}

// Load fetches matches and friends and returns once both have settled.
func (d *Dashboard) Load(ctx context.Context) (Snapshot, error) {
	ctx, done := d.scope(ctx)
	defer done()

	d.mu.Lock()
	d.loading = true
	sess := d.session
	d.mu.Unlock()

	res := d.fetch(ctx, sess)

	d.mu.Lock()
	if d.Closed() {
		d.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	d.matches = res.matches
	d.friends = res.friends
	d.loading = false
	d.mu.Unlock()

	return d.Snapshot(), res.authErr()
}

// Sync pulls the latest battles for the linked tag and reloads. A failed sync
// leaves the cached matches untouched.
func (d *Dashboard) Sync(ctx context.Context) (Snapshot, error) {
	const op = "dashboard.Sync"

	sess := d.current()
	tag := sess.Identity.Tag()
	if tag == "" {
		return d.Snapshot(), errs.Validation("link your player tag before syncing")
	}
	if !d.syncing.CompareAndSwap(false, true) {
		return d.Snapshot(), errs.ErrBusy
	}
	defer d.syncing.Store(false)

	ctx, done := d.scope(ctx)
	defer done()

	n, err := d.api.SyncBattles(ctx, sess.Credential, tag)
	if err != nil {
		d.mu.Lock()
		if d.Closed() {
			d.mu.Unlock()
			return Snapshot{}, ErrClosed
		}
		d.errMsg = errs.Message(err)
		d.mu.Unlock()
		return d.Snapshot(), fmt.Errorf("%s: %w", op, err)
	}

	res := d.fetch(ctx, sess)

	// a list that failed to reload keeps its cached copy
	d.mu.Lock()
	if d.Closed() {
		d.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if res.matchErr == nil {
		d.matches = res.matches
	}
	if res.friendsErr == nil {
		d.friends = res.friends
	}
	d.lastSync = &SyncResult{NewMatches: n, At: d.now()}
	d.errMsg = errs.Message(res.firstErr())
	d.mu.Unlock()

	d.log.Infof("dashboard: synced %d new matches for %s", n, tag)
	return d.Snapshot(), res.authErr()
}

// AddFriend links tag as a friend and reloads the friend list.
func (d *Dashboard) AddFriend(ctx context.Context, tag string) (Snapshot, error) {
	const op = "dashboard.AddFriend"

	ctx, done := d.scope(ctx)
	defer done()

	sess := d.current()
	if utils.FormatTag(tag) == sess.Identity.Tag() && sess.Identity.HasTag() {
		return d.Snapshot(), errs.Validation("you cannot add yourself as a friend")
	}

	if err := d.api.AddFriend(ctx, sess.Credential, tag); err != nil {
		return d.Snapshot(), fmt.Errorf("%s: %w", op, err)
	}

	friends, err := d.api.Friends(ctx, sess.Credential, sess.Identity.ID)
	if err != nil {
		if d.Closed() {
			return Snapshot{}, ErrClosed
		}
		return d.Snapshot(), fmt.Errorf("%s: reload friends: %w", op, err)
	}
	if friends == nil {
		friends = []user.Identity{}
	}

	d.mu.Lock()
	if d.Closed() {
		d.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	d.friends = friends
	d.mu.Unlock()
	return d.Snapshot(), nil
}

// CreateInvite requests a fresh invite. Each new invite starts uncopied.
func (d *Dashboard) CreateInvite(ctx context.Context) (invite.State, error) {
	const op = "dashboard.CreateInvite"

	ctx, done := d.scope(ctx)
	defer done()

	inv, err := d.api.CreateInvite(ctx, d.current().Credential)
	if err != nil {
		if d.Closed() {
			return invite.State{}, ErrClosed
		}
		return invite.State{}, fmt.Errorf("%s: %w", op, err)
	}

	state := invite.State{Invite: inv, Link: inv.Link(d.opts.PublicURL)}
	d.mu.Lock()
	if d.Closed() {
		d.mu.Unlock()
		return invite.State{}, ErrClosed
	}
	d.invite = &state
	d.mu.Unlock()
	return state, nil
}

func (d *Dashboard) MarkInviteCopied() (invite.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.invite == nil {
		return invite.State{}, errs.Validation("there is no invite to copy")
	}
	d.invite.Copied = true
	return *d.invite, nil
}

func (d *Dashboard) Standings() []match.Standing {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.standingsLocked()
}

func (d *Dashboard) standingsLocked() []match.Standing {
	friends := make([]match.Friend, 0, len(d.friends))
	for _, f := range d.friends {
		friends = append(friends, match.Friend{Tag: f.Tag(), Username: f.Username})
	}
	return match.HeadToHead(d.matches, friends, d.session.Identity.Tag())
}

func (d *Dashboard) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		User:      d.session.Identity,
		Matches:   append([]match.Match(nil), d.matches...),
		Friends:   append([]user.Identity(nil), d.friends...),
		Standings: d.standingsLocked(),
		Loading:   d.loading,
		Syncing:   d.syncing.Load(),
		Error:     d.errMsg,
	}
	if s.Matches == nil {
		s.Matches = []match.Match{}
	}
	if s.Friends == nil {
		s.Friends = []user.Identity{}
	}
	if d.lastSync != nil {
		last := *d.lastSync
		s.LastSync = &last
	}
	if d.invite != nil {
		inv := *d.invite
		s.Invite = &inv
	}
	return s
}
