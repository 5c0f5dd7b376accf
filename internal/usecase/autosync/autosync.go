// Package autosync periodically pulls new battles for every logged-in user
// and evicts idle workspaces.
package autosync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	errs "clash_tracker/internal/errors"
	"clash_tracker/internal/usecase/dashboard"
	"clash_tracker/internal/usecase/workspace"
)

type Workspaces interface {
	LoggedIn() []*workspace.Workspace
	Evict() int
}

type Scheduler struct {
	sched   gocron.Scheduler
	ws      Workspaces
	timeout time.Duration
	log     *zap.SugaredLogger
}

// New registers the sync job every syncEvery (skipped when zero) and the
// eviction job every evictEvery (skipped when zero).
func New(ws Workspaces, syncEvery, evictEvery, timeout time.Duration, log *zap.SugaredLogger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("autosync.New: %w", err)
	}
	s := &Scheduler{sched: sched, ws: ws, timeout: timeout, log: log}

	if syncEvery > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(syncEvery),
			gocron.NewTask(func() { s.SyncAll(context.Background()) }),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("autosync.New: sync job: %w", err)
		}
	}
	if evictEvery > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(evictEvery),
			gocron.NewTask(func() {
				if n := ws.Evict(); n > 0 {
					log.Infof("autosync: evicted %d idle workspaces", n)
				}
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("autosync.New: evict job: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// SyncAll runs one sync for every logged-in workspace with a linked tag and
// returns how many succeeded.
func (s *Scheduler) SyncAll(ctx context.Context) int {
	synced := 0
	for _, w := range s.ws.LoggedIn() {
		d := w.Dashboard()
		if d == nil || !d.Snapshot().User.HasTag() {
			continue
		}

		runCtx := ctx
		var cancel context.CancelFunc = func() {}
		if s.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		_, err := w.Sync(runCtx)
		cancel()

		switch {
		case err == nil:
			synced++
		case errors.Is(err, errs.ErrBusy), errors.Is(err, dashboard.ErrClosed):
		default:
			s.log.Warnf("autosync: %s: %v", w.Slot, err)
		}
	}
	return synced
}
