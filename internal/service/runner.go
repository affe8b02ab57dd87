package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/syncer"
)

// Runner syncs every project on an interval and whenever another device
// announces a change. Pausing stops both.
type Runner struct {
	service  *Service
	logger   *slog.Logger
	interval time.Duration
	trigger  chan string
	running  atomic.Bool
	paused   atomic.Bool
	lastErr  atomic.Value
}

// allProjects asks the loop to sync everything.
const allProjects = ""

// NewRunner creates a runner. A zero interval disables periodic sync; triggers
// still run.
func NewRunner(service *Service, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		service:  service,
		logger:   logger.With("component", "runner"),
		interval: interval,
		trigger:  make(chan string, 16),
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("sync runner started", "interval", r.interval)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sync runner stopping")
			r.running.Store(false)
			return
		case <-tick:
			if !r.paused.Load() {
				r.syncAll(ctx)
			}
		case id := <-r.trigger:
			if r.paused.Load() {
				continue
			}
			if id == allProjects {
				r.syncAll(ctx)
			} else {
				r.syncOne(ctx, id)
			}
		}
	}
}

// SyncNow queues a pass over every project.
func (r *Runner) SyncNow() {
	r.enqueue(allProjects)
}

// Trigger queues a pass over one project.
func (r *Runner) Trigger(projectID string) {
	r.enqueue(projectID)
}

// HandleEvent reacts to a change announced by another device.
func (r *Runner) HandleEvent(e notify.Event) {
	if _, err := r.service.Project(e.ProjectID); err != nil {
		return
	}
	r.logger.Debug("remote change announced", "project_id", e.ProjectID, "type", e.Type)
	r.Trigger(e.ProjectID)
}

func (r *Runner) enqueue(id string) {
	select {
	case r.trigger <- id:
	default:
		r.logger.Debug("sync trigger dropped, queue full", "project_id", id)
	}
}

func (r *Runner) syncAll(ctx context.Context) {
	var failed error
	for _, p := range r.service.ListProjects() {
		if ctx.Err() != nil {
			return
		}
		if err := r.syncOne(ctx, p.ID()); err != nil {
			failed = err
		}
	}
	r.storeErr(failed)
}

func (r *Runner) syncOne(ctx context.Context, id string) error {
	rep, err := r.service.Sync(ctx, id)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		r.logger.Debug("sync skipped, pass already running", "project_id", id)
		return nil
	case err != nil:
		r.logger.Error("background sync failed", "project_id", id, "error", err)
		r.storeErr(err)
		return err
	}
	r.logger.Debug("background sync complete", "project_id", id,
		"pushed", rep.MetadataPushed, "discovered", rep.ClipsDiscovered, "deleted", rep.Deleted)
	return nil
}

func (r *Runner) storeErr(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.lastErr.Store(msg)
}

// LastError returns the most recent background failure, empty after a clean pass.
func (r *Runner) LastError() string {
	msg, _ := r.lastErr.Load().(string)
	return msg
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("sync runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("sync runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}
