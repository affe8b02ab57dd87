// Package syncer moves project state between the device and the remote store:
// metadata and video pushes, metadata and video pulls, and the reconciliation
// pass that propagates deletions from other devices.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/progress"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
)

var (
	// ErrSyncInProgress is returned when a pass is already running on the project.
	ErrSyncInProgress = errors.New("sync already in progress for project")
	// ErrNotOwner is returned when a non-owner changes an owner-only setting.
	ErrNotOwner = errors.New("only the project owner can change this setting")
	// ErrVideoUnavailable means a requested video could not be downloaded.
	ErrVideoUnavailable = errors.New("video unavailable")
)

// PreconditionError reports that the remote project could not be checked or
// created. It aborts the whole pass.
type PreconditionError struct {
	ProjectID string
	Err       error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("remote project %s unavailable: %v", e.ProjectID, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// Identity is who this device acts as.
type Identity struct {
	UserID      string
	DisplayName string
	DeviceID    string
}

const (
	metadataUnits = 2
	videoUnits    = 1

	defaultMaxThumbnailBytes = 1 << 20
)

const (
	labelPushMetadata = "Uploading clips"
	labelPushVideos   = "Uploading videos"
	labelThumbnails   = "Fetching thumbnails"
	labelReconcile    = "Removing deleted clips"
	labelPullVideos   = "Downloading videos"
)

// Config wires an Engine to its collaborators.
type Config struct {
	Remote   remote.Store
	Paths    clip.Paths
	Identity Identity
	Logger   *slog.Logger
	// Metrics and Publisher are optional.
	Metrics   *Metrics
	Publisher notify.Publisher
	// FanoutLimit caps concurrent tasks per fan-out group; 0 means unbounded.
	FanoutLimit       int
	MaxThumbnailBytes int64
	Now               func() time.Time
}

// Engine runs sync passes and user actions against one remote store. At most
// one pass or action runs per project at a time.
type Engine struct {
	remote            remote.Store
	paths             clip.Paths
	identity          Identity
	logger            *slog.Logger
	metrics           *Metrics
	publisher         notify.Publisher
	fanoutLimit       int
	maxThumbnailBytes int64
	now               func() time.Time

	mu       sync.Mutex
	running  map[string]chan struct{}
	observed map[string]*project.Project
}

// New returns an Engine with defaults applied to unset Config fields.
func New(cfg Config) *Engine {
	if cfg.MaxThumbnailBytes <= 0 {
		cfg.MaxThumbnailBytes = defaultMaxThumbnailBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		remote:            cfg.Remote,
		paths:             cfg.Paths,
		identity:          cfg.Identity,
		logger:            logging.WithComponent(cfg.Logger, "syncer"),
		metrics:           cfg.Metrics,
		publisher:         cfg.Publisher,
		fanoutLimit:       cfg.FanoutLimit,
		maxThumbnailBytes: cfg.MaxThumbnailBytes,
		now:               cfg.Now,
		running:           make(map[string]chan struct{}),
		observed:          make(map[string]*project.Project),
	}
}

func (e *Engine) Identity() Identity {
	return e.identity
}

// acquire claims the project for one pass, failing fast when another pass
// holds it. The returned release clears the progress indicator and frees the
// project.
func (e *Engine) acquire(p *project.Project) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[p.ID()]; busy {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, p.ID())
	}
	return e.claimLocked(p), nil
}

// await claims the project like acquire but waits for a running pass to
// finish first. User actions use it so they queue behind background syncs.
func (e *Engine) await(ctx context.Context, p *project.Project) (func(), error) {
	for {
		e.mu.Lock()
		done, busy := e.running[p.ID()]
		if !busy {
			release := e.claimLocked(p)
			e.mu.Unlock()
			return release, nil
		}
		e.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// claimLocked must be called with e.mu held.
func (e *Engine) claimLocked(p *project.Project) func() {
	id := p.ID()
	done := make(chan struct{})
	e.running[id] = done

	if e.metrics != nil && e.observed[id] != p {
		e.observed[id] = p
		p.Progress().Observe(func(s progress.State) {
			e.metrics.setProgress(id, s.Ratio())
		})
	}

	return func() {
		p.Progress().Finish()
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
		close(done)
	}
}

// Forget drops per-project bookkeeping for a project this device no longer
// keeps, such as one whose join was rejected.
func (e *Engine) Forget(p *project.Project) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.observed[p.ID()] != p {
		return
	}
	delete(e.observed, p.ID())
	e.metrics.forget(p.ID())
}

// fanOut runs task once per index and waits for all of them. Tasks report
// through their own slot; they never mutate the project's collection.
func (e *Engine) fanOut(n int, task func(i int)) {
	var g errgroup.Group
	if e.fanoutLimit > 0 {
		g.SetLimit(e.fanoutLimit)
	}
	for i := range n {
		g.Go(func() error {
			task(i)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) projectLogger(p *project.Project) *slog.Logger {
	return logging.WithProjectID(e.logger, p.ID())
}

func (e *Engine) publish(ctx context.Context, p *project.Project, typ notify.EventType, clipIDs []string) {
	if e.publisher == nil {
		return
	}
	err := e.publisher.Publish(ctx, notify.Event{
		Type:      typ,
		ProjectID: p.ID(),
		DeviceID:  e.identity.DeviceID,
		ClipIDs:   clipIDs,
		At:        e.now().UTC(),
	})
	if err != nil {
		e.projectLogger(p).Warn("failed to publish change event", "type", typ, "error", err)
	}
}

// EnsureProject checks that the remote project exists and creates it if not.
// The owner field is written last and marks a completed creation.
func (e *Engine) EnsureProject(ctx context.Context, p *project.Project) error {
	var owner string
	found, err := remote.GetInto(ctx, e.remote, remote.ProjectPath(p.ID(), remote.FieldOwner), &owner)
	if err != nil {
		return &PreconditionError{ProjectID: p.ID(), Err: err}
	}
	if found {
		return nil
	}
	if p.OwnerID() == "" {
		return &PreconditionError{ProjectID: p.ID(), Err: remote.ErrNotFound}
	}

	doc := remote.ProjectDoc{
		Name:          p.Name(),
		Owner:         p.OwnerID(),
		Tier:          string(p.Tier()),
		InviteEnabled: p.InviteEnabled(),
		Creators:      p.Creators(),
	}
	type write struct {
		path  string
		value any
	}
	writes := []write{
		{remote.ProjectPath(p.ID(), remote.FieldName), doc.Name},
		{remote.ProjectPath(p.ID(), remote.FieldTier), doc.Tier},
		{remote.ProjectPath(p.ID(), remote.FieldInviteEnabled), doc.InviteEnabled},
	}
	for id, name := range doc.Creators {
		writes = append(writes, write{remote.CreatorPath(p.ID(), id), name})
	}
	writes = append(writes, write{remote.ProjectPath(p.ID(), remote.FieldOwner), doc.Owner})

	for _, w := range writes {
		if err := e.remote.Set(ctx, w.path, w.value); err != nil {
			return &PreconditionError{ProjectID: p.ID(), Err: err}
		}
	}
	e.projectLogger(p).Info("created remote project")
	return nil
}
