// Package service applies user commands to the loaded projects and persists
// every change.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/media"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
	"github.com/reelsync/reelsync-agent/internal/syncer"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrRecordingMissing = errors.New("finished recording not found")
	ErrNotRecording     = errors.New("clip is not recording")
	ErrInvitesDisabled  = errors.New("project is not accepting new members")
	ErrMemberLimit      = errors.New("member limit reached for tier")
	ErrInvalidName      = errors.New("project name is required")
)

type Config struct {
	Repo        Repository
	Engine      *syncer.Engine
	Paths       clip.Paths
	Thumbnailer media.Thumbnailer
	Limits      project.TierLimits
	SyncVideos  bool
	Logger      *slog.Logger
	Now         func() time.Time
}

type Service struct {
	repo        Repository
	engine      *syncer.Engine
	paths       clip.Paths
	thumbnailer media.Thumbnailer
	limits      project.TierLimits
	syncVideos  bool
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	projects map[string]*project.Project
}

// New loads every stored project. Clips left invalid by an interrupted
// recording or download are purged along with their files.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limits == nil {
		cfg.Limits = project.DefaultTierLimits()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Thumbnailer == nil {
		cfg.Thumbnailer = media.NewStubThumbnailer(cfg.Logger)
	}
	if err := os.MkdirAll(cfg.Paths.Root, 0755); err != nil {
		return nil, fmt.Errorf("create clips directory: %w", err)
	}

	s := &Service{
		repo:        cfg.Repo,
		engine:      cfg.Engine,
		paths:       cfg.Paths,
		thumbnailer: cfg.Thumbnailer,
		limits:      cfg.Limits,
		syncVideos:  cfg.SyncVideos,
		logger:      logging.WithComponent(cfg.Logger, "service"),
		now:         cfg.Now,
		projects:    make(map[string]*project.Project),
	}

	loaded, err := s.repo.LoadProjects(ctx, s.limits)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	for _, p := range loaded {
		if purged := p.PurgeInvalid(); len(purged) > 0 {
			for _, id := range purged {
				if err := s.paths.Remove(id); err != nil {
					s.logger.Warn("failed to remove purged clip files", "clip_id", id, "error", err)
				}
			}
			if err := s.repo.SaveProject(ctx, p); err != nil {
				return nil, err
			}
			s.logger.Info("purged invalid clips", "project_id", p.ID(), "count", len(purged))
		}
		s.projects[p.ID()] = p
	}
	s.logger.Info("projects loaded", "count", len(s.projects))
	return s, nil
}

func (s *Service) Identity() syncer.Identity {
	return s.engine.Identity()
}

func (s *Service) Paths() clip.Paths {
	return s.paths
}

// Project returns the live project record.
func (s *Service) Project(id string) (*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return p, nil
}

// ListProjects returns every project, oldest first.
func (s *Service) ListProjects() []*project.Project {
	s.mu.RLock()
	out := make([]*project.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// CreateProject makes a project owned by this device's user. It exists only
// locally until the first sync.
func (s *Service) CreateProject(ctx context.Context, name string) (*project.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	id := s.engine.Identity()
	p := project.New(project.Options{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   id.UserID,
		Tier:      project.TierFree,
		CreatedAt: s.now().UTC(),
		Creators:  map[string]string{id.UserID: id.DisplayName},
		Limits:    s.limits,
	})
	if err := s.repo.SaveProject(ctx, p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.projects[p.ID()] = p
	s.mu.Unlock()

	s.logger.Info("project created", "project_id", p.ID())
	return p, nil
}

// JoinProject materializes a remote project on this device. The remote
// project must exist and accept this user as a member.
func (s *Service) JoinProject(ctx context.Context, id string) (*project.Project, error) {
	id = strings.TrimSpace(id)
	if p, err := s.Project(id); err == nil {
		return p, nil
	}
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, id)
	}

	p := project.New(project.Options{ID: id, CreatedAt: s.now().UTC(), Limits: s.limits})
	kept := false
	defer func() {
		if !kept {
			s.engine.Forget(p)
		}
	}()
	if _, err := s.engine.NetworkAwareDownload(ctx, p, false); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return nil, err
	}

	user := s.engine.Identity().UserID
	if _, member := p.Creators()[user]; !member {
		if !p.InviteEnabled() {
			return nil, ErrInvitesDisabled
		}
		if !p.CanInviteMembers() {
			return nil, ErrMemberLimit
		}
	}
	if err := s.repo.SaveProject(ctx, p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.projects[p.ID()] = p
	s.mu.Unlock()
	kept = true

	s.logger.Info("project joined", "project_id", p.ID(), "clips", p.ClipCount())
	return p, nil
}

// StartClip creates the record for a recording that is about to begin. The
// recorder writes to the returned clip's temporary path.
func (s *Service) StartClip(ctx context.Context, projectID string) (clip.Record, error) {
	p, err := s.Project(projectID)
	if err != nil {
		return clip.Record{}, err
	}
	if !p.CanAddClip() {
		return clip.Record{}, project.ErrClipLimit
	}
	c := clip.New(p.ID(), s.engine.Identity().UserID, s.now())
	if err := p.AddClip(c); err != nil {
		return clip.Record{}, err
	}
	if err := s.repo.SaveProject(ctx, p); err != nil {
		p.RemoveClip(c.ID)
		return clip.Record{}, err
	}
	logging.WithClipID(s.logger, c.ID).Info("recording started", "project_id", p.ID())
	return c, nil
}

// EndClip promotes a finished recording to its final path and generates its
// thumbnail. A thumbnail failure leaves the clip without one.
func (s *Service) EndClip(ctx context.Context, projectID, clipID string) (clip.Record, error) {
	p, err := s.Project(projectID)
	if err != nil {
		return clip.Record{}, err
	}
	c, ok := p.Clip(clipID)
	if !ok {
		return clip.Record{}, fmt.Errorf("%w: %s", project.ErrClipNotFound, clipID)
	}
	if c.Status != clip.StatusTemporary {
		return clip.Record{}, fmt.Errorf("%w: %s is %s", ErrNotRecording, clipID, c.Status)
	}

	if err := s.paths.Promote(clipID); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return clip.Record{}, fmt.Errorf("%w: %s", ErrRecordingMissing, s.paths.TemporaryPath(clipID))
		}
		return clip.Record{}, fmt.Errorf("promote recording: %w", err)
	}
	if err := p.Update(clipID, (*clip.Record).Finalize); err != nil {
		return clip.Record{}, err
	}

	log := logging.WithClipID(s.logger, clipID)
	thumb, err := s.thumbnailer.Thumbnail(ctx, s.paths.FinalPath(clipID))
	if err != nil {
		log.Warn("thumbnail generation failed", "error", err)
	} else if len(thumb) > 0 {
		if err := p.SetThumbnail(clipID, thumb); err != nil {
			log.Warn("failed to store thumbnail", "error", err)
		}
	}

	if err := s.repo.SaveProject(ctx, p); err != nil {
		return clip.Record{}, err
	}
	log.Info("recording finished", "project_id", p.ID())
	c, _ = p.Clip(clipID)
	return c, nil
}

// DeleteClip removes the clip from this device and the remote store.
func (s *Service) DeleteClip(ctx context.Context, projectID, clipID string) error {
	p, err := s.Project(projectID)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteClip(ctx, p, clipID); err != nil {
		return err
	}
	return s.repo.SaveProject(ctx, p)
}

func (s *Service) MarkSeen(ctx context.Context, projectID, clipID string) error {
	p, err := s.Project(projectID)
	if err != nil {
		return err
	}
	if err := p.MarkSeen(clipID); err != nil {
		return err
	}
	return s.repo.SaveProject(ctx, p)
}

// Sync runs one upload and download pass. State reached before a failure is
// persisted too.
func (s *Service) Sync(ctx context.Context, projectID string) (syncer.Report, error) {
	p, err := s.Project(projectID)
	if err != nil {
		return syncer.Report{}, err
	}
	rep, syncErr := s.engine.Sync(ctx, p, syncer.SyncOptions{Videos: s.syncVideos})
	if errors.Is(syncErr, syncer.ErrSyncInProgress) {
		return rep, syncErr
	}
	if err := s.repo.SaveProject(ctx, p); err != nil {
		return rep, errors.Join(syncErr, err)
	}
	return rep, syncErr
}

// SyncAll syncs every project in turn and returns the combined failures.
func (s *Service) SyncAll(ctx context.Context) error {
	var errs []error
	for _, p := range s.ListProjects() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.Sync(ctx, p.ID()); err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Upgrade(ctx context.Context, projectID string) error {
	p, err := s.Project(projectID)
	if err != nil {
		return err
	}
	if err := s.engine.Upgrade(ctx, p); err != nil {
		return err
	}
	return s.repo.SaveProject(ctx, p)
}

func (s *Service) SetInviteEnabled(ctx context.Context, projectID string, enabled bool) error {
	p, err := s.Project(projectID)
	if err != nil {
		return err
	}
	if err := s.engine.SetInviteEnabled(ctx, p, enabled); err != nil {
		return err
	}
	return s.repo.SaveProject(ctx, p)
}

// FetchVideo makes sure the clip's video is on this device and returns its
// path. A video that is gone from the remote store removes the clip; a
// transient failure leaves it remote-only.
func (s *Service) FetchVideo(ctx context.Context, projectID, clipID string) (string, error) {
	p, err := s.Project(projectID)
	if err != nil {
		return "", err
	}
	c, ok := p.Clip(clipID)
	if !ok {
		return "", fmt.Errorf("%w: %s", project.ErrClipNotFound, clipID)
	}
	if c.VideoLocation == clip.RemoteOnly {
		fetchErr := s.engine.FetchVideo(ctx, p, clipID)
		if err := s.repo.SaveProject(ctx, p); err != nil {
			return "", errors.Join(fetchErr, err)
		}
		if fetchErr != nil {
			return "", fetchErr
		}
	}
	if c.Status == clip.StatusTemporary {
		return "", fmt.Errorf("%w: %s", ErrRecordingMissing, clipID)
	}
	return s.paths.FinalPath(clipID), nil
}

// Thumbnail returns the cached thumbnail, or nil when the clip has none.
func (s *Service) Thumbnail(projectID, clipID string) ([]byte, error) {
	p, err := s.Project(projectID)
	if err != nil {
		return nil, err
	}
	c, ok := p.Clip(clipID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", project.ErrClipNotFound, clipID)
	}
	return c.Thumbnail, nil
}

// UnseenTotal sums the unseen counters of every project.
func (s *Service) UnseenTotal() int {
	total := 0
	for _, p := range s.ListProjects() {
		total += p.UnseenCount()
	}
	return total
}
