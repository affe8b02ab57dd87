package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
)

type SyncOptions struct {
	// Videos enables video uploads and downloads alongside metadata.
	Videos bool
}

// Sync runs an upload pass followed by a download pass while holding the
// project once.
func (e *Engine) Sync(ctx context.Context, p *project.Project, opts SyncOptions) (Report, error) {
	release, err := e.acquire(p)
	if err != nil {
		return Report{}, err
	}
	defer release()

	if err := e.EnsureProject(ctx, p); err != nil {
		return Report{}, err
	}
	rep := e.upload(ctx, p, opts.Videos)
	down, err := e.download(ctx, p, opts.Videos)
	rep.Add(down)
	if err != nil {
		return rep, err
	}
	e.projectLogger(p).Info("sync pass complete",
		"pushed", rep.MetadataPushed,
		"discovered", rep.ClipsDiscovered,
		"deleted", rep.Deleted,
		"invalidated", rep.Invalidated,
	)
	return rep, nil
}

// DeleteClip removes a clip everywhere. The remote metadata row must be gone
// before the local copy is dropped, or other devices would never learn of the
// deletion. Blob removal is best-effort. The clip index entry stays behind as
// a tombstone. A running pass on the project is waited for, not interrupted.
func (e *Engine) DeleteClip(ctx context.Context, p *project.Project, id string) error {
	release, err := e.await(ctx, p)
	if err != nil {
		return err
	}
	defer release()

	c, ok := p.Clip(id)
	if !ok {
		return fmt.Errorf("%w: %s", project.ErrClipNotFound, id)
	}
	onRemote := c.MetadataLocation.OnRemote() || e.indexedRemotely(ctx, p, id)
	if onRemote {
		if err := e.deleteRemoteMetadata(ctx, p, id); err != nil {
			return fmt.Errorf("delete remote metadata of clip %s: %w", id, err)
		}
		e.deleteRemoteBlobs(ctx, p, id)
	}

	p.RemoveClip(id)
	if err := e.paths.Remove(id); err != nil {
		e.projectLogger(p).Warn("failed to remove local files", "clip_id", id, "error", err)
	}
	e.metrics.item("delete_clip", "ok")
	if onRemote {
		e.publish(ctx, p, notify.ClipDeleted, []string{id})
	}
	return nil
}

// indexedRemotely reports whether a push reached the clip index even though
// the local record never recorded it, as after a crash between the remote
// write and the local save. Lookup failures count as not indexed.
func (e *Engine) indexedRemotely(ctx context.Context, p *project.Project, id string) bool {
	var indexed bool
	found, err := remote.GetInto(ctx, e.remote, remote.ClipIndexPath(p.ID(), id), &indexed)
	if err != nil {
		e.projectLogger(p).Debug("clip index lookup failed, deleting locally only", "clip_id", id, "error", err)
		return false
	}
	return found
}

// Upgrade moves the project to the upgraded tier. The local tier changes
// only after the remote write succeeds.
func (e *Engine) Upgrade(ctx context.Context, p *project.Project) error {
	return e.setOwnerField(ctx, p, remote.FieldTier, string(project.TierUpgraded), func() {
		p.SetTier(project.TierUpgraded)
	})
}

// SetInviteEnabled toggles invitations, remote first.
func (e *Engine) SetInviteEnabled(ctx context.Context, p *project.Project, enabled bool) error {
	return e.setOwnerField(ctx, p, remote.FieldInviteEnabled, enabled, func() {
		p.SetInviteEnabled(enabled)
	})
}

func (e *Engine) setOwnerField(ctx context.Context, p *project.Project, field string, value any, apply func()) error {
	if !p.IsOwner(e.identity.UserID) {
		return ErrNotOwner
	}
	release, err := e.await(ctx, p)
	if err != nil {
		return err
	}
	defer release()

	if err := e.EnsureProject(ctx, p); err != nil {
		return err
	}
	if err := e.remote.Set(ctx, remote.ProjectPath(p.ID(), field), value); err != nil {
		return fmt.Errorf("write project %s: %w", field, err)
	}
	apply()
	e.publish(ctx, p, notify.ProjectUpdated, nil)
	return nil
}

// deleteRemoteMetadata removes every row of the clip collection carrying id.
func (e *Engine) deleteRemoteMetadata(ctx context.Context, p *project.Project, id string) error {
	clipsPath := remote.ClipsPath(p.ID())
	rows, err := e.remote.QueryByChildEquals(ctx, clipsPath, remote.ClipFieldID, id)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for key := range rows {
		if err := e.remote.Delete(ctx, remote.Join(clipsPath, key)); err != nil && !errors.Is(err, remote.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) deleteRemoteBlobs(ctx context.Context, p *project.Project, id string) {
	for _, path := range []string{remote.VideoPath(id), remote.ThumbnailPath(id)} {
		if err := e.remote.DeleteBlob(ctx, path); err != nil && !errors.Is(err, remote.ErrNotFound) {
			e.projectLogger(p).Warn("failed to delete remote blob", "path", path, "error", err)
		}
	}
}
