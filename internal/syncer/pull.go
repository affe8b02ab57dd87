package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
)

// NetworkAwareDownload pulls project fields, then the clip collection (which
// reconciles deletions), then optionally the videos of newly found clips.
func (e *Engine) NetworkAwareDownload(ctx context.Context, p *project.Project, withVideo bool) (Report, error) {
	release, err := e.acquire(p)
	if err != nil {
		return Report{}, err
	}
	defer release()

	if err := e.EnsureProject(ctx, p); err != nil {
		return Report{}, err
	}
	return e.download(ctx, p, withVideo)
}

func (e *Engine) download(ctx context.Context, p *project.Project, withVideo bool) (Report, error) {
	defer e.metrics.pass("download", time.Now())

	e.PullProjectMetadata(ctx, p)
	fresh, rep, err := e.PullClipMetadata(ctx, p)
	if err != nil {
		return rep, err
	}
	if withVideo {
		rep.Add(e.PullVideos(ctx, p, fresh))
	}
	p.RecountUnseen()
	return rep, nil
}

// PullProjectMetadata merges the remote name, owner, tier, invite flag and
// roster into the project. Field failures are logged and skipped.
func (e *Engine) PullProjectMetadata(ctx context.Context, p *project.Project) {
	log := e.projectLogger(p)
	get := func(field string, v any) bool {
		found, err := remote.GetInto(ctx, e.remote, remote.ProjectPath(p.ID(), field), v)
		if err != nil {
			log.Warn("failed to pull project field", "field", field, "error", err)
			return false
		}
		return found
	}

	var doc remote.ProjectDoc
	if get(remote.FieldName, &doc.Name) {
		p.SetName(doc.Name)
	}
	if get(remote.FieldOwner, &doc.Owner) && doc.Owner != "" {
		p.SetOwner(doc.Owner)
	}
	if get(remote.FieldTier, &doc.Tier) {
		tier, err := project.ParseTier(doc.Tier)
		if err != nil {
			log.Warn("ignoring remote tier", "error", err)
		} else {
			p.SetTier(tier)
		}
	}
	if get(remote.FieldInviteEnabled, &doc.InviteEnabled) {
		p.SetInviteEnabled(doc.InviteEnabled)
	}
	if get(remote.FieldCreators, &doc.Creators) {
		p.MergeCreators(doc.Creators)
	}
}

// PullClipMetadata fetches the whole remote clip collection, adds the clips
// this device has not seen, downloads their thumbnails and reconciles
// deletions. It returns the newly added clips. Only a failure to fetch the
// collection is returned as an error.
func (e *Engine) PullClipMetadata(ctx context.Context, p *project.Project) ([]clip.Record, Report, error) {
	var rep Report
	log := e.projectLogger(p)

	var rows map[string]json.RawMessage
	if _, err := remote.GetInto(ctx, e.remote, remote.ClipsPath(p.ID()), &rows); err != nil {
		return nil, rep, fmt.Errorf("fetch clip collection of project %s: %w", p.ID(), err)
	}

	remoteIDs := make(map[string]struct{}, len(rows))
	known := p.ClipIDs()
	var fresh []clip.Record
	for _, key := range slices.Sorted(maps.Keys(rows)) {
		var doc remote.ClipDoc
		if err := json.Unmarshal(rows[key], &doc); err != nil || doc.ID == "" {
			log.Warn("skipping malformed clip row", "key", key, "error", err)
			continue
		}
		remoteIDs[doc.ID] = struct{}{}
		if _, ok := known[doc.ID]; ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, doc.Timestamp)
		if err != nil {
			log.Warn("skipping clip row with bad timestamp", "key", key, "clip_id", doc.ID, "error", err)
			continue
		}
		known[doc.ID] = struct{}{}
		fresh = append(fresh, clip.FromRemote(p.ID(), doc.ID, doc.Creator, ts))
	}

	added := p.AppendClips(fresh)
	rep.ClipsDiscovered = len(added)
	rep.ThumbnailsPulled = e.pullThumbnails(ctx, p, added)
	rep.Add(e.Reconcile(ctx, p, remoteIDs))
	return added, rep, nil
}

// pullThumbnails downloads thumbnails concurrently. A missing or failed
// thumbnail only leaves that clip without one.
func (e *Engine) pullThumbnails(ctx context.Context, p *project.Project, clips []clip.Record) int {
	p.Progress().Begin(labelThumbnails, len(clips), 1)
	if len(clips) == 0 {
		return 0
	}

	thumbs := make([][]byte, len(clips))
	e.fanOut(len(clips), func(i int) {
		defer p.Progress().Advance(1)
		data, err := e.remote.GetBlob(ctx, remote.ThumbnailPath(clips[i].ID), e.maxThumbnailBytes)
		switch {
		case errors.Is(err, remote.ErrNotFound):
		case err != nil:
			e.projectLogger(p).Warn("thumbnail download failed", "clip_id", clips[i].ID, "error", err)
			e.metrics.item("pull_thumbnail", "failed")
		default:
			thumbs[i] = data
		}
	})

	n := 0
	for i, c := range clips {
		if thumbs[i] == nil {
			continue
		}
		if err := p.SetThumbnail(c.ID, thumbs[i]); err == nil {
			n++
			e.metrics.item("pull_thumbnail", "ok")
		}
	}
	return n
}

// Reconcile deletes every local clip absent from remoteIDs unless it is
// exempt: not yet published from this device, or its upload has not finished.
// Remote leftovers are cleaned up idempotently.
func (e *Engine) Reconcile(ctx context.Context, p *project.Project, remoteIDs map[string]struct{}) Report {
	var rep Report
	doomed := p.Select(func(r clip.Record) bool {
		_, ok := remoteIDs[r.ID]
		return !ok && !r.ExemptFromReconciliation()
	})
	if len(doomed) == 0 {
		return rep
	}
	p.Progress().Begin(labelReconcile, len(doomed), 1)

	log := e.projectLogger(p)
	e.fanOut(len(doomed), func(i int) {
		defer p.Progress().Advance(1)
		id := doomed[i].ID
		if err := e.deleteRemoteMetadata(ctx, p, id); err != nil {
			log.Warn("failed to clean up remote metadata", "clip_id", id, "error", err)
		}
		e.deleteRemoteBlobs(ctx, p, id)
		if err := e.paths.Remove(id); err != nil {
			log.Warn("failed to remove local files", "clip_id", id, "error", err)
		}
	})

	for _, r := range doomed {
		if _, ok := p.RemoveClip(r.ID); ok {
			rep.Deleted++
			e.metrics.item("reconcile_delete", "ok")
		}
	}
	log.Info("reconciled remote deletions", "deleted", rep.Deleted)
	return rep
}

// PullVideos downloads the videos of exactly the given clips. A download that
// can never complete invalidates its clip, and invalid clips are purged
// afterwards. Transient failures leave the clip remote-only for a later pass.
func (e *Engine) PullVideos(ctx context.Context, p *project.Project, clips []clip.Record) Report {
	var rep Report
	var pending []clip.Record
	for _, c := range clips {
		cur, ok := p.Clip(c.ID)
		if ok && cur.Status != clip.StatusInvalid && cur.VideoLocation == clip.RemoteOnly {
			pending = append(pending, cur)
		}
	}
	p.Progress().Begin(labelPullVideos, len(pending), videoUnits)
	if len(pending) == 0 {
		return rep
	}

	errs := make([]error, len(pending))
	e.fanOut(len(pending), func(i int) {
		defer p.Progress().Advance(videoUnits)
		id := pending[i].ID
		errs[i] = e.remote.GetBlobToFile(ctx, remote.VideoPath(id), e.paths.FinalPath(id))
	})

	log := e.projectLogger(p)
	for i, c := range pending {
		err := errs[i]
		if err != nil && !remote.IsPermanent(err) {
			log.Warn("video download failed, will retry", "clip_id", c.ID, "error", err)
			rep.VideosSkipped++
			e.metrics.item("pull_video", "skipped")
			continue
		}
		if err == nil {
			err = p.Update(c.ID, (*clip.Record).VideoPulled)
		}
		if err != nil {
			log.Warn("video unavailable, invalidating clip", "clip_id", c.ID, "error", err)
			p.Update(c.ID, func(r *clip.Record) error {
				r.Invalidate()
				return nil
			})
			e.metrics.item("pull_video", "failed")
			continue
		}
		rep.VideosPulled++
		e.metrics.item("pull_video", "ok")
	}

	for _, id := range p.PurgeInvalid() {
		rep.Invalidated++
		if err := e.paths.Remove(id); err != nil {
			log.Warn("failed to remove partial video", "clip_id", id, "error", err)
		}
	}
	return rep
}

// FetchVideo downloads one remote-only clip on demand.
func (e *Engine) FetchVideo(ctx context.Context, p *project.Project, id string) error {
	release, err := e.acquire(p)
	if err != nil {
		return err
	}
	defer release()

	c, ok := p.Clip(id)
	if !ok {
		return fmt.Errorf("%w: %s", project.ErrClipNotFound, id)
	}
	if c.VideoLocation != clip.RemoteOnly {
		return nil
	}
	if rep := e.PullVideos(ctx, p, []clip.Record{c}); rep.Invalidated > 0 || rep.VideosSkipped > 0 {
		return fmt.Errorf("%w: clip %s", ErrVideoUnavailable, id)
	}
	return nil
}
