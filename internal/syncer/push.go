package syncer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
)

type pushOutcome int

const (
	pushFailed pushOutcome = iota
	pushDone
	pushSkipped
	pushTombstoned
)

type metadataResult struct {
	outcome         pushOutcome
	thumbnailFailed bool
}

// NetworkAwareUpload pushes project fields, then clip metadata, then
// optionally videos. Videos only go out for clips whose metadata is remote.
func (e *Engine) NetworkAwareUpload(ctx context.Context, p *project.Project, withVideo bool) (Report, error) {
	release, err := e.acquire(p)
	if err != nil {
		return Report{}, err
	}
	defer release()

	if err := e.EnsureProject(ctx, p); err != nil {
		return Report{}, err
	}
	return e.upload(ctx, p, withVideo), nil
}

func (e *Engine) upload(ctx context.Context, p *project.Project, withVideo bool) Report {
	defer e.metrics.pass("upload", time.Now())

	e.PushProjectFields(ctx, p)
	rep := e.PushMetadata(ctx, p)
	if withVideo {
		rep.Add(e.PushVideos(ctx, p))
	}
	if len(rep.Published) > 0 {
		e.publish(ctx, p, notify.ClipsPublished, rep.Published)
	}
	return rep
}

// PushProjectFields writes the project name (owner only) and this device's
// roster entry.
func (e *Engine) PushProjectFields(ctx context.Context, p *project.Project) {
	log := e.projectLogger(p)
	if p.IsOwner(e.identity.UserID) {
		if err := e.remote.Set(ctx, remote.ProjectPath(p.ID(), remote.FieldName), p.Name()); err != nil {
			log.Warn("failed to push project name", "error", err)
		}
	}
	if e.identity.UserID == "" {
		return
	}
	p.SetCreator(e.identity.UserID, e.identity.DisplayName)
	if err := e.remote.Set(ctx, remote.CreatorPath(p.ID(), e.identity.UserID), e.identity.DisplayName); err != nil {
		log.Warn("failed to push roster entry", "error", err)
	}
}

// PushMetadata publishes every final clip whose metadata is still device-only.
func (e *Engine) PushMetadata(ctx context.Context, p *project.Project) Report {
	var rep Report
	pending := p.Select(clip.Record.NeedsMetadataPush)
	p.Progress().Begin(labelPushMetadata, len(pending), metadataUnits)
	if len(pending) == 0 {
		return rep
	}

	results := make([]metadataResult, len(pending))
	e.fanOut(len(pending), func(i int) {
		results[i] = e.pushClipMetadata(ctx, p, pending[i])
	})

	log := e.projectLogger(p)
	for i, r := range pending {
		res := results[i]
		if res.thumbnailFailed {
			rep.ThumbnailsFailed++
			e.metrics.item("push_thumbnail", "failed")
		}
		switch res.outcome {
		case pushDone:
			if err := p.Update(r.ID, (*clip.Record).MetadataPushed); err != nil {
				log.Warn("failed to record metadata push", "clip_id", r.ID, "error", err)
				continue
			}
			rep.MetadataPushed++
			rep.Published = append(rep.Published, r.ID)
			e.metrics.item("push_metadata", "ok")
		case pushSkipped:
			rep.MetadataSkipped++
			e.metrics.item("push_metadata", "skipped")
		case pushTombstoned:
			p.RemoveClip(r.ID)
			if err := e.paths.Remove(r.ID); err != nil {
				log.Warn("failed to remove files of deleted clip", "clip_id", r.ID, "error", err)
			}
			rep.Tombstoned++
			e.metrics.item("push_metadata", "tombstoned")
		default:
			rep.MetadataFailed++
			e.metrics.item("push_metadata", "failed")
		}
	}
	return rep
}

// pushClipMetadata writes one clip's row, its index entry and its thumbnail.
// It advances progress by metadataUnits whatever the outcome.
func (e *Engine) pushClipMetadata(ctx context.Context, p *project.Project, r clip.Record) metadataResult {
	log := logging.WithClipID(e.projectLogger(p), r.ID)
	reporter := p.Progress()

	if !e.paths.HasVideo(r.ID) {
		log.Warn("data integrity gap: final clip has no local video, skipping metadata push",
			"path", logging.SanitizePath(e.paths.FinalPath(r.ID)))
		reporter.Advance(metadataUnits)
		return metadataResult{outcome: pushSkipped}
	}

	clipsPath := remote.ClipsPath(p.ID())
	indexPath := remote.ClipIndexPath(p.ID(), r.ID)

	var indexed bool
	found, err := remote.GetInto(ctx, e.remote, indexPath, &indexed)
	if err != nil {
		log.Warn("failed to check clip index", "error", err)
		reporter.Advance(metadataUnits)
		return metadataResult{outcome: pushFailed}
	}
	if found {
		// Published before. A missing row means another device deleted it.
		rows, err := e.remote.QueryByChildEquals(ctx, clipsPath, remote.ClipFieldID, r.ID)
		reporter.Advance(metadataUnits)
		switch {
		case err != nil:
			log.Warn("failed to look up indexed clip", "error", err)
			return metadataResult{outcome: pushFailed}
		case len(rows) == 0:
			log.Info("clip was deleted remotely, dropping local copy")
			return metadataResult{outcome: pushTombstoned}
		default:
			return metadataResult{outcome: pushDone}
		}
	}

	key, err := e.remote.AppendChild(ctx, clipsPath, remote.ClipDoc{
		ID:        r.ID,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Creator:   r.CreatorID,
	})
	if err != nil {
		log.Warn("failed to push clip metadata", "error", err)
		reporter.Advance(metadataUnits)
		return metadataResult{outcome: pushFailed}
	}
	if err := e.remote.Set(ctx, indexPath, true); err != nil {
		log.Warn("failed to write clip index, rolling back metadata row", "error", err)
		if derr := e.remote.Delete(ctx, remote.Join(clipsPath, key)); derr != nil {
			log.Error("failed to roll back metadata row", "key", key, "error", derr)
		}
		reporter.Advance(metadataUnits)
		return metadataResult{outcome: pushFailed}
	}
	reporter.Advance(1)

	res := metadataResult{outcome: pushDone}
	if len(r.Thumbnail) > 0 {
		err := e.remote.PutBlob(ctx, remote.ThumbnailPath(r.ID), bytes.NewReader(r.Thumbnail), remote.ThumbnailContentType)
		if err != nil {
			log.Warn("thumbnail upload failed", "error", err)
			res.thumbnailFailed = true
		}
	}
	reporter.Advance(1)
	return res
}

// PushVideos uploads the video of every published clip whose video is still
// device-only.
func (e *Engine) PushVideos(ctx context.Context, p *project.Project) Report {
	var rep Report
	pending := p.Select(func(r clip.Record) bool {
		return r.NeedsVideoPush() && r.MetadataLocation == clip.DeviceAndRemote
	})
	p.Progress().Begin(labelPushVideos, len(pending), videoUnits)
	if len(pending) == 0 {
		return rep
	}

	errs := make([]error, len(pending))
	e.fanOut(len(pending), func(i int) {
		errs[i] = e.uploadVideo(ctx, pending[i].ID)
		p.Progress().Advance(videoUnits)
	})

	log := e.projectLogger(p)
	for i, r := range pending {
		if errs[i] != nil {
			log.Warn("video upload failed", "clip_id", r.ID, "error", errs[i])
			rep.VideosFailed++
			e.metrics.item("push_video", "failed")
			continue
		}
		if err := p.Update(r.ID, (*clip.Record).VideoPushed); err != nil {
			log.Warn("failed to record video push", "clip_id", r.ID, "error", err)
			continue
		}
		rep.VideosPushed++
		e.metrics.item("push_video", "ok")
	}
	return rep
}

func (e *Engine) uploadVideo(ctx context.Context, id string) error {
	f, err := os.Open(e.paths.FinalPath(id))
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()
	return e.remote.PutBlob(ctx, remote.VideoPath(id), f, remote.VideoContentType)
}
