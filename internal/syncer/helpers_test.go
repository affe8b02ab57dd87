package syncer

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
)

var baseTime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type device struct {
	engine *Engine
	paths  clip.Paths
	events *recordingPublisher
}

func newDevice(t *testing.T, store remote.Store, userID string) *device {
	t.Helper()
	paths := clip.NewPaths(t.TempDir())
	events := &recordingPublisher{}
	return &device{
		engine: New(Config{
			Remote:    store,
			Paths:     paths,
			Identity:  Identity{UserID: userID, DisplayName: "name-" + userID, DeviceID: "dev-" + userID},
			Logger:    logging.Discard(),
			Publisher: events,
		}),
		paths:  paths,
		events: events,
	}
}

func newProject(id, owner string) *project.Project {
	return project.New(project.Options{
		ID:       id,
		Name:     "Road trip",
		OwnerID:  owner,
		Creators: map[string]string{owner: "name-" + owner},
	})
}

// joinedProject is the local shell a non-owner starts from.
func joinedProject(id string) *project.Project {
	return project.New(project.Options{ID: id})
}

// record simulates a finished recording: a final clip with a video on disk.
func (d *device) record(t *testing.T, p *project.Project, offset time.Duration) clip.Record {
	t.Helper()
	c := clip.New(p.ID(), d.engine.Identity().UserID, baseTime.Add(offset))
	require.NoError(t, c.Finalize())
	require.NoError(t, os.WriteFile(d.paths.FinalPath(c.ID), []byte("video-"+c.ID), 0644))
	require.NoError(t, p.AddClip(c))
	return c
}

func remoteClips(t *testing.T, store remote.Tree, projectID string) map[string]remote.ClipDoc {
	t.Helper()
	var rows map[string]remote.ClipDoc
	_, err := remote.GetInto(context.Background(), store, remote.ClipsPath(projectID), &rows)
	require.NoError(t, err)
	return rows
}

func remoteClipIDs(t *testing.T, store remote.Tree, projectID string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, doc := range remoteClips(t, store, projectID) {
		ids[doc.ID] = struct{}{}
	}
	return ids
}

// seedRemoteClip writes a clip row, index entry and optional blobs as
// another device would have.
func seedRemoteClip(t *testing.T, store *remote.Memory, projectID, id string, ts time.Time, video, thumb []byte) {
	t.Helper()
	ctx := context.Background()
	_, err := store.AppendChild(ctx, remote.ClipsPath(projectID), remote.ClipDoc{
		ID: id, Timestamp: ts.Format(time.RFC3339Nano), Creator: "other",
	})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, remote.ClipIndexPath(projectID, id), true))
	if video != nil {
		require.NoError(t, store.PutBlob(ctx, remote.VideoPath(id), bytesReader(video), remote.VideoContentType))
	}
	if thumb != nil {
		require.NoError(t, store.PutBlob(ctx, remote.ThumbnailPath(id), bytesReader(thumb), remote.ThumbnailContentType))
	}
}

func countUnseen(p *project.Project) int {
	n := 0
	for _, c := range p.Clips() {
		if c.Status == clip.StatusFinal && !c.Seen {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func timeOffset(i int) time.Duration {
	return time.Duration(i) * time.Second
}
