package syncer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
)

func TestDeleteClip_PublishedClip(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	c := d.record(t, p, 0)
	require.NoError(t, p.SetThumbnail(c.ID, []byte{9}))
	_, err := d.engine.NetworkAwareUpload(ctx, p, true)
	require.NoError(t, err)

	require.NoError(t, d.engine.DeleteClip(ctx, p, c.ID))

	_, ok := p.Clip(c.ID)
	require.False(t, ok)
	require.Zero(t, p.UnseenCount())
	require.False(t, d.paths.HasVideo(c.ID))
	require.Empty(t, remoteClips(t, store, "p1"))
	_, _, ok = store.Blob(remote.VideoPath(c.ID))
	require.False(t, ok)
	_, _, ok = store.Blob(remote.ThumbnailPath(c.ID))
	require.False(t, ok)

	var indexed bool
	found, err := remote.GetInto(ctx, store, remote.ClipIndexPath("p1", c.ID), &indexed)
	require.NoError(t, err)
	require.True(t, found)

	events := d.events.Events()
	require.Equal(t, notify.ClipDeleted, events[len(events)-1].Type)
	require.Equal(t, []string{c.ID}, events[len(events)-1].ClipIDs)
}

func TestDeleteClip_LocalOnlyClipNeedsNoNetwork(t *testing.T) {
	store := remote.NewMemory()
	store.Fail = func(op remote.Op, path string) error { return errNetwork }
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	c := d.record(t, p, 0)

	require.NoError(t, d.engine.DeleteClip(context.Background(), p, c.ID))
	require.Zero(t, store.Calls(remote.OpQuery))
	require.Zero(t, p.ClipCount())
}

func TestDeleteClip_RemoteFailureKeepsLocalClip(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	c := d.record(t, p, 0)
	_, err := d.engine.NetworkAwareUpload(ctx, p, true)
	require.NoError(t, err)

	store.Fail = func(op remote.Op, path string) error {
		if op == remote.OpDelete {
			return errNetwork
		}
		return nil
	}
	err = d.engine.DeleteClip(ctx, p, c.ID)
	require.ErrorIs(t, err, errNetwork)
	_, ok := p.Clip(c.ID)
	require.True(t, ok)
	require.True(t, d.paths.HasVideo(c.ID))
}

func TestDeleteClip_IndexedBeforeLocalSave(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	c := d.record(t, p, 0)
	_, err := store.AppendChild(ctx, remote.ClipsPath("p1"), remote.ClipDoc{
		ID: c.ID, Timestamp: c.Timestamp.Format(time.RFC3339Nano), Creator: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, remote.ClipIndexPath("p1", c.ID), true))
	require.Equal(t, clip.DeviceOnly, c.MetadataLocation)

	require.NoError(t, d.engine.DeleteClip(ctx, p, c.ID))

	require.Empty(t, remoteClips(t, store, "p1"))
	_, ok := p.Clip(c.ID)
	require.False(t, ok)

	fresh, _, err := d.engine.PullClipMetadata(ctx, p)
	require.NoError(t, err)
	require.Empty(t, fresh)
}

func TestDeleteClip_WaitsForRunningPass(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	c := d.record(t, p, 0)

	started := make(chan struct{})
	unblock := make(chan struct{})
	var blocked atomic.Bool
	store.Fail = func(op remote.Op, path string) error {
		if op == remote.OpGet && blocked.CompareAndSwap(false, true) {
			close(started)
			<-unblock
		}
		return nil
	}

	passDone := make(chan error, 1)
	go func() {
		_, err := d.engine.NetworkAwareUpload(ctx, p, false)
		passDone <- err
	}()
	<-started

	deleted := make(chan error, 1)
	go func() {
		deleted <- d.engine.DeleteClip(ctx, p, c.ID)
	}()

	select {
	case err := <-deleted:
		t.Fatalf("DeleteClip returned %v while a pass was running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-passDone)
	require.NoError(t, <-deleted)
	_, ok := p.Clip(c.ID)
	require.False(t, ok)
	require.Empty(t, remoteClips(t, store, "p1"))
}

func TestDeleteClip_WaitHonorsContext(t *testing.T) {
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	c := d.record(t, p, 0)

	release, err := d.engine.acquire(p)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.engine.DeleteClip(ctx, p, c.ID), context.DeadlineExceeded)
	_, ok := p.Clip(c.ID)
	require.True(t, ok)
}

func TestDeleteClip_Unknown(t *testing.T) {
	d := newDevice(t, remote.NewMemory(), "u1")
	err := d.engine.DeleteClip(context.Background(), newProject("p1", "u1"), "nope")
	require.ErrorIs(t, err, project.ErrClipNotFound)
}

func TestUpgrade_UnlocksClipLimit(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	d.record(t, p, 0)
	d.record(t, p, timeOffset(1))
	require.False(t, p.CanAddClip())
	before := p.Clips()

	require.NoError(t, d.engine.Upgrade(ctx, p))

	require.True(t, p.CanAddClip())
	require.Equal(t, project.TierUpgraded, p.Tier())
	require.Equal(t, before, p.Clips())

	var tier string
	_, err := remote.GetInto(ctx, store, remote.ProjectPath("p1", remote.FieldTier), &tier)
	require.NoError(t, err)
	require.Equal(t, "upgraded", tier)
}

func TestUpgrade_RemoteFailureDoesNotMirror(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")
	require.NoError(t, d.engine.EnsureProject(ctx, p))

	store.Fail = func(op remote.Op, path string) error {
		if op == remote.OpSet {
			return errNetwork
		}
		return nil
	}
	require.ErrorIs(t, d.engine.Upgrade(ctx, p), errNetwork)
	require.Equal(t, project.TierFree, p.Tier())
}

func TestOwnerOnlySettings(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	guest := newDevice(t, store, "u2")
	p := newProject("p1", "u1")

	require.ErrorIs(t, guest.engine.Upgrade(ctx, p), ErrNotOwner)
	require.ErrorIs(t, guest.engine.SetInviteEnabled(ctx, p, true), ErrNotOwner)
	require.Zero(t, store.Calls(remote.OpSet))
	require.Equal(t, project.TierFree, p.Tier())
	require.False(t, p.InviteEnabled())
}

func TestSetInviteEnabled(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")

	require.NoError(t, d.engine.SetInviteEnabled(ctx, p, true))
	require.True(t, p.InviteEnabled())

	var enabled bool
	_, err := remote.GetInto(ctx, store, remote.ProjectPath("p1", remote.FieldInviteEnabled), &enabled)
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestPass_NotReentrant(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	p := newProject("p1", "u1")

	started := make(chan struct{})
	unblock := make(chan struct{})
	var blocked atomic.Bool
	store.Fail = func(op remote.Op, path string) error {
		if op == remote.OpGet && blocked.CompareAndSwap(false, true) {
			close(started)
			<-unblock
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.engine.NetworkAwareUpload(ctx, p, false)
		done <- err
	}()
	<-started

	_, err := d.engine.NetworkAwareDownload(ctx, p, false)
	require.ErrorIs(t, err, ErrSyncInProgress)

	_, err = d.engine.NetworkAwareUpload(ctx, newProject("p2", "u1"), false)
	require.NoError(t, err, "other projects are not blocked")

	close(unblock)
	require.NoError(t, <-done)

	_, err = d.engine.NetworkAwareDownload(ctx, p, false)
	require.NoError(t, err)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	d.engine.metrics = metrics
	p := newProject("p1", "u1")
	d.record(t, p, 0)

	_, err := d.engine.Sync(ctx, p, SyncOptions{Videos: true})
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.items.WithLabelValues("push_metadata", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.items.WithLabelValues("push_video", "ok")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.progress.WithLabelValues("p1")))
	require.Equal(t, 2, testutil.CollectAndCount(metrics.passes))
}

func TestForget_DropsDiscardedProject(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics(prometheus.NewRegistry())
	store := remote.NewMemory()
	d := newDevice(t, store, "u1")
	d.engine.metrics = metrics

	kept := newProject("p1", "u1")
	_, err := d.engine.NetworkAwareUpload(ctx, kept, false)
	require.NoError(t, err)

	rejected := joinedProject("p1")
	_, err = d.engine.NetworkAwareDownload(ctx, rejected, false)
	require.NoError(t, err)
	require.Len(t, d.engine.observed, 1)
	require.Same(t, rejected, d.engine.observed["p1"])

	d.engine.Forget(rejected)
	require.Empty(t, d.engine.observed)
	require.Zero(t, testutil.CollectAndCount(metrics.progress))

	d.engine.Forget(kept)
	require.Empty(t, d.engine.observed)
}

func TestSync_TwoDevicesConverge(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	a := newDevice(t, store, "alice")
	b := newDevice(t, store, "bob")
	opts := SyncOptions{Videos: true}

	pa := newProject("trip", "alice")
	x := a.record(t, pa, 0)
	y := a.record(t, pa, timeOffset(1))
	_, err := a.engine.Sync(ctx, pa, opts)
	require.NoError(t, err)

	pb := joinedProject("trip")
	rep, err := b.engine.Sync(ctx, pb, opts)
	require.NoError(t, err)
	require.Equal(t, 2, rep.ClipsDiscovered)
	require.Equal(t, 2, rep.VideosPulled)
	require.Equal(t, "alice", pb.OwnerID())
	require.Equal(t, "Road trip", pb.Name())
	for _, id := range []string{x.ID, y.ID} {
		c, ok := pb.Clip(id)
		require.True(t, ok)
		require.Equal(t, clip.DeviceAndRemote, c.VideoLocation)
		require.True(t, b.paths.HasVideo(id))
	}
	require.False(t, pb.CanInviteMembers(), "free tier roster is full with two creators")

	// Alice deletes X; Bob learns on his next pull.
	require.NoError(t, a.engine.DeleteClip(ctx, pa, x.ID))
	_, err = b.engine.Sync(ctx, pb, opts)
	require.NoError(t, err)
	_, ok := pb.Clip(x.ID)
	require.False(t, ok)
	require.False(t, b.paths.HasVideo(x.ID))

	// Bob publishes Z; Alice picks it up.
	z := b.record(t, pb, timeOffset(2))
	_, err = b.engine.Sync(ctx, pb, opts)
	require.NoError(t, err)
	_, err = a.engine.Sync(ctx, pa, opts)
	require.NoError(t, err)

	idsOf := func(p *project.Project) []string {
		var ids []string
		for _, c := range p.Clips() {
			ids = append(ids, c.ID)
		}
		return ids
	}
	require.Equal(t, []string{y.ID, z.ID}, idsOf(pa))
	require.Equal(t, idsOf(pa), idsOf(pb))
	require.Equal(t, countUnseen(pa), pa.UnseenCount())
	require.Equal(t, countUnseen(pb), pb.UnseenCount())

	// A second pull without remote changes is a no-op.
	rep, err = a.engine.NetworkAwareDownload(ctx, pa, true)
	require.NoError(t, err)
	require.Zero(t, rep.ClipsDiscovered)
	require.Zero(t, rep.Deleted)
	require.Equal(t, 2, pa.ClipCount())
}
