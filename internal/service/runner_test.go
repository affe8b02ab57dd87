package service

import (
	"context"
	"testing"
	"time"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/remote"
)

func startRunner(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, r.IsRunning)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func pushed(p *project.Project) bool {
	clips := p.Clips()
	if len(clips) == 0 {
		return false
	}
	for _, c := range clips {
		if c.MetadataLocation != clip.DeviceAndRemote {
			return false
		}
	}
	return true
}

func TestRunner_SyncNow(t *testing.T) {
	d := newTestDevice(t, remote.NewMemory(), "u1")
	p, _ := d.svc.CreateProject(context.Background(), "Trip")
	d.record(t, p.ID())

	r := NewRunner(d.svc, 0, logging.Discard())
	startRunner(t, r)
	r.SyncNow()

	waitFor(t, func() bool { return pushed(p) })
	if r.LastError() != "" {
		t.Errorf("LastError = %q, want empty", r.LastError())
	}
}

func TestRunner_Interval(t *testing.T) {
	d := newTestDevice(t, remote.NewMemory(), "u1")
	p, _ := d.svc.CreateProject(context.Background(), "Trip")
	d.record(t, p.ID())

	r := NewRunner(d.svc, 20*time.Millisecond, logging.Discard())
	startRunner(t, r)

	waitFor(t, func() bool { return pushed(p) })
}

func TestRunner_HandleEvent(t *testing.T) {
	store := remote.NewMemory()
	owner := newTestDevice(t, store, "owner")
	guest := newTestDevice(t, store, "guest")
	ctx := context.Background()

	p, _ := owner.svc.CreateProject(ctx, "Wedding")
	if err := owner.svc.SetInviteEnabled(ctx, p.ID(), true); err != nil {
		t.Fatal(err)
	}
	joined, err := guest.svc.JoinProject(ctx, p.ID())
	if err != nil {
		t.Fatal(err)
	}

	c := owner.record(t, p.ID())
	if _, err := owner.svc.Sync(ctx, p.ID()); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(guest.svc, 0, logging.Discard())
	startRunner(t, r)
	r.HandleEvent(notify.Event{Type: notify.ClipsPublished, ProjectID: p.ID(), ClipIDs: []string{c.ID}})

	waitFor(t, func() bool {
		_, ok := joined.Clip(c.ID)
		return ok
	})
}

func TestRunner_PausedIgnoresTriggers(t *testing.T) {
	store := remote.NewMemory()
	d := newTestDevice(t, store, "u1")
	p, _ := d.svc.CreateProject(context.Background(), "Trip")
	d.record(t, p.ID())

	r := NewRunner(d.svc, 0, logging.Discard())
	startRunner(t, r)
	r.Pause()
	if !r.IsPaused() {
		t.Fatal("IsPaused = false after Pause")
	}
	r.SyncNow()
	time.Sleep(100 * time.Millisecond)

	if store.Calls(remote.OpSet) != 0 {
		t.Error("paused runner touched the remote")
	}

	r.Resume()
	r.SyncNow()
	waitFor(t, func() bool { return pushed(p) })
}

func TestRunner_UnknownProjectEventIgnored(t *testing.T) {
	store := remote.NewMemory()
	d := newTestDevice(t, store, "u1")

	r := NewRunner(d.svc, 0, logging.Discard())
	startRunner(t, r)
	r.HandleEvent(notify.Event{Type: notify.ProjectUpdated, ProjectID: "elsewhere"})
	time.Sleep(50 * time.Millisecond)

	if store.Calls(remote.OpGet) != 0 {
		t.Error("event for an unknown project should not sync")
	}
}

func TestRunner_StartTwice(t *testing.T) {
	d := newTestDevice(t, remote.NewMemory(), "u1")
	r := NewRunner(d.svc, 0, logging.Discard())
	startRunner(t, r)

	returned := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("second Start should return immediately")
	}
}
