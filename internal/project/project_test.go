package project

import (
	"errors"
	"testing"
	"time"

	"github.com/reelsync/reelsync-agent/internal/clip"
)

func newTestProject() *Project {
	return New(Options{ID: "proj-1", Name: "Trip", OwnerID: "owner"})
}

func finalClip(id string, ts time.Time) clip.Record {
	r := clip.New("proj-1", "owner", ts)
	r.ID = id
	r.Status = clip.StatusFinal
	return r
}

func countUnseen(p *Project) int {
	n := 0
	for _, c := range p.Clips() {
		if c.Unseen() {
			n++
		}
	}
	return n
}

func TestProject_AddClipKeepsOrder(t *testing.T) {
	p := newTestProject()
	base := time.Now()

	for _, c := range []clip.Record{
		finalClip("b", base.Add(2*time.Second)),
		finalClip("a", base),
		finalClip("c", base.Add(time.Second)),
	} {
		if err := p.AddClip(c); err != nil {
			t.Fatalf("AddClip(%s) error = %v", c.ID, err)
		}
	}

	got := p.Clips()
	want := []string{"a", "c", "b"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("clip[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	if err := p.AddClip(finalClip("a", base)); !errors.Is(err, ErrDuplicateClip) {
		t.Errorf("duplicate AddClip error = %v, want ErrDuplicateClip", err)
	}
}

func TestProject_AppendClipsDeduplicates(t *testing.T) {
	p := newTestProject()
	base := time.Now()
	p.AddClip(finalClip("a", base))

	added := p.AppendClips([]clip.Record{
		finalClip("a", base),
		finalClip("x", base.Add(-time.Second)),
		finalClip("x", base.Add(-time.Second)),
	})

	if len(added) != 1 || added[0].ID != "x" {
		t.Fatalf("added = %v, want only x", added)
	}
	if p.ClipCount() != 2 {
		t.Errorf("ClipCount() = %d, want 2", p.ClipCount())
	}
	if p.Clips()[0].ID != "x" {
		t.Error("batch should be sorted by timestamp")
	}
}

func TestProject_UnseenCounterInvariant(t *testing.T) {
	p := newTestProject()
	base := time.Now()

	temp := clip.New("proj-1", "owner", base)
	p.AddClip(temp)
	p.AddClip(finalClip("f1", base))
	p.AddClip(finalClip("f2", base))

	check := func(step string) {
		t.Helper()
		if p.UnseenCount() != countUnseen(p) {
			t.Fatalf("%s: UnseenCount() = %d, want %d", step, p.UnseenCount(), countUnseen(p))
		}
	}
	check("after add")

	if err := p.Update(temp.ID, (*clip.Record).Finalize); err != nil {
		t.Fatalf("Finalize error = %v", err)
	}
	check("after finalize")

	p.MarkSeen("f1")
	check("after seen")

	p.RemoveClip("f2")
	check("after remove")

	p.Update(temp.ID, func(r *clip.Record) error { r.Invalidate(); return nil })
	check("after invalidate")

	purged := p.PurgeInvalid()
	if len(purged) != 1 || purged[0] != temp.ID {
		t.Errorf("purged = %v, want [%s]", purged, temp.ID)
	}
	check("after purge")

	if p.UnseenCount() != 0 || p.RecountUnseen() != 0 {
		t.Errorf("UnseenCount() = %d, want 0", p.UnseenCount())
	}
}

func TestProject_UpdateFailureLeavesClip(t *testing.T) {
	p := newTestProject()
	r := clip.New("proj-1", "owner", time.Now())
	p.AddClip(r)

	err := p.Update(r.ID, (*clip.Record).VideoPushed)
	if !errors.Is(err, clip.ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
	got, _ := p.Clip(r.ID)
	if got.Status != clip.StatusTemporary {
		t.Errorf("Status = %s, want temporary", got.Status)
	}
	if err := p.Update("missing", (*clip.Record).Finalize); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("missing clip error = %v, want ErrClipNotFound", err)
	}
}

func TestProject_TierGating(t *testing.T) {
	p := newTestProject()
	p.AddClip(finalClip("a", time.Now()))
	if !p.CanAddClip() {
		t.Fatal("CanAddClip() = false with 1 of 2 clips")
	}
	p.AddClip(finalClip("b", time.Now()))
	if p.CanAddClip() {
		t.Fatal("CanAddClip() = true at the free limit")
	}

	before := p.Snapshot()
	p.SetTier(TierUpgraded)
	if !p.CanAddClip() {
		t.Error("CanAddClip() = false after upgrade")
	}
	after := p.Snapshot()
	if len(after.Clips) != len(before.Clips) || after.UnseenCount != before.UnseenCount {
		t.Error("upgrade must not change anything but the tier")
	}
}

func TestProject_RosterOnlyGrows(t *testing.T) {
	p := New(Options{ID: "p", OwnerID: "owner", Creators: map[string]string{"owner": "Ana", "local": "Bo"}})
	if p.CanInviteMembers() {
		t.Error("CanInviteMembers() = true with 2 of 2 members")
	}

	p.MergeCreators(map[string]string{"owner": "Ana B", "remote": "Cy"})
	got := p.Creators()
	if len(got) != 3 || got["owner"] != "Ana B" || got["local"] != "Bo" {
		t.Errorf("Creators() = %v", got)
	}
	if !p.IsOwner("owner") || p.IsOwner("local") || p.IsOwner("") {
		t.Error("IsOwner mismatch")
	}
}

func TestProject_SnapshotIsACopy(t *testing.T) {
	p := newTestProject()
	r := finalClip("a", time.Now())
	r.Thumbnail = []byte{0xff}
	p.AddClip(r)

	s := p.Snapshot()
	s.Creators["intruder"] = "x"
	s.Clips[0].Seen = true

	if _, ok := p.Creators()["intruder"]; ok {
		t.Error("snapshot creators alias project state")
	}
	if got, _ := p.Clip("a"); got.Seen {
		t.Error("snapshot clips alias project state")
	}
	if !s.Clips[0].HasThumbnail {
		t.Error("HasThumbnail = false")
	}
}

func TestProject_SubscribeCoalesces(t *testing.T) {
	p := newTestProject()
	ch := p.Subscribe()

	p.SetName("a")
	p.SetName("b")

	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	p.Progress().Begin("sync", 1, 1)
	select {
	case <-ch:
	default:
		t.Fatal("progress changes should signal subscribers")
	}

	p.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("channel should be closed after Unsubscribe")
	}
}
