// Package project holds the in-memory project record: the clip arena, the
// creator roster, the tier and the counters the UI observes.
package project

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/progress"
)

// Project exclusively owns its clips, keyed by id, with a maintained
// timestamp order. Readers get copies; nothing outside the package holds a
// pointer into the arena.
type Project struct {
	mu sync.RWMutex

	id            string
	name          string
	ownerID       string
	creators      map[string]string
	tier          Tier
	inviteEnabled bool
	createdAt     time.Time
	limits        TierLimits

	clips  map[string]*clip.Record
	order  []string
	unseen int

	progress    *progress.Reporter
	subscribers map[chan struct{}]struct{}
}

type Options struct {
	ID            string
	Name          string
	OwnerID       string
	Tier          Tier
	InviteEnabled bool
	CreatedAt     time.Time
	Creators      map[string]string
	Limits        TierLimits
}

func New(opts Options) *Project {
	if opts.Tier == "" {
		opts.Tier = TierFree
	}
	if opts.Limits == nil {
		opts.Limits = DefaultTierLimits()
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = time.Now().UTC()
	}
	p := &Project{
		id:            opts.ID,
		name:          opts.Name,
		ownerID:       opts.OwnerID,
		creators:      make(map[string]string, len(opts.Creators)),
		tier:          opts.Tier,
		inviteEnabled: opts.InviteEnabled,
		createdAt:     opts.CreatedAt,
		limits:        opts.Limits,
		clips:         make(map[string]*clip.Record),
		progress:      progress.NewReporter(),
		subscribers:   make(map[chan struct{}]struct{}),
	}
	maps.Copy(p.creators, opts.Creators)
	p.progress.Observe(func(progress.State) { p.broadcast() })
	return p
}

func (p *Project) ID() string { return p.id }

func (p *Project) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *Project) OwnerID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ownerID
}

func (p *Project) Tier() Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tier
}

func (p *Project) InviteEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inviteEnabled
}

func (p *Project) CreatedAt() time.Time { return p.createdAt }

// Progress is the project's unit-of-work reporter.
func (p *Project) Progress() *progress.Reporter { return p.progress }

func (p *Project) Creators() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.creators)
}

func (p *Project) IsOwner(identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return identity != "" && identity == p.ownerID
}

func (p *Project) Limits() Limits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limits.For(p.tier)
}

func (p *Project) CanAddClip() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clips) < p.limits.For(p.tier).ClipLimit
}

func (p *Project) CanInviteMembers() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.creators) < p.limits.For(p.tier).MemberLimit
}

func (p *Project) SetName(name string) {
	p.mutate(func() { p.name = name })
}

func (p *Project) SetTier(t Tier) {
	p.mutate(func() { p.tier = t })
}

func (p *Project) SetInviteEnabled(enabled bool) {
	p.mutate(func() { p.inviteEnabled = enabled })
}

func (p *Project) SetOwner(ownerID string) {
	p.mutate(func() { p.ownerID = ownerID })
}

// MergeCreators overlays remote roster entries. Keys missing remotely are kept:
// the roster only grows.
func (p *Project) MergeCreators(remote map[string]string) {
	p.mutate(func() { maps.Copy(p.creators, remote) })
}

func (p *Project) SetCreator(id, displayName string) {
	p.mutate(func() { p.creators[id] = displayName })
}

// AddClip inserts a single clip and keeps the display order.
func (p *Project) AddClip(r clip.Record) error {
	var err error
	p.mutate(func() {
		if _, ok := p.clips[r.ID]; ok {
			err = fmt.Errorf("%w: %s", ErrDuplicateClip, r.ID)
			return
		}
		p.insert(r)
		p.sort()
	})
	return err
}

// AppendClips inserts a batch, skipping ids already present (including
// duplicates within the batch), and sorts once. It returns the inserted clips.
func (p *Project) AppendClips(recs []clip.Record) []clip.Record {
	var added []clip.Record
	p.mutate(func() {
		for _, r := range recs {
			if _, ok := p.clips[r.ID]; ok {
				continue
			}
			p.insert(r)
			added = append(added, r.Clone())
		}
		if len(added) > 0 {
			p.sort()
		}
	})
	return added
}

// RemoveClip deletes a clip from the arena.
func (p *Project) RemoveClip(id string) (clip.Record, bool) {
	var removed clip.Record
	var ok bool
	p.mutate(func() {
		r, found := p.clips[id]
		if !found {
			return
		}
		removed, ok = *r, true
		if r.Unseen() {
			p.unseen--
		}
		delete(p.clips, id)
		p.order = slices.DeleteFunc(p.order, func(x string) bool { return x == id })
	})
	return removed, ok
}

// Update applies fn to the stored clip. If fn fails the clip is left untouched.
func (p *Project) Update(id string, fn func(r *clip.Record) error) error {
	var err error
	p.mutate(func() {
		r, ok := p.clips[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrClipNotFound, id)
			return
		}
		next := *r
		if err = fn(&next); err != nil {
			return
		}
		if r.Unseen() {
			p.unseen--
		}
		if next.Unseen() {
			p.unseen++
		}
		*r = next
	})
	return err
}

func (p *Project) MarkSeen(id string) error {
	return p.Update(id, func(r *clip.Record) error {
		r.Seen = true
		return nil
	})
}

func (p *Project) SetThumbnail(id string, data []byte) error {
	return p.Update(id, func(r *clip.Record) error {
		r.Thumbnail = append([]byte(nil), data...)
		return nil
	})
}

// PurgeInvalid removes every invalid clip and returns their ids.
func (p *Project) PurgeInvalid() []string {
	var purged []string
	p.mutate(func() {
		for _, id := range p.order {
			if p.clips[id].Status == clip.StatusInvalid {
				purged = append(purged, id)
				delete(p.clips, id)
			}
		}
		if len(purged) > 0 {
			p.order = slices.DeleteFunc(p.order, func(x string) bool {
				_, ok := p.clips[x]
				return !ok
			})
		}
	})
	return purged
}

func (p *Project) Clip(id string) (clip.Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.clips[id]
	if !ok {
		return clip.Record{}, false
	}
	return r.Clone(), true
}

// Clips returns copies of all clips in display order.
func (p *Project) Clips() []clip.Record {
	return p.Select(func(clip.Record) bool { return true })
}

// Select returns copies of the clips matching pred, in display order.
func (p *Project) Select(pred func(clip.Record) bool) []clip.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []clip.Record
	for _, id := range p.order {
		if r := p.clips[id]; pred(*r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (p *Project) ClipIDs() map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make(map[string]struct{}, len(p.clips))
	for id := range p.clips {
		ids[id] = struct{}{}
	}
	return ids
}

func (p *Project) ClipCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clips)
}

func (p *Project) UnseenCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unseen
}

// RecountUnseen recomputes the unseen counter from the clips.
func (p *Project) RecountUnseen() int {
	var n int
	p.mutate(func() {
		p.unseen = 0
		for _, r := range p.clips {
			if r.Unseen() {
				p.unseen++
			}
		}
		n = p.unseen
	})
	return n
}

// Subscribe returns a channel that receives a signal after changes. Signals
// coalesce: a slow reader sees at most one pending notification.
func (p *Project) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

func (p *Project) Unsubscribe(ch <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.subscribers {
		if c == ch {
			delete(p.subscribers, c)
			close(c)
			return
		}
	}
}

func (p *Project) insert(r clip.Record) {
	c := r.Clone()
	p.clips[c.ID] = &c
	p.order = append(p.order, c.ID)
	if c.Unseen() {
		p.unseen++
	}
}

func (p *Project) sort() {
	slices.SortStableFunc(p.order, func(a, b string) int {
		if c := p.clips[a].Timestamp.Compare(p.clips[b].Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
}

func (p *Project) mutate(fn func()) {
	p.mu.Lock()
	fn()
	p.mu.Unlock()
	p.broadcast()
}

func (p *Project) broadcast() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch := range p.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
