package project

import (
	"maps"
	"time"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/progress"
)

// ClipView is the read-only clip shape handed to observers.
type ClipView struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	CreatorID        string        `json:"creator_id"`
	Status           clip.Status   `json:"status"`
	Seen             bool          `json:"seen"`
	MetadataLocation clip.Location `json:"metadata_location"`
	VideoLocation    clip.Location `json:"video_location"`
	HasThumbnail     bool          `json:"has_thumbnail"`
}

type Snapshot struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	OwnerID          string            `json:"owner_id"`
	Creators         map[string]string `json:"creators"`
	Tier             Tier              `json:"tier"`
	InviteEnabled    bool              `json:"invite_enabled"`
	Limits           Limits            `json:"limits"`
	CanAddClip       bool              `json:"can_add_clip"`
	CanInviteMembers bool              `json:"can_invite_members"`
	UnseenCount      int               `json:"unseen_count"`
	Progress         progress.State    `json:"progress"`
	Clips            []ClipView        `json:"clips"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Snapshot copies the project's observable state.
func (p *Project) Snapshot() Snapshot {
	// Read progress before taking the project lock; the reporter notifies
	// back into the project while holding its own lock.
	prog := p.progress.State()

	p.mu.RLock()
	defer p.mu.RUnlock()

	limits := p.limits.For(p.tier)
	s := Snapshot{
		ID:               p.id,
		Name:             p.name,
		OwnerID:          p.ownerID,
		Creators:         maps.Clone(p.creators),
		Tier:             p.tier,
		InviteEnabled:    p.inviteEnabled,
		Limits:           limits,
		CanAddClip:       len(p.clips) < limits.ClipLimit,
		CanInviteMembers: len(p.creators) < limits.MemberLimit,
		UnseenCount:      p.unseen,
		Progress:         prog,
		Clips:            make([]ClipView, 0, len(p.order)),
		CreatedAt:        p.createdAt,
	}
	for _, id := range p.order {
		r := p.clips[id]
		s.Clips = append(s.Clips, ClipView{
			ID:               r.ID,
			Timestamp:        r.Timestamp,
			CreatorID:        r.CreatorID,
			Status:           r.Status,
			Seen:             r.Seen,
			MetadataLocation: r.MetadataLocation,
			VideoLocation:    r.VideoLocation,
			HasThumbnail:     len(r.Thumbnail) > 0,
		})
	}
	return s
}
