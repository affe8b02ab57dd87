// Package clip defines the clip record and the lifecycle rules that govern
// where a clip's metadata and video currently live.
package clip

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusTemporary Status = "temporary"
	StatusFinal     Status = "final"
	StatusInvalid   Status = "invalid"
)

// Location says on which side(s) an asset currently exists.
type Location string

const (
	DeviceOnly      Location = "device_only"
	RemoteOnly      Location = "remote_only"
	DeviceAndRemote Location = "device_and_remote"
)

func (l Location) OnDevice() bool {
	return l == DeviceOnly || l == DeviceAndRemote
}

func (l Location) OnRemote() bool {
	return l == RemoteOnly || l == DeviceAndRemote
}

type Record struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	Timestamp        time.Time `json:"timestamp"`
	CreatorID        string    `json:"creator_id"`
	Status           Status    `json:"status"`
	Seen             bool      `json:"seen"`
	MetadataLocation Location  `json:"metadata_location"`
	VideoLocation    Location  `json:"video_location"`
	Thumbnail        []byte    `json:"-"`
}

// New creates the record for a recording that is just starting.
func New(projectID, creatorID string, now time.Time) Record {
	return Record{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Timestamp:        now.UTC(),
		CreatorID:        creatorID,
		Status:           StatusTemporary,
		MetadataLocation: DeviceOnly,
		VideoLocation:    DeviceOnly,
	}
}

// FromRemote creates the record for a clip discovered in the remote collection
// whose video has not been downloaded yet.
func FromRemote(projectID, id, creatorID string, ts time.Time) Record {
	return Record{
		ID:               id,
		ProjectID:        projectID,
		Timestamp:        ts.UTC(),
		CreatorID:        creatorID,
		Status:           StatusFinal,
		MetadataLocation: DeviceAndRemote,
		VideoLocation:    RemoteOnly,
	}
}

// Unseen reports whether the clip counts toward the project's unseen badge.
func (r Record) Unseen() bool {
	return r.Status == StatusFinal && !r.Seen
}

func (r Record) NeedsMetadataPush() bool {
	return r.Status == StatusFinal && r.MetadataLocation == DeviceOnly
}

func (r Record) NeedsVideoPush() bool {
	return r.Status == StatusFinal && r.VideoLocation == DeviceOnly
}

// ExemptFromReconciliation reports whether a clip missing from the remote
// collection must be kept anyway: it was never published from this device, or
// its video upload has not completed.
func (r Record) ExemptFromReconciliation() bool {
	return r.Status == StatusTemporary ||
		r.MetadataLocation == DeviceOnly ||
		r.VideoLocation == DeviceOnly
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	if r.Thumbnail != nil {
		r.Thumbnail = append([]byte(nil), r.Thumbnail...)
	}
	return r
}
