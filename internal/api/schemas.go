package api

import (
	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/syncer"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State         string `json:"state"`
	LastError     string `json:"last_error,omitempty"`
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	ProjectsCount int    `json:"projects_count"`
	UnseenCount   int    `json:"unseen_count"`
	SyncsRunning  int    `json:"syncs_running"`
	Paused        bool   `json:"paused"`
}

type ProjectsResponse struct {
	Projects []project.Snapshot `json:"projects"`
}

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type JoinProjectRequest struct {
	ProjectID string `json:"project_id"`
}

type InviteRequest struct {
	Enabled *bool `json:"enabled"`
}

type ClipResponse struct {
	ID               string        `json:"id"`
	ProjectID        string        `json:"project_id"`
	Timestamp        string        `json:"timestamp"`
	CreatorID        string        `json:"creator_id"`
	Status           clip.Status   `json:"status"`
	Seen             bool          `json:"seen"`
	MetadataLocation clip.Location `json:"metadata_location"`
	VideoLocation    clip.Location `json:"video_location"`
	HasThumbnail     bool          `json:"has_thumbnail"`
	// RecordingPath is where the recorder must write; set while recording.
	RecordingPath string `json:"recording_path,omitempty"`
}

type SyncResponse struct {
	Report  syncer.Report    `json:"report"`
	Project project.Snapshot `json:"project"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ClipToResponse(c clip.Record, recordingPath string) ClipResponse {
	resp := ClipResponse{
		ID:               c.ID,
		ProjectID:        c.ProjectID,
		Timestamp:        c.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		CreatorID:        c.CreatorID,
		Status:           c.Status,
		Seen:             c.Seen,
		MetadataLocation: c.MetadataLocation,
		VideoLocation:    c.VideoLocation,
		HasThumbnail:     len(c.Thumbnail) > 0,
	}
	if c.Status == clip.StatusTemporary {
		resp.RecordingPath = recordingPath
	}
	return resp
}
