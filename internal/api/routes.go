package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelsync/reelsync-agent/internal/config"
	"github.com/reelsync/reelsync-agent/internal/playback"
	"github.com/reelsync/reelsync-agent/internal/project"
	"github.com/reelsync/reelsync-agent/internal/service"
	"github.com/reelsync/reelsync-agent/internal/syncer"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Media is fetched by <video> and <img> elements, which cannot send a
	// bearer token; it is restricted to local callers instead.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/projects/{id}/clips/{clipID}/video", videoHandler(cfg))
		r.Head("/projects/{id}/clips/{clipID}/video", videoHandler(cfg))
		r.Get("/projects/{id}/clips/{clipID}/thumbnail", thumbnailHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Post("/projects/join", joinProjectHandler(cfg))
		r.Get("/projects/{id}", getProjectHandler(cfg))
		r.Post("/projects/{id}/clips", startClipHandler(cfg))
		r.Post("/projects/{id}/clips/{clipID}/end", endClipHandler(cfg))
		r.Post("/projects/{id}/clips/{clipID}/seen", markSeenHandler(cfg))
		r.Delete("/projects/{id}/clips/{clipID}", deleteClipHandler(cfg))
		r.Post("/projects/{id}/sync", syncHandler(cfg))
		r.Post("/projects/{id}/upgrade", upgradeHandler(cfg))
		r.Put("/projects/{id}/invite", inviteHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects := cfg.Service.ListProjects()
		id := cfg.Service.Identity()

		resp := StatusResponse{
			State:         "idle",
			UserID:        id.UserID,
			DisplayName:   id.DisplayName,
			ProjectsCount: len(projects),
		}
		for _, p := range projects {
			resp.UnseenCount += p.UnseenCount()
			if p.Progress().State().Active() {
				resp.SyncsRunning++
			}
		}
		if cfg.Runner != nil {
			resp.LastError = cfg.Runner.LastError()
			resp.Paused = cfg.Runner.IsPaused()
		}

		switch {
		case resp.SyncsRunning > 0:
			resp.State = "syncing"
		case resp.Paused:
			resp.State = "paused"
		case resp.LastError != "":
			resp.State = "error"
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects := cfg.Service.ListProjects()
		resp := ProjectsResponse{Projects: make([]project.Snapshot, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = p.Snapshot()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, err := cfg.Service.CreateProject(r.Context(), req.Name)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p.Snapshot())
	}
}

func joinProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.ProjectID == "" {
			WriteError(w, http.StatusBadRequest, "project_id is required", "BAD_REQUEST")
			return
		}

		p, err := cfg.Service.JoinProject(r.Context(), req.ProjectID)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, p.Snapshot())
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.Service.Project(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, p.Snapshot())
	}
}

func startClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cfg.Service.StartClip(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipToResponse(c, cfg.Service.Paths().TemporaryPath(c.ID)))
	}
}

func endClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cfg.Service.EndClip(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "clipID"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(c, ""))
	}
}

func markSeenHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Service.MarkSeen(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "clipID")); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Service.DeleteClip(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "clipID")); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func syncHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rep, err := cfg.Service.Sync(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		p, err := cfg.Service.Project(id)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, SyncResponse{Report: rep, Project: p.Snapshot()})
	}
}

func upgradeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Service.Upgrade(r.Context(), id); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		getProjectHandler(cfg)(w, r)
	}
}

func inviteHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			WriteError(w, http.StatusBadRequest, "enabled is required", "BAD_REQUEST")
			return
		}
		if err := cfg.Service.SetInviteEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		getProjectHandler(cfg)(w, r)
	}
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, clipID := chi.URLParam(r, "id"), chi.URLParam(r, "clipID")
		path, err := cfg.Service.FetchVideo(r.Context(), projectID, clipID)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		err = cfg.PlaybackServer.ServeFile(w, r, path)
		if errors.Is(err, playback.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "video file missing", "VIDEO_MISSING")
			return
		}
		if err != nil {
			cfg.Logger.Error("playback error", "error", err, "clip_id", clipID)
			WriteError(w, http.StatusInternalServerError, "playback failed", "INTERNAL_ERROR")
		}
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := cfg.Service.Thumbnail(chi.URLParam(r, "id"), chi.URLParam(r, "clipID"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if len(data) == 0 {
			WriteError(w, http.StatusNotFound, "clip has no thumbnail", "NO_THUMBNAIL")
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// writeServiceError maps command errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, cfg ServerConfig, err error) {
	var precondition *syncer.PreconditionError
	switch {
	case errors.Is(err, service.ErrProjectNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "PROJECT_NOT_FOUND")
	case errors.Is(err, project.ErrClipNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "CLIP_NOT_FOUND")
	case errors.Is(err, service.ErrInvalidName):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, syncer.ErrSyncInProgress):
		WriteError(w, http.StatusConflict, err.Error(), "SYNC_IN_PROGRESS")
	case errors.Is(err, project.ErrClipLimit):
		WriteError(w, http.StatusConflict, err.Error(), "CLIP_LIMIT")
	case errors.Is(err, service.ErrMemberLimit):
		WriteError(w, http.StatusConflict, err.Error(), "MEMBER_LIMIT")
	case errors.Is(err, service.ErrNotRecording):
		WriteError(w, http.StatusConflict, err.Error(), "NOT_RECORDING")
	case errors.Is(err, service.ErrRecordingMissing):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "RECORDING_MISSING")
	case errors.Is(err, syncer.ErrNotOwner):
		WriteError(w, http.StatusForbidden, err.Error(), "NOT_OWNER")
	case errors.Is(err, service.ErrInvitesDisabled):
		WriteError(w, http.StatusForbidden, err.Error(), "INVITES_DISABLED")
	case errors.Is(err, syncer.ErrVideoUnavailable):
		WriteError(w, http.StatusBadGateway, err.Error(), "VIDEO_UNAVAILABLE")
	case errors.As(err, &precondition):
		WriteError(w, http.StatusBadGateway, err.Error(), "REMOTE_UNAVAILABLE")
	default:
		cfg.Logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}
