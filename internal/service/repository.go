package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/project"
)

// Repository persists projects, their rosters and clips, and agent settings.
type Repository interface {
	SaveProject(ctx context.Context, p *project.Project) error
	LoadProjects(ctx context.Context, limits project.TierLimits) ([]*project.Project, error)
	DeleteProject(ctx context.Context, id string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveProject writes the project row, the roster and every clip, and drops
// clip rows that are no longer in the project.
func (r *SQLiteRepository) SaveProject(ctx context.Context, p *project.Project) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, owner_id, tier, invite_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			tier = excluded.tier,
			invite_enabled = excluded.invite_enabled
	`, p.ID(), p.Name(), p.OwnerID(), string(p.Tier()), boolToInt(p.InviteEnabled()), formatTime(p.CreatedAt()))
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID(), err)
	}

	for id, name := range p.Creators() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO creators (project_id, creator_id, display_name) VALUES (?, ?, ?)
			ON CONFLICT(project_id, creator_id) DO UPDATE SET display_name = excluded.display_name
		`, p.ID(), id, name)
		if err != nil {
			return fmt.Errorf("save creator %s: %w", id, err)
		}
	}

	clips := p.Clips()
	keep := make(map[string]struct{}, len(clips))
	for _, c := range clips {
		keep[c.ID] = struct{}{}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clips (id, project_id, timestamp, creator_id, status, seen, metadata_location, video_location, thumbnail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				seen = excluded.seen,
				metadata_location = excluded.metadata_location,
				video_location = excluded.video_location,
				thumbnail = excluded.thumbnail
		`, c.ID, p.ID(), formatTime(c.Timestamp), c.CreatorID, string(c.Status), boolToInt(c.Seen),
			string(c.MetadataLocation), string(c.VideoLocation), nullBytes(c.Thumbnail))
		if err != nil {
			return fmt.Errorf("save clip %s: %w", c.ID, err)
		}
	}

	stale, err := clipIDs(ctx, tx, p.ID())
	if err != nil {
		return err
	}
	for _, id := range stale {
		if _, ok := keep[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM clips WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete clip %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func clipIDs(ctx context.Context, tx *sql.Tx, projectID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM clips WHERE project_id = ?", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadProjects rebuilds every stored project, oldest first.
func (r *SQLiteRepository) LoadProjects(ctx context.Context, limits project.TierLimits) ([]*project.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, owner_id, tier, invite_enabled, created_at
		FROM projects ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}

	var opts []project.Options
	for rows.Next() {
		var o project.Options
		var tier, createdAt string
		var invite int
		if err := rows.Scan(&o.ID, &o.Name, &o.OwnerID, &tier, &invite, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		t, err := project.ParseTier(tier)
		if err != nil {
			t = project.TierFree
		}
		o.Tier = t
		o.InviteEnabled = invite == 1
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		o.Limits = limits
		opts = append(opts, o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	projects := make([]*project.Project, 0, len(opts))
	for _, o := range opts {
		if o.Creators, err = r.loadCreators(ctx, o.ID); err != nil {
			return nil, err
		}
		p := project.New(o)
		clips, err := r.loadClips(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		p.AppendClips(clips)
		projects = append(projects, p)
	}
	return projects, nil
}

func (r *SQLiteRepository) loadCreators(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT creator_id, display_name FROM creators WHERE project_id = ?", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creators := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		creators[id] = name
	}
	return creators, rows.Err()
}

func (r *SQLiteRepository) loadClips(ctx context.Context, projectID string) ([]clip.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp, creator_id, status, seen, metadata_location, video_location, thumbnail
		FROM clips WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []clip.Record
	for rows.Next() {
		c := clip.Record{ProjectID: projectID}
		var ts, status, metaLoc, videoLoc string
		var seen int
		if err := rows.Scan(&c.ID, &ts, &c.CreatorID, &status, &seen, &metaLoc, &videoLoc, &c.Thumbnail); err != nil {
			return nil, err
		}
		c.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		c.Status = clip.Status(status)
		c.Seen = seen == 1
		c.MetadataLocation = clip.Location(metaLoc)
		c.VideoLocation = clip.Location(videoLoc)
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
