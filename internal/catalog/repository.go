package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

type Repository interface {
	SaveMedia(ctx context.Context, item *media.Item) error
	GetMedia(ctx context.Context, id string) (*media.Item, error)
	GetMediaByLocator(ctx context.Context, locator string) (*media.Item, error)
	ListMedia(ctx context.Context) ([]*media.Item, error)
	DeleteMedia(ctx context.Context, id string) error
	UpdateMediaProbe(ctx context.Context, id string, duration float64, width, height int) error

	SaveProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]*ProjectSummary, error)
	DeleteProject(ctx context.Context, id string) error

	CreateJob(ctx context.Context, job *Job) error
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, jobType string, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const mediaColumns = `id, kind, name, locator, duration, width, height, text_style, effect_key, source, created_at`

func (r *SQLiteRepository) SaveMedia(ctx context.Context, it *media.Item) error {
	style, err := encodeStyle(it.Text)
	if err != nil {
		return err
	}
	createdAt := it.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO media_items (`+mediaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind, name = excluded.name, locator = excluded.locator,
			duration = excluded.duration, width = excluded.width, height = excluded.height,
			text_style = excluded.text_style, effect_key = excluded.effect_key, source = excluded.source
	`, it.ID, string(it.Kind), it.Name, nullString(it.Locator), it.Duration, it.Width, it.Height,
		style, nullString(it.EffectKey), it.Source, formatTime(createdAt))
	return err
}

func (r *SQLiteRepository) GetMedia(ctx context.Context, id string) (*media.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_items WHERE id = ?`, id)
	return scanMedia(row)
}

func (r *SQLiteRepository) GetMediaByLocator(ctx context.Context, locator string) (*media.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_items WHERE locator = ? LIMIT 1`, locator)
	return scanMedia(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedia(row scanner) (*media.Item, error) {
	var it media.Item
	var kind, createdAt string
	var locator, style, effectKey sql.NullString

	err := row.Scan(&it.ID, &kind, &it.Name, &locator, &it.Duration, &it.Width, &it.Height,
		&style, &effectKey, &it.Source, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	it.Kind = timeline.MediaKind(kind)
	it.Locator = locator.String
	it.EffectKey = effectKey.String
	it.CreatedAt = parseTime(createdAt)
	if style.Valid && style.String != "" {
		var ts timeline.TextStyle
		if err := json.Unmarshal([]byte(style.String), &ts); err != nil {
			return nil, fmt.Errorf("decode text style of %s: %w", it.ID, err)
		}
		it.Text = &ts
	}
	return &it, nil
}

func (r *SQLiteRepository) ListMedia(ctx context.Context) ([]*media.Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+mediaColumns+` FROM media_items ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*media.Item
	for rows.Next() {
		it, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *SQLiteRepository) DeleteMedia(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM media_items WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) UpdateMediaProbe(ctx context.Context, id string, duration float64, width, height int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE media_items SET
			duration = CASE WHEN ? > 0 THEN ? ELSE duration END,
			width = CASE WHEN ? > 0 AND ? > 0 THEN ? ELSE width END,
			height = CASE WHEN ? > 0 AND ? > 0 THEN ? ELSE height END
		WHERE id = ?
	`, duration, duration, width, height, width, width, height, height, id)
	return err
}

func (r *SQLiteRepository) SaveProject(ctx context.Context, p *Project) error {
	snap, err := json.Marshal(p.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	items := p.Media
	if items == nil {
		items = []*media.Item{}
	}
	mediaJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode project media: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, snapshot, media, stage_ratio, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, snapshot = excluded.snapshot, media = excluded.media,
			stage_ratio = excluded.stage_ratio, updated_at = excluded.updated_at
	`, p.ID, p.Name, string(snap), string(mediaJSON), p.StageRatio, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

const projectColumns = `id, name, snapshot, media, stage_ratio, created_at, updated_at`

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	return scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

func (r *SQLiteRepository) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	return scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name))
}

// scanProject decodes the stored snapshot through DecodeSnapshot so a
// malformed row is rejected the same way as a malformed upload.
func scanProject(row scanner) (*Project, error) {
	var p Project
	var snap, mediaJSON, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &snap, &mediaJSON, &p.StageRatio, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	decoded, err := timeline.DecodeSnapshot([]byte(snap))
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.ID, err)
	}
	p.Snapshot = *decoded
	if err := json.Unmarshal([]byte(mediaJSON), &p.Media); err != nil {
		return nil, fmt.Errorf("project %s media: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*ProjectSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, updated_at FROM projects ORDER BY updated_at DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ProjectSummary
	for rows.Next() {
		var s ProjectSummary
		var updatedAt string
		if err := rows.Scan(&s.ID, &s.Name, &updatedAt); err != nil {
			return nil, err
		}
		s.UpdatedAt = parseTime(updatedAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

const jobColumns = `id, type, status, media_id, progress, error, format, output_path, notice, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.MediaID), j.Progress, nullString(j.Error),
		nullString(j.Format), nullString(j.OutputPath), nullString(j.Notice),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

// SaveJob inserts or fully replaces a job row.
func (r *SQLiteRepository) SaveJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, progress = excluded.progress, error = excluded.error,
			format = excluded.format, output_path = excluded.output_path, notice = excluded.notice,
			updated_at = excluded.updated_at
	`, j.ID, j.Type, j.Status, nullString(j.MediaID), j.Progress, nullString(j.Error),
		nullString(j.Format), nullString(j.OutputPath), nullString(j.Notice),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var mediaID, errMsg, format, outputPath, notice sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&j.ID, &j.Type, &j.Status, &mediaID, &j.Progress, &errMsg,
		&format, &outputPath, &notice, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.MediaID = mediaID.String
	j.Error = errMsg.String
	j.Format = format.String
	j.OutputPath = outputPath.String
	j.Notice = notice.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

// ListJobs returns the newest jobs, of jobType when it is not empty.
func (r *SQLiteRepository) ListJobs(ctx context.Context, jobType string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE (? = '' OR type = ?)
		ORDER BY created_at DESC LIMIT ?
	`, jobType, jobType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND type != 'export'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(r.now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, formatTime(r.now()), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
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

func encodeStyle(s *timeline.TextStyle) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode text style: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 and SQLite's datetime('now') layout.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
