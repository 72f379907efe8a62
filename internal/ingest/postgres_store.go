package ingest

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

const videoColumns = `id, title, status, upload_ref, asset_ref, transcode_job_id,
	playback_id, manifest_key, thumbnail_url, duration_seconds,
	original_key, original_size, original_content_type,
	requires_secondary, error_message, created_at, updated_at`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by a Postgres videos table.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

// NewPostgresStore wraps db, typically a *pgxpool.Pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the videos table and its secondary indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply videos schema: %w", err)
	}
	return nil
}

// Create implements Store.Create.
func (s *PostgresStore) Create(ctx context.Context, v *Video) error {
	created := v.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	updated := v.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO videos (`+videoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`,
		string(v.ID), v.Title, string(v.Status), v.UploadRef, v.AssetRef, v.TranscodeJobID,
		v.PlaybackID, v.ManifestKey, v.ThumbnailURL, v.Duration,
		v.Original.Key, v.Original.Size, v.Original.ContentType,
		v.RequiresSecondary, v.ErrorMessage, created, updated,
	)
	if err != nil {
		return fmt.Errorf("insert video %s: %w", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoExists
	}
	return nil
}

// Get implements Store.Get.
func (s *PostgresStore) Get(ctx context.Context, id VideoID) (*Video, error) {
	return s.getBy(ctx, "id", string(id))
}

// GetByUploadRef implements Store.GetByUploadRef.
func (s *PostgresStore) GetByUploadRef(ctx context.Context, ref string) (*Video, error) {
	return s.getBy(ctx, "upload_ref", ref)
}

// GetByAssetRef implements Store.GetByAssetRef.
func (s *PostgresStore) GetByAssetRef(ctx context.Context, ref string) (*Video, error) {
	return s.getBy(ctx, "asset_ref", ref)
}

// GetByJobID implements Store.GetByJobID.
func (s *PostgresStore) GetByJobID(ctx context.Context, jobID string) (*Video, error) {
	return s.getBy(ctx, "transcode_job_id", jobID)
}

// getBy looks up by a fixed, trusted column name.
func (s *PostgresStore) getBy(ctx context.Context, column, value string) (*Video, error) {
	if value == "" {
		return nil, ErrVideoNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE `+column+` = $1`, value)
	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("select video by %s: %w", column, err)
	}
	return v, nil
}

// PatchIfMatches implements Store.PatchIfMatches with a single
// UPDATE ... WHERE <cond> RETURNING statement.
func (s *PostgresStore) PatchIfMatches(ctx context.Context, id VideoID, cond Condition, patch Patch) (*Video, bool, error) {
	query, args := buildPatchQuery(id, cond, patch, s.now())
	v, err := scanVideo(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("patch video %s: %w", id, err)
	}
	return v, true, nil
}

func buildPatchQuery(id VideoID, cond Condition, patch Patch, now time.Time) (string, []any) {
	args := []any{string(id)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sets []string
	switch {
	case patch.Status != nil:
		sets = append(sets, "status = "+arg(string(*patch.Status)))
	case patch.ReopenFailed:
		sets = append(sets, "status = CASE WHEN status = 'failed' THEN 'processing' ELSE status END")
	case patch.PromoteUploading:
		sets = append(sets, "status = CASE WHEN status = 'uploading' THEN 'processing' ELSE status END")
	}
	switch {
	case patch.ErrorMessage != nil:
		sets = append(sets, "error_message = "+arg(*patch.ErrorMessage))
	case patch.ReopenFailed:
		sets = append(sets, "error_message = CASE WHEN status = 'failed' THEN '' ELSE error_message END")
	}
	setString := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = "+arg(*v))
		}
	}
	setString("upload_ref", patch.UploadRef)
	setString("asset_ref", patch.AssetRef)
	setString("transcode_job_id", patch.TranscodeJobID)
	setString("playback_id", patch.PlaybackID)
	setString("manifest_key", patch.ManifestKey)
	setString("thumbnail_url", patch.ThumbnailURL)
	if patch.Duration != nil {
		sets = append(sets, "duration_seconds = CASE WHEN duration_seconds <= 0 THEN "+arg(*patch.Duration)+"::double precision ELSE duration_seconds END")
	}
	if o := patch.Original; o != nil {
		unset := "(original_key = '' AND original_size = 0 AND original_content_type = '')"
		sets = append(sets,
			"original_key = CASE WHEN "+unset+" THEN "+arg(o.Key)+"::text ELSE original_key END",
			"original_size = CASE WHEN "+unset+" THEN "+arg(o.Size)+"::bigint ELSE original_size END",
			"original_content_type = CASE WHEN "+unset+" THEN "+arg(o.ContentType)+"::text ELSE original_content_type END",
		)
	}
	sets = append(sets, "updated_at = "+arg(now))

	wheres := []string{"id = $1"}
	if len(cond.StatusIn) > 0 {
		wheres = append(wheres, "status = ANY("+arg(statusStrings(cond.StatusIn))+"::text[])")
	}
	if len(cond.StatusNotIn) > 0 {
		wheres = append(wheres, "status <> ALL("+arg(statusStrings(cond.StatusNotIn))+"::text[])")
	}
	if cond.UploadRef != nil {
		wheres = append(wheres, "upload_ref = "+arg(*cond.UploadRef))
	}
	if cond.TranscodeJobID != nil {
		wheres = append(wheres, "transcode_job_id = "+arg(*cond.TranscodeJobID))
	}
	if cond.AssetRef != nil {
		if cond.AssetRefMayBeUnset {
			wheres = append(wheres, "(asset_ref = "+arg(*cond.AssetRef)+" OR asset_ref = '')")
		} else {
			wheres = append(wheres, "asset_ref = "+arg(*cond.AssetRef))
		}
	}
	switch cond.NotReadyWith {
	case FieldPlaybackID, FieldManifestKey:
		wheres = append(wheres, "NOT (status = 'ready' AND "+string(cond.NotReadyWith)+" <> '')")
	}

	query := "UPDATE videos SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(wheres, " AND ") +
		" RETURNING " + videoColumns
	return query, args
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func scanVideo(row pgx.Row) (*Video, error) {
	var (
		v      Video
		id     string
		status string
	)
	err := row.Scan(
		&id, &v.Title, &status, &v.UploadRef, &v.AssetRef, &v.TranscodeJobID,
		&v.PlaybackID, &v.ManifestKey, &v.ThumbnailURL, &v.Duration,
		&v.Original.Key, &v.Original.Size, &v.Original.ContentType,
		&v.RequiresSecondary, &v.ErrorMessage, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.ID = VideoID(id)
	v.Status = Status(status)
	return &v, nil
}
