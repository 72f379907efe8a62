package ingest

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPatchQuery_ready_guard(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cond := Attempt{Kind: AttemptJob, Ref: "job1"}.guard(Condition{NotReadyWith: FieldManifestKey})
	patch := Patch{Status: ptr(StatusReady), ManifestKey: ptr("k.m3u8"), Duration: ptr(9.5)}

	query, args := buildPatchQuery("v1", cond, patch, now)

	assert.True(t, strings.HasPrefix(query, "UPDATE videos SET status = $2"), query)
	assert.Contains(t, query, "manifest_key = $3")
	assert.Contains(t, query, "duration_seconds = CASE WHEN duration_seconds <= 0 THEN $4::double precision ELSE duration_seconds END")
	assert.Contains(t, query, "updated_at = $5")
	assert.Contains(t, query, "WHERE id = $1 AND transcode_job_id = $6")
	assert.Contains(t, query, "NOT (status = 'ready' AND manifest_key <> '')")
	assert.Contains(t, query, "RETURNING "+videoColumns)
	require.Len(t, args, 6)
	assert.Equal(t, []any{"v1", "ready", "k.m3u8", 9.5, now, "job1"}, args)
}

func TestBuildPatchQuery_failure_guard(t *testing.T) {
	cond := Attempt{Kind: AttemptAsset, Ref: "as1"}.guard(Condition{StatusNotIn: []Status{StatusReady}})
	patch := Patch{Status: ptr(StatusFailed), ErrorMessage: ptr("bad input")}

	query, args := buildPatchQuery("v1", cond, patch, time.Time{})

	assert.Contains(t, query, "status <> ALL($5::text[])")
	assert.Contains(t, query, "(asset_ref = $6 OR asset_ref = '')")
	assert.Equal(t, []string{"ready"}, args[4])
}

func TestBuildPatchQuery_reopen_and_status_in(t *testing.T) {
	cond := Condition{StatusIn: []Status{StatusUploading, StatusProcessing}}
	patch := Patch{TranscodeJobID: ptr("job2"), ManifestKey: ptr(""), ReopenFailed: true}

	query, args := buildPatchQuery("v1", cond, patch, time.Time{})

	assert.Contains(t, query, "status = CASE WHEN status = 'failed' THEN 'processing' ELSE status END")
	assert.Contains(t, query, "error_message = CASE WHEN status = 'failed' THEN '' ELSE error_message END")
	assert.Contains(t, query, "status = ANY(")
	assert.Contains(t, query, "::text[])")
	assert.Equal(t, []string{"uploading", "processing"}, args[len(args)-1])
}

func TestBuildPatchQuery_promote_uploading(t *testing.T) {
	cond := Condition{StatusIn: []Status{StatusUploading, StatusProcessing, StatusReady}}
	patch := Patch{PromoteUploading: true, Original: &OriginalAsset{Size: 1}}

	query, _ := buildPatchQuery("v1", cond, patch, time.Time{})

	assert.True(t, strings.HasPrefix(query, "UPDATE videos SET status = CASE WHEN status = 'uploading' THEN 'processing' ELSE status END"), query)
	assert.Contains(t, query, "THEN $3::bigint ELSE original_size END")
}

func TestBuildPatchQuery_original_written_once(t *testing.T) {
	patch := Patch{Original: &OriginalAsset{Key: "videos/v1/original/source", Size: 10, ContentType: "video/mp4"}}
	query, args := buildPatchQuery("v1", Condition{}, patch, time.Time{})

	assert.Contains(t, query, "original_key = CASE WHEN (original_key = '' AND original_size = 0 AND original_content_type = '') THEN $2::text ELSE original_key END")
	assert.Equal(t, int64(10), args[2])
}

type fakeRow struct {
	v   *Video
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	v := r.v
	vals := []any{
		string(v.ID), v.Title, string(v.Status), v.UploadRef, v.AssetRef, v.TranscodeJobID,
		v.PlaybackID, v.ManifestKey, v.ThumbnailURL, v.Duration,
		v.Original.Key, v.Original.Size, v.Original.ContentType,
		v.RequiresSecondary, v.ErrorMessage, v.CreatedAt, v.UpdatedAt,
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(vals[i]))
	}
	return nil
}

type fakeDB struct {
	tag     string
	row     fakeRow
	queries []string
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.queries = append(db.queries, sql)
	return pgconn.NewCommandTag(db.tag), nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	db.queries = append(db.queries, sql)
	return db.row
}

func TestPostgresStore_Create_conflict(t *testing.T) {
	db := &fakeDB{tag: "INSERT 0 0"}
	s := NewPostgresStore(db)
	err := s.Create(context.Background(), &Video{ID: "v1", Status: StatusUploading})
	assert.ErrorIs(t, err, ErrVideoExists)
	assert.Contains(t, db.queries[0], "ON CONFLICT (id) DO NOTHING")

	db.tag = "INSERT 0 1"
	assert.NoError(t, s.Create(context.Background(), &Video{ID: "v2", Status: StatusUploading}))
}

func TestPostgresStore_lookups(t *testing.T) {
	want := &Video{ID: "v1", Status: StatusReady, TranscodeJobID: "J1", ManifestKey: "k.m3u8", Duration: 3}
	db := &fakeDB{row: fakeRow{v: want}}
	s := NewPostgresStore(db)

	got, err := s.GetByJobID(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Contains(t, db.queries[0], "WHERE transcode_job_id = $1")

	db.row = fakeRow{err: pgx.ErrNoRows}
	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestPostgresStore_PatchIfMatches(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	s := NewPostgresStore(db)

	v, applied, err := s.PatchIfMatches(context.Background(), "v1", Condition{}, Patch{Status: ptr(StatusFailed)})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Nil(t, v)

	db.row = fakeRow{v: &Video{ID: "v1", Status: StatusFailed}}
	v, applied, err = s.PatchIfMatches(context.Background(), "v1", Condition{}, Patch{Status: ptr(StatusFailed)})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusFailed, v.Status)
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewPostgresStore(db).EnsureSchema(context.Background()))
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS videos")
	assert.Contains(t, db.queries[0], "videos_transcode_job_id_idx")
}
