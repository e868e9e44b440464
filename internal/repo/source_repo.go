package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

var sourceFields = []string{
	"id", "collection_id", "owner_id", "kind", "file_name", "file_size", "mime_type",
	"storage_path", "content_text", "status", "error_message", "ctime", "mtime",
}

type SourceRepo struct {
	db dbutil.Querier
}

func NewSourceRepo(db dbutil.Querier) *SourceRepo {
	return &SourceRepo{db: db}
}

func (r *SourceRepo) Create(ctx context.Context, s *model.Source) error {
	data := map[string]interface{}{
		"id":            s.ID,
		"collection_id": s.CollectionID,
		"owner_id":      s.OwnerID,
		"kind":          string(s.Kind),
		"file_name":     s.FileName,
		"file_size":     s.FileSize,
		"mime_type":     s.MimeType,
		"storage_path":  s.StoragePath,
		"content_text":  s.ContentText,
		"status":        string(s.Status),
		"error_message": s.ErrorMessage,
		"ctime":         s.Ctime,
		"mtime":         s.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("sources", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *SourceRepo) GetByID(ctx context.Context, ownerID, id string) (*model.Source, error) {
	items, err := r.list(ctx, map[string]interface{}{"id": id, "owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return items[0], nil
}

func (r *SourceRepo) ListByCollection(ctx context.Context, collectionID string) ([]*model.Source, error) {
	return r.list(ctx, map[string]interface{}{
		"collection_id": collectionID,
		"_orderby":      "ctime asc",
	})
}

// ListStale returns sources stuck in processing since before cutoff.
func (r *SourceRepo) ListStale(ctx context.Context, cutoff int64, limit uint) ([]*model.Source, error) {
	return r.list(ctx, map[string]interface{}{
		"status":   string(model.SourceStatusProcessing),
		"mtime <":  cutoff,
		"_orderby": "mtime asc",
		"_limit":   []uint{0, limit},
	})
}

func (r *SourceRepo) list(ctx context.Context, where map[string]interface{}) ([]*model.Source, error) {
	sqlStr, args, err := builder.BuildSelect("sources", where, sourceFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*model.Source, 0)
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func scanSource(rows *sql.Rows) (*model.Source, error) {
	var s model.Source
	if err := rows.Scan(&s.ID, &s.CollectionID, &s.OwnerID, &s.Kind, &s.FileName, &s.FileSize, &s.MimeType,
		&s.StoragePath, &s.ContentText, &s.Status, &s.ErrorMessage, &s.Ctime, &s.Mtime); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SourceRepo) SetStoragePath(ctx context.Context, id, storagePath string, mtime int64) error {
	return r.update(ctx, map[string]interface{}{"id": id}, map[string]interface{}{
		"storage_path": storagePath,
		"mtime":        mtime,
	})
}

// StartProcessing moves a source in one of the from states to processing.
// ErrConflict means the source is not in any of them, normally because
// another ingestion owns it.
func (r *SourceRepo) StartProcessing(ctx context.Context, id string, mtime int64, from ...model.SourceStatus) error {
	states := make([]interface{}, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}
	where := map[string]interface{}{"id": id, "status in": states}
	update := map[string]interface{}{
		"status":        string(model.SourceStatusProcessing),
		"error_message": "",
		"mtime":         mtime,
	}
	err := r.update(ctx, where, update)
	if appErr.IsNotFound(err) {
		return appErr.ErrConflict
	}
	return err
}

// StartNoteUpdate replaces the body of a completed or failed note and moves
// it to processing in one update.
func (r *SourceRepo) StartNoteUpdate(ctx context.Context, id, contentText string, mtime int64) error {
	where := map[string]interface{}{
		"id":   id,
		"kind": string(model.SourceKindNote),
		"status in": []interface{}{
			string(model.SourceStatusCompleted),
			string(model.SourceStatusFailed),
		},
	}
	update := map[string]interface{}{
		"content_text":  contentText,
		"status":        string(model.SourceStatusProcessing),
		"error_message": "",
		"mtime":         mtime,
	}
	err := r.update(ctx, where, update)
	if appErr.IsNotFound(err) {
		return appErr.ErrConflict
	}
	return err
}

// Complete stores the extracted text and flips a processing source to
// completed.
func (r *SourceRepo) Complete(ctx context.Context, id, contentText string, mtime int64) error {
	where := map[string]interface{}{
		"id":     id,
		"status": string(model.SourceStatusProcessing),
	}
	update := map[string]interface{}{
		"content_text":  contentText,
		"status":        string(model.SourceStatusCompleted),
		"error_message": "",
		"mtime":         mtime,
	}
	err := r.update(ctx, where, update)
	if appErr.IsNotFound(err) {
		return appErr.ErrConflict
	}
	return err
}

func (r *SourceRepo) MarkFailed(ctx context.Context, id, message string, mtime int64) error {
	return r.update(ctx, map[string]interface{}{"id": id}, map[string]interface{}{
		"status":        string(model.SourceStatusFailed),
		"error_message": message,
		"mtime":         mtime,
	})
}

// FailStale fails a source that is still processing and has not been
// touched since cutoff. ErrNotFound means it moved on.
func (r *SourceRepo) FailStale(ctx context.Context, id string, cutoff int64, message string, mtime int64) error {
	where := map[string]interface{}{
		"id":      id,
		"status":  string(model.SourceStatusProcessing),
		"mtime <": cutoff,
	}
	return r.update(ctx, where, map[string]interface{}{
		"status":        string(model.SourceStatusFailed),
		"error_message": message,
		"mtime":         mtime,
	})
}

func (r *SourceRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("sources", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *SourceRepo) Delete(ctx context.Context, id string) error {
	sqlStr, args, err := builder.BuildDelete("sources", map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *SourceRepo) DeleteByCollection(ctx context.Context, collectionID string) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("sources", map[string]interface{}{"collection_id": collectionID})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
