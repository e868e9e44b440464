package repo

import (
	"context"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

var blobCleanupFields = []string{"id", "storage_path", "reason", "attempts", "last_error", "ctime", "mtime"}

// BlobCleanupRepo is the outbox of blob paths that still have to be removed
// from the blob store.
type BlobCleanupRepo struct {
	db dbutil.Querier
}

func NewBlobCleanupRepo(db dbutil.Querier) *BlobCleanupRepo {
	return &BlobCleanupRepo{db: db}
}

func (r *BlobCleanupRepo) Create(ctx context.Context, tasks ...*model.BlobCleanupTask) error {
	if len(tasks) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(tasks))
	for _, t := range tasks {
		data = append(data, map[string]interface{}{
			"id":           t.ID,
			"storage_path": t.StoragePath,
			"reason":       t.Reason,
			"attempts":     t.Attempts,
			"last_error":   t.LastError,
			"ctime":        t.Ctime,
			"mtime":        t.Mtime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("blob_cleanup_tasks", data)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *BlobCleanupRepo) Delete(ctx context.Context, id string) error {
	sqlStr, args, err := builder.BuildDelete("blob_cleanup_tasks", map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListPending returns tasks not touched since before cutoff, oldest first.
func (r *BlobCleanupRepo) ListPending(ctx context.Context, cutoff int64, limit uint) ([]*model.BlobCleanupTask, error) {
	where := map[string]interface{}{
		"mtime <":  cutoff,
		"_orderby": "mtime asc",
		"_limit":   []uint{0, limit},
	}
	sqlStr, args, err := builder.BuildSelect("blob_cleanup_tasks", where, blobCleanupFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*model.BlobCleanupTask, 0)
	for rows.Next() {
		var t model.BlobCleanupTask
		if err := rows.Scan(&t.ID, &t.StoragePath, &t.Reason, &t.Attempts, &t.LastError, &t.Ctime, &t.Mtime); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, rows.Err()
}

func (r *BlobCleanupRepo) RecordFailure(ctx context.Context, id, lastError string, mtime int64) error {
	const query = `
		UPDATE blob_cleanup_tasks
		SET attempts = attempts + 1, last_error = $2, mtime = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, lastError, mtime)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}
