package repo

import (
	"context"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

var collectionFields = []string{"id", "owner_id", "kind", "name", "ctime", "mtime"}

type CollectionRepo struct {
	db dbutil.Querier
}

func NewCollectionRepo(db dbutil.Querier) *CollectionRepo {
	return &CollectionRepo{db: db}
}

func (r *CollectionRepo) Create(ctx context.Context, c *model.Collection) error {
	data := map[string]interface{}{
		"id":       c.ID,
		"owner_id": c.OwnerID,
		"kind":     string(c.Kind),
		"name":     c.Name,
		"ctime":    c.Ctime,
		"mtime":    c.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("collections", []map[string]interface{}{data})
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

// GetByID returns ErrNotFound when the collection does not exist or is not
// owned by ownerID.
func (r *CollectionRepo) GetByID(ctx context.Context, ownerID, id string) (*model.Collection, error) {
	where := map[string]interface{}{
		"id":       id,
		"owner_id": ownerID,
	}
	sqlStr, args, err := builder.BuildSelect("collections", where, collectionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	var c model.Collection
	if err := rows.Scan(&c.ID, &c.OwnerID, &c.Kind, &c.Name, &c.Ctime, &c.Mtime); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CollectionRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Collection, error) {
	where := map[string]interface{}{
		"owner_id": ownerID,
		"_orderby": "mtime desc",
	}
	sqlStr, args, err := builder.BuildSelect("collections", where, collectionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*model.Collection, 0)
	for rows.Next() {
		var c model.Collection
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Kind, &c.Name, &c.Ctime, &c.Mtime); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// FilterOwned returns the subset of ids owned by ownerID.
func (r *CollectionRepo) FilterOwned(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	where := map[string]interface{}{
		"owner_id": ownerID,
		"id in":    dbutil.Strings(ids),
	}
	sqlStr, args, err := builder.BuildSelect("collections", where, []string{"id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	owned := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned = append(owned, id)
	}
	return owned, rows.Err()
}

func (r *CollectionRepo) Touch(ctx context.Context, id string, mtime int64) error {
	sqlStr, args, err := builder.BuildUpdate("collections", map[string]interface{}{"id": id}, map[string]interface{}{"mtime": mtime})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *CollectionRepo) Delete(ctx context.Context, id string) error {
	sqlStr, args, err := builder.BuildDelete("collections", map[string]interface{}{"id": id})
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
