package gormhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/store"
)

type gormTxKey struct{}

// Records implements audit.RecordStore with gorm.
//
// Its own writes run with tracking disabled on the context, so the Plugin
// does not log them a second time; the Reverter logs the revert itself.
type Records struct {
	db *gorm.DB
}

var _ audit.RecordStore = (*Records)(nil)

// NewRecords creates a Records over db.
func NewRecords(db *gorm.DB) *Records {
	return &Records{db: db}
}

func (r *Records) conn(ctx context.Context) *gorm.DB {
	db := r.db
	if tx, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok && tx != nil {
		db = tx
	}
	return db.WithContext(audit.WithoutTracking(ctx))
}

// InTx runs fn in a gorm transaction. The context passed to fn carries both
// the gorm transaction and its *sql.Tx, so the change store joins it.
func (r *Records) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, gormTxKey{}, tx)
		if sqlTx, ok := tx.Statement.ConnPool.(*sql.Tx); ok {
			txCtx = store.WithTx(txCtx, sqlTx)
		}
		return fn(txCtx)
	})
}

// FindByKey loads the record with key, including soft-deleted rows.
func (r *Records) FindByKey(ctx context.Context, meta *audit.TypeMeta, key string) (any, error) {
	conds, err := keyConds(meta, key)
	if err != nil {
		return nil, err
	}
	rec := meta.New()
	err = r.conn(ctx).Unscoped().Where(conds).Take(rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, audit.NotFoundError(meta.Name(), key, "record not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find %s#%s: %w", meta.Name(), key, err)
	}
	return rec, nil
}

// Insert creates rec. gorm fills auto-increment keys; zero uuid keys are
// generated first.
func (r *Records) Insert(ctx context.Context, meta *audit.TypeMeta, rec any) error {
	for _, k := range meta.PrimaryKeys() {
		f, _ := meta.Field(k)
		if f.Generated != audit.KeyUUID {
			continue
		}
		v, err := meta.Get(rec, k)
		if err != nil {
			return err
		}
		if v == nil || reflect.ValueOf(v).IsZero() {
			if err := meta.Set(rec, k, uuid.Must(uuid.NewV7()).String()); err != nil {
				return err
			}
		}
	}
	if err := r.conn(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert %s: %w", meta.Name(), err)
	}
	return nil
}

// Update writes the listed non-key fields of rec.
func (r *Records) Update(ctx context.Context, meta *audit.TypeMeta, key string, rec any, fields []string) error {
	values := make(map[string]any, len(fields))
	for _, name := range fields {
		f, ok := meta.Field(name)
		if !ok {
			return fmt.Errorf("update %s: unknown field %q", meta.Name(), name)
		}
		if f.PrimaryKey || f.Kind == audit.FieldMany {
			continue
		}
		v, err := meta.Get(rec, name)
		if err != nil {
			return err
		}
		values[name] = v
	}
	return r.UpdateColumns(ctx, meta, key, values)
}

// UpdateColumns sets columns directly, skipping gorm hooks and timestamps.
func (r *Records) UpdateColumns(ctx context.Context, meta *audit.TypeMeta, key string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	conds, err := keyConds(meta, key)
	if err != nil {
		return err
	}
	err = r.conn(ctx).Table(meta.Table()).Where(conds).UpdateColumns(values).Error
	if err != nil {
		return fmt.Errorf("update %s#%s: %w", meta.Name(), key, err)
	}
	return nil
}

// Delete hard-deletes the record with key.
func (r *Records) Delete(ctx context.Context, meta *audit.TypeMeta, key string) (int64, error) {
	conds, err := keyConds(meta, key)
	if err != nil {
		return 0, err
	}
	res := r.conn(ctx).Unscoped().Where(conds).Delete(meta.New())
	if res.Error != nil {
		return 0, fmt.Errorf("delete %s#%s: %w", meta.Name(), key, res.Error)
	}
	return res.RowsAffected, nil
}

func keyConds(meta *audit.TypeMeta, key string) (map[string]any, error) {
	parts, err := meta.SplitKey(key)
	if err != nil {
		return nil, err
	}
	conds := make(map[string]any, len(parts))
	for k, v := range parts {
		conds[k] = v
	}
	return conds, nil
}
