// Package gormhook connects gorm models to change tracking.
//
// Plugin registers gorm callbacks that report creates, updates and deletes
// to an audit.Listener, inside gorm's own transaction. Records implements
// audit.RecordStore over the same *gorm.DB so reverts write through gorm.
//
// Only statements that carry a model value with a primary key are tracked.
// Bulk updates and deletes by condition (db.Where(...).Delete(&T{})) have no
// identity to record and are skipped.
package gormhook

import (
	"context"
	"database/sql"
	"log/slog"
	"reflect"

	"gorm.io/gorm"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/store"
)

const (
	pluginName = "revlog"
	beforeKey  = "revlog:before"
)

// Plugin is a gorm.Plugin that forwards lifecycle events to a Listener.
type Plugin struct {
	listener audit.Listener
	registry *audit.Registry
	logger   *slog.Logger
}

var _ gorm.Plugin = (*Plugin)(nil)

// New creates a Plugin. Models must be registered in registry (typically
// with RegisterStruct) to be tracked; others pass through untouched.
func New(listener audit.Listener, registry *audit.Registry, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{listener: listener, registry: registry, logger: logger}
}

// Name implements gorm.Plugin.
func (p *Plugin) Name() string { return pluginName }

// Initialize implements gorm.Plugin.
func (p *Plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().After("gorm:create").Register("revlog:after_create", p.afterCreate); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("revlog:before_update", p.beforeUpdate); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("revlog:after_update", p.afterUpdate); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:delete").Register("revlog:before_delete", p.beforeDelete)
}

func (p *Plugin) afterCreate(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	ctx := statementContext(db)
	for _, rec := range p.tracked(db) {
		if err := p.listener.OnCreated(ctx, rec.value); err != nil {
			db.AddError(err)
			return
		}
	}
}

func (p *Plugin) beforeUpdate(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	befores := make(map[string]any)
	for _, rec := range p.tracked(db) {
		before, err := load(db, rec.meta, rec.value)
		if err != nil {
			if !audit.IsNotFound(err) {
				db.AddError(err)
				return
			}
			continue
		}
		befores[rec.key] = before
	}
	db.InstanceSet(beforeKey, befores)
}

func (p *Plugin) afterUpdate(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	var befores map[string]any
	if v, ok := db.InstanceGet(beforeKey); ok {
		befores, _ = v.(map[string]any)
	}
	ctx := statementContext(db)
	for _, rec := range p.tracked(db) {
		// Reload so the change reflects every column the statement touched,
		// including ones gorm filled in (updated_at).
		after, err := load(db, rec.meta, rec.value)
		if audit.IsNotFound(err) {
			continue
		}
		if err != nil {
			db.AddError(err)
			return
		}
		if err := p.listener.OnUpdated(ctx, after, befores[rec.key]); err != nil {
			db.AddError(err)
			return
		}
	}
}

func (p *Plugin) beforeDelete(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	ctx := statementContext(db)
	for _, rec := range p.tracked(db) {
		current, err := load(db, rec.meta, rec.value)
		if audit.IsNotFound(err) {
			continue
		}
		if err != nil {
			db.AddError(err)
			return
		}
		if err := p.listener.OnBeforeDestroyed(ctx, current); err != nil {
			db.AddError(err)
			return
		}
	}
}

type trackedRecord struct {
	meta  *audit.TypeMeta
	key   string
	value any
}

// tracked lists the statement's model values that are registered, tracked
// and carry a non-zero primary key.
func (p *Plugin) tracked(db *gorm.DB) []trackedRecord {
	if db.Statement.Schema == nil || audit.TrackingDisabled(db.Statement.Context) {
		return nil
	}
	var out []trackedRecord
	for _, v := range modelValues(db.Statement.ReflectValue) {
		meta, ok := p.registry.MetaOf(v)
		if !ok || !meta.Tracked() {
			continue
		}
		if !hasKey(meta, v) {
			p.logger.Debug("skipping record without primary key",
				"item_type", meta.Name(),
			)
			continue
		}
		key, err := meta.Key(v)
		if err != nil {
			continue
		}
		out = append(out, trackedRecord{meta: meta, key: key, value: v})
	}
	return out
}

// modelValues flattens a statement's reflect value to record pointers.
func modelValues(rv reflect.Value) []any {
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Struct:
		return []any{addr(rv)}
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, modelValues(rv.Index(i))...)
		}
		return out
	}
	return nil
}

func addr(rv reflect.Value) any {
	if rv.CanAddr() {
		return rv.Addr().Interface()
	}
	cp := reflect.New(rv.Type())
	cp.Elem().Set(rv)
	return cp.Interface()
}

func hasKey(meta *audit.TypeMeta, rec any) bool {
	for _, k := range meta.PrimaryKeys() {
		v, err := meta.Get(rec, k)
		if err != nil || v == nil || reflect.ValueOf(v).IsZero() {
			return false
		}
	}
	return true
}

// load reads the stored state of rec by primary key on the statement's
// connection, so it sees the statement's own transaction.
func load(db *gorm.DB, meta *audit.TypeMeta, rec any) (any, error) {
	conds := make(map[string]any)
	for _, k := range meta.PrimaryKeys() {
		v, err := meta.Get(rec, k)
		if err != nil {
			return nil, err
		}
		conds[k] = v
	}
	fresh := meta.New()
	err := db.Session(&gorm.Session{NewDB: true}).Unscoped().Where(conds).Take(fresh).Error
	if err != nil {
		key, _ := meta.Key(rec)
		if err == gorm.ErrRecordNotFound {
			return nil, audit.NotFoundError(meta.Name(), key, "record not found")
		}
		return nil, err
	}
	return fresh, nil
}

// statementContext returns the statement's context carrying gorm's
// transaction, so changes commit or roll back with the statement.
func statementContext(db *gorm.DB) context.Context {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if tx, ok := db.Statement.ConnPool.(*sql.Tx); ok {
		ctx = store.WithTx(ctx, tx)
	}
	return ctx
}
