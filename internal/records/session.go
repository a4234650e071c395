package records

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/revlog/internal/audit"
)

// Session performs host-style mutations and reports them to a Listener.
//
// Each call runs in one transaction: a listener error rolls the mutation
// back with it.
type Session struct {
	store    *Store
	registry *audit.Registry
	listener audit.Listener
	now      func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithNow sets the clock used for created/updated timestamp fields.
func WithNow(fn func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = fn
	}
}

// NewSession creates a Session. A nil listener makes the session untracked.
func NewSession(store *Store, registry *audit.Registry, listener audit.Listener, opts ...SessionOption) *Session {
	s := &Session{
		store:    store,
		registry: registry,
		listener: listener,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the record store the session writes through.
func (s *Session) Store() *Store { return s.store }

// Create inserts rec, filling zero created/updated timestamps, then reports
// OnCreated.
func (s *Session) Create(ctx context.Context, rec any) error {
	meta, err := s.meta(rec)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(ctx context.Context) error {
		now := s.now()
		if err := stamp(meta, rec, now, audit.TimestampCreated, true); err != nil {
			return err
		}
		if err := stamp(meta, rec, now, audit.TimestampUpdated, true); err != nil {
			return err
		}
		if err := s.store.Insert(ctx, meta, rec); err != nil {
			return err
		}
		if s.listener == nil {
			return nil
		}
		return s.listener.OnCreated(ctx, rec)
	})
}

// Save writes every column of rec over the stored record with the same key,
// bumps its updated timestamp, then reports OnUpdated with the state loaded
// before the write.
func (s *Session) Save(ctx context.Context, rec any) error {
	meta, err := s.meta(rec)
	if err != nil {
		return err
	}
	key, err := meta.Key(rec)
	if err != nil {
		return fmt.Errorf("save %s: %w", meta.Name(), err)
	}
	return s.store.InTx(ctx, func(ctx context.Context) error {
		before, err := s.store.FindByKey(ctx, meta, key)
		if err != nil {
			return err
		}
		if err := stamp(meta, rec, s.now(), audit.TimestampUpdated, false); err != nil {
			return err
		}
		fields := make([]string, 0)
		for _, f := range columnFields(meta) {
			fields = append(fields, f.Name)
		}
		if err := s.store.Update(ctx, meta, key, rec, fields); err != nil {
			return err
		}
		if s.listener == nil {
			return nil
		}
		return s.listener.OnUpdated(ctx, rec, before)
	})
}

// Destroy reports OnBeforeDestroyed with the stored state, then deletes it.
// Destroying a record that does not exist returns a NOT_FOUND error.
func (s *Session) Destroy(ctx context.Context, rec any) error {
	meta, err := s.meta(rec)
	if err != nil {
		return err
	}
	key, err := meta.Key(rec)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", meta.Name(), err)
	}
	return s.store.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.FindByKey(ctx, meta, key)
		if err != nil {
			return err
		}
		if s.listener != nil {
			if err := s.listener.OnBeforeDestroyed(ctx, current); err != nil {
				return err
			}
		}
		_, err = s.store.Delete(ctx, meta, key)
		return err
	})
}

// Find loads a record by type name and key.
func (s *Session) Find(ctx context.Context, itemType, key string) (any, error) {
	meta, err := s.registry.Lookup(itemType)
	if err != nil {
		return nil, err
	}
	return s.store.FindByKey(ctx, meta, key)
}

func (s *Session) meta(rec any) (*audit.TypeMeta, error) {
	meta, ok := s.registry.MetaOf(rec)
	if !ok {
		return nil, audit.UnknownTypeError(fmt.Sprintf("%T", rec))
	}
	return meta, nil
}

// stamp sets every field with role to now. With onlyZero, fields that
// already hold a value are kept.
func stamp(meta *audit.TypeMeta, rec any, now time.Time, role audit.TimestampRole, onlyZero bool) error {
	for _, f := range meta.Fields() {
		if f.Timestamp != role {
			continue
		}
		if onlyZero {
			v, err := meta.Get(rec, f.Name)
			if err != nil {
				return err
			}
			if !isZero(v) {
				continue
			}
		}
		if err := meta.Set(rec, f.Name, now); err != nil {
			return err
		}
	}
	return nil
}
