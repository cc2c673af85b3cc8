package record

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

var (
	// ErrRecordNotFound is returned when no record exists for the given owner type and ID.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownOwnerType is returned for owner types that were never registered.
	ErrUnknownOwnerType = errors.New("unknown owner type")
)

// Repository loads and saves records with mounted uploads through GORM.
type Repository struct {
	db *gorm.DB

	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRepository creates a new Repository on top of db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:    db,
		types: make(map[string]reflect.Type),
	}
}

// Register makes records like prototype loadable by their owner type.
// prototype must be a pointer to a struct, e.g. &model.Document{}.
func (r *Repository) Register(prototype model.Record) error {
	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("register: %T is not a pointer to a struct", prototype)
	}

	r.mu.Lock()
	r.types[prototype.OwnerType()] = t.Elem()
	r.mu.Unlock()

	return nil
}

// New returns an empty record of ownerType.
func (r *Repository) New(ownerType string) (model.Record, error) {
	r.mu.RLock()
	t, ok := r.types[ownerType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOwnerType, ownerType)
	}

	return reflect.New(t).Interface().(model.Record), nil
}

// Load fetches the record of ownerType with the given ID.
func (r *Repository) Load(ctx context.Context, ownerType, id string) (model.Record, error) {
	rec, err := r.New(ownerType)
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).First(rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load %s %s: %w", ownerType, id, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("load %s %s: %w", ownerType, id, err)
	}

	return rec, nil
}

// Save inserts or updates rec.
func (r *Repository) Save(ctx context.Context, rec model.Record) error {
	return save(r.db.WithContext(ctx), rec)
}

// Update writes every column of an existing rec. Unlike Save it never
// inserts, so a record deleted in the meantime is reported as ErrRecordNotFound.
func (r *Repository) Update(ctx context.Context, rec model.Record) error {
	res := r.db.WithContext(ctx).Model(rec).Select("*").Updates(rec)
	if res.Error != nil {
		return fmt.Errorf("update %s %s: %w", rec.OwnerType(), rec.OwnerID(), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update %s %s: %w", rec.OwnerType(), rec.OwnerID(), ErrRecordNotFound)
	}

	return nil
}

// Delete removes rec.
func (r *Repository) Delete(ctx context.Context, rec model.Record) error {
	res := r.db.WithContext(ctx).Delete(rec)
	if res.Error != nil {
		return fmt.Errorf("delete %s %s: %w", rec.OwnerType(), rec.OwnerID(), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete %s %s: %w", rec.OwnerType(), rec.OwnerID(), ErrRecordNotFound)
	}

	return nil
}

// Saver saves records inside a running transaction.
type Saver interface {
	Save(rec model.Record) error
}

type txSaver struct {
	tx *gorm.DB
}

func (t txSaver) Save(rec model.Record) error {
	return save(t.tx, rec)
}

// Transaction runs fn in a database transaction. It returns only after the
// transaction committed, or with the error that rolled it back.
func (r *Repository) Transaction(ctx context.Context, fn func(tx Saver) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(txSaver{tx: tx})
	})
}

func save(db *gorm.DB, rec model.Record) error {
	if err := db.Save(rec).Error; err != nil {
		return fmt.Errorf("save %s %s: %w", rec.OwnerType(), rec.OwnerID(), err)
	}

	return nil
}
