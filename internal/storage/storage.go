// Package storage persists reminders and pets through gorm. PostgreSQL is
// used when a database URL is configured, SQLite otherwise.
package storage

import (
	"context"
	"errors"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pawcal/internal/apperr"
	appLog "pawcal/internal/log"
	"pawcal/internal/model"
)

// Store is the reminder repository.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL when databaseURL is set, otherwise to the
// SQLite file at sqlitePath, and migrates the schema.
func Open(databaseURL, sqlitePath string) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	if databaseURL != "" {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(sqlitePath)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, apperr.Internal(err, "open database")
	}
	st, err := New(db)
	if err != nil {
		return nil, err
	}
	logBackend(db, sqlitePath)
	return st, nil
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.Pet{}, &model.Reminder{}); err != nil {
		return nil, apperr.Internal(err, "migrate schema")
	}
	return &Store{db: db}, nil
}

func logBackend(db *gorm.DB, sqlitePath string) {
	switch name := strings.ToLower(db.Dialector.Name()); name {
	case "postgres":
		appLog.Info("database connected", "backend", "postgres")
	case "sqlite":
		appLog.Info("database connected", "backend", "sqlite", "path", sqlitePath)
	default:
		appLog.Info("database connected", "backend", name)
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts r and fills in its ID and CreatedAt.
func (s *Store) Create(ctx context.Context, r *model.Reminder) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return apperr.Internal(err, "insert reminder")
	}
	return nil
}

// Get loads one reminder with its pet name attached.
func (s *Store) Get(ctx context.Context, id uint) (model.Reminder, error) {
	var r model.Reminder
	err := s.db.WithContext(ctx).First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Reminder{}, apperr.NotFound("id", "reminder %d not found", id)
	}
	if err != nil {
		return model.Reminder{}, apperr.Internal(err, "load reminder %d", id)
	}
	if err := s.attachPetNames(ctx, []*model.Reminder{&r}); err != nil {
		return model.Reminder{}, err
	}
	return r, nil
}

// List returns all reminders ordered by due date, then ID.
func (s *Store) List(ctx context.Context) ([]model.Reminder, error) {
	var out []model.Reminder
	if err := s.db.WithContext(ctx).Order("due_date asc").Order("id asc").Find(&out).Error; err != nil {
		return nil, apperr.Internal(err, "list reminders")
	}
	ptrs := make([]*model.Reminder, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := s.attachPetNames(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a reminder. Absent IDs fail with NotFound.
func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Reminder{}, id)
	if res.Error != nil {
		return apperr.Internal(res.Error, "delete reminder %d", id)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("id", "reminder %d not found", id)
	}
	return nil
}

// SavePet inserts or updates a pet.
func (s *Store) SavePet(ctx context.Context, p *model.Pet) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return apperr.Internal(err, "save pet")
	}
	return nil
}

// PetName returns the name of a pet, or "" when it does not exist.
func (s *Store) PetName(ctx context.Context, id uint) (string, error) {
	var p model.Pet
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Internal(err, "load pet %d", id)
	}
	return p.Name, nil
}

// attachPetNames resolves PetName for every reminder with a PetID in one
// query. Dangling pet IDs leave the name empty.
func (s *Store) attachPetNames(ctx context.Context, rs []*model.Reminder) error {
	ids := make([]uint, 0, len(rs))
	for _, r := range rs {
		if r.PetID != nil {
			ids = append(ids, *r.PetID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var pets []model.Pet
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&pets).Error; err != nil {
		return apperr.Internal(err, "load pets")
	}
	names := make(map[uint]string, len(pets))
	for _, p := range pets {
		names[p.ID] = p.Name
	}
	for _, r := range rs {
		if r.PetID != nil {
			r.PetName = names[*r.PetID]
		}
	}
	return nil
}
