package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements the RelationalStore interface using gorm over
// sqlite. It holds the metadata catalog for all files, content rows for
// relational-tier files, and the settings row.
type SQLiteStore struct {
	db *gorm.DB
}

// isDuplicateErr matches primary-key collisions whether or not the dialector
// translates them
func isDuplicateErr(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}

// fileContent is one relational-tier payload. The BLOB column round-trips
// bytes exactly.
type fileContent struct {
	ID   string `gorm:"primaryKey;column:id"`
	Data []byte `gorm:"column:data"`
}

func (fileContent) TableName() string { return "file_contents" }

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %v", path, err)
	}

	// sqlite has a single writer; one pooled connection also keeps
	// :memory: databases on one handle
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return &SQLiteStore{db: db}, nil
}

// Initialize creates the schema. Safe to call on every startup; existing
// tables are left alone.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&FileRecord{}, &fileContent{}, &Settings{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %v", err)
	}
	return nil
}

// StoreMetadata inserts one catalog row
func (s *SQLiteStore) StoreMetadata(ctx context.Context, record *FileRecord) error {
	err := s.db.WithContext(ctx).Create(record).Error
	if err != nil {
		if isDuplicateErr(err) {
			return fmt.Errorf("metadata row %s: %w", record.ID, ErrDuplicateID)
		}
		return fmt.Errorf("failed to store metadata for %s: %v", record.ID, err)
	}
	return nil
}

// GetMetadata returns the catalog row for id, or ErrNotFound
func (s *SQLiteStore) GetMetadata(ctx context.Context, id string) (*FileRecord, error) {
	var record FileRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata for %s: %v", id, err)
	}
	return &record, nil
}

// DeleteMetadata removes the catalog row for id, idempotently
func (s *SQLiteStore) DeleteMetadata(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Delete(&FileRecord{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %v", id, err)
	}
	return nil
}

// List returns every catalog row, most recently created first
func (s *SQLiteStore) List(ctx context.Context) ([]*FileRecord, error) {
	var records []*FileRecord
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %v", err)
	}
	return records, nil
}

// StoreContent writes a relational-tier payload under id
func (s *SQLiteStore) StoreContent(ctx context.Context, id string, data io.Reader) error {
	payload, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read content for %s: %v", id, err)
	}

	err = s.db.WithContext(ctx).Create(&fileContent{ID: id, Data: payload}).Error
	if err != nil {
		if isDuplicateErr(err) {
			return fmt.Errorf("content row %s: %w", id, ErrDuplicateID)
		}
		return fmt.Errorf("failed to store content for %s: %v", id, err)
	}
	return nil
}

// RetrieveContent returns the payload stored under id, or ErrNotFound
func (s *SQLiteStore) RetrieveContent(ctx context.Context, id string) (io.ReadCloser, error) {
	var content fileContent
	err := s.db.WithContext(ctx).First(&content, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content for %s: %v", id, err)
	}
	return io.NopCloser(bytes.NewReader(content.Data)), nil
}

// DeleteContent removes the payload row. Failure is reported as false; an
// already-absent row counts as success.
func (s *SQLiteStore) DeleteContent(ctx context.Context, id string) bool {
	err := s.db.WithContext(ctx).Delete(&fileContent{}, "id = ?", id).Error
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete content row")
		return false
	}
	return true
}

// ContentExists reports whether a payload row exists for id
func (s *SQLiteStore) ContentExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&fileContent{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check content for %s: %v", id, err)
	}
	return count > 0, nil
}

// SaveSettings upserts the single settings row: the first existing row is
// updated in place, otherwise a new row is inserted with a generated id.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *Settings) error {
	var existing Settings
	err := s.db.WithContext(ctx).Order("id").First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		settings.ID = GenerateID(SettingsIDLength)
		if err := s.db.WithContext(ctx).Create(settings).Error; err != nil {
			return fmt.Errorf("failed to insert settings: %v", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up settings: %v", err)
	default:
		settings.ID = existing.ID
		if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
			return fmt.Errorf("failed to update settings: %v", err)
		}
	}
	return nil
}

// LoadSettings returns the first settings row, or an empty Settings when
// none has been saved yet
func (s *SQLiteStore) LoadSettings(ctx context.Context) (*Settings, error) {
	var settings Settings
	err := s.db.WithContext(ctx).Order("id").First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("failed to load settings: %v", err)
	}
	return &settings, nil
}
