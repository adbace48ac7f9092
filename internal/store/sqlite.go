package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// snapshotRow is the single table backing SQLiteStore.
type snapshotRow struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "snapshots" }

// SQLiteStore implements KV in a local SQLite file. It is the durable
// per-profile storage used when no shared database is configured.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	quiet := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 quiet,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing gorm connection and ensures the schema.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate snapshots table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	row := snapshotRow{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set snapshot %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&snapshotRow{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
