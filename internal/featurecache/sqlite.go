// Package featurecache holds the durable feature cache backends.
package featurecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/clause"

	"github.com/himanishpuri/LoopProfiler/internal/features"
)

const DefaultDBFile = "features.sqlite3"

// Entry is one cached feature vector.
type Entry struct {
	CacheKey            string `gorm:"column:cache_key;primaryKey;type:varchar(16)"`
	AmplitudeSmoothness float64
	SpectralSimilarity  float64
	TempoConsistency    float64
	LoudnessMatching    float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (Entry) TableName() string { return "feature_cache" }

func (e Entry) vector() features.Vector {
	return features.Vector{
		AmplitudeSmoothness: e.AmplitudeSmoothness,
		SpectralSimilarity:  e.SpectralSimilarity,
		TempoConsistency:    e.TempoConsistency,
		LoudnessMatching:    e.LoudnessMatching,
	}
}

// SQLite is a features.Cache stored in a single SQLite file.
type SQLite struct {
	DB *gorm.DB
	db *sql.DB
}

var _ features.Cache = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the cache database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite cache: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	// One writer at a time; extraction workers share the handle.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLite{DB: db, db: sqlDB}, nil
}

func (c *SQLite) Get(ctx context.Context, key string) (features.Vector, bool, error) {
	var e Entry
	err := c.DB.WithContext(ctx).Where("cache_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return features.Vector{}, false, nil
	}
	if err != nil {
		return features.Vector{}, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	v := e.vector()
	if !valid(v) {
		return features.Vector{}, false, fmt.Errorf("cache entry %s out of range", key)
	}
	return v, true, nil
}

func (c *SQLite) Put(ctx context.Context, key string, v features.Vector) error {
	e := Entry{
		CacheKey:            key,
		AmplitudeSmoothness: v.AmplitudeSmoothness,
		SpectralSimilarity:  v.SpectralSimilarity,
		TempoConsistency:    v.TempoConsistency,
		LoudnessMatching:    v.LoudnessMatching,
	}
	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"amplitude_smoothness", "spectral_similarity", "tempo_consistency", "loudness_matching", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return nil
}

// Count returns the number of cached vectors.
func (c *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.DB.WithContext(ctx).Model(&Entry{}).Count(&n).Error
	return n, err
}

// Clear drops every cached vector.
func (c *SQLite) Clear(ctx context.Context) error {
	return c.DB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Entry{}).Error
}

func (c *SQLite) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func valid(v features.Vector) bool {
	for _, x := range v.Slice() {
		if !(x >= 0 && x <= 1) {
			return false
		}
	}
	return true
}
