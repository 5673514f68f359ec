package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tb0hdan/toolpilot-mcp/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// GormStorage keeps session and interaction rows in a SQL database.
// Writes are upserts keyed by primary id, so retries and replays are safe.
type GormStorage struct {
	db *gorm.DB
}

type Config struct {
	Driver       string
	DatabasePath string
	DSN          string
	Debug        bool
}

// New opens the storage selected by cfg.Driver. An empty driver means SQLite.
func New(cfg Config) (*GormStorage, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLiteStorage(cfg)
	case DriverPostgres:
		return NewPostgresStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func NewSQLiteStorage(cfg Config) (*GormStorage, error) {
	return open(sqlite.Open(cfg.DatabasePath), cfg.Debug)
}

func NewPostgresStorage(cfg Config) (*GormStorage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres storage requires a DSN")
	}
	return open(postgres.Open(cfg.DSN), cfg.Debug)
}

func open(dialector gorm.Dialector, debug bool) (*GormStorage, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// Auto-migrate schema
	if err := database.AutoMigrate(&models.ToolSession{}, &models.ToolInteraction{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormStorage{db: database}, nil
}

func (s *GormStorage) UpsertSession(ctx context.Context, row *models.ToolSession) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}

func (s *GormStorage) GetSession(ctx context.Context, id, userID string) (*models.ToolSession, error) {
	var row models.ToolSession
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *GormStorage) ListSessions(ctx context.Context, userID string, limit, offset int) ([]models.ToolSession, int64, error) {
	var rows []models.ToolSession
	var total int64

	if err := s.db.WithContext(ctx).Model(&models.ToolSession{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&rows).Error
	return rows, total, err
}

func (s *GormStorage) DeleteSession(ctx context.Context, id, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.ToolSession{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return tx.Where("session_id = ?", id).Delete(&models.ToolInteraction{}).Error
	})
}

func (s *GormStorage) DeleteAllSessions(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.ToolSession{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&models.ToolInteraction{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.ToolSession{}).Error
	})
}

func (s *GormStorage) UpsertInteractions(ctx context.Context, rows []models.ToolInteraction) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
}

func (s *GormStorage) GetInteractions(ctx context.Context, sessionID string) ([]models.ToolInteraction, error) {
	var rows []models.ToolInteraction
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
