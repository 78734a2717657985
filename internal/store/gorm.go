package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/koios/qr-decoder/pkg/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ProcessingLogRecord is the relational row for one processing attempt.
// Timestamps are stored as Unix milliseconds so range scans compare numbers on
// every dialect.
type ProcessingLogRecord struct {
	ID               string  `gorm:"primaryKey;type:varchar(36)"`
	FileName         string  `gorm:"type:varchar(255);not null"`
	FileSize         int64   `gorm:"not null"`
	FileType         string  `gorm:"type:varchar(64);index;not null"`
	ProcessingTimeMs float64 `gorm:"not null"`
	Success          bool    `gorm:"index;not null"`
	ErrorMessage     string  `gorm:"type:text"`
	Content          string  `gorm:"type:text"`
	TimestampMs      int64   `gorm:"column:timestamp_ms;index;not null"`
	ClientID         string  `gorm:"type:varchar(64)"`
}

// TableName pins the table name across dialects
func (ProcessingLogRecord) TableName() string {
	return "processing_logs"
}

func recordFromModel(entry *models.ProcessingLog) *ProcessingLogRecord {
	return &ProcessingLogRecord{
		ID:               entry.ID,
		FileName:         entry.FileName,
		FileSize:         entry.FileSize,
		FileType:         entry.FileType,
		ProcessingTimeMs: entry.ProcessingTimeMs,
		Success:          entry.Success,
		ErrorMessage:     entry.ErrorMessage,
		Content:          entry.Content,
		TimestampMs:      entry.Timestamp.UnixMilli(),
		ClientID:         entry.ClientID,
	}
}

func (r *ProcessingLogRecord) toModel() models.ProcessingLog {
	return models.ProcessingLog{
		ID:               r.ID,
		FileName:         r.FileName,
		FileSize:         r.FileSize,
		FileType:         r.FileType,
		ProcessingTimeMs: r.ProcessingTimeMs,
		Success:          r.Success,
		ErrorMessage:     r.ErrorMessage,
		Content:          r.Content,
		Timestamp:        time.UnixMilli(r.TimestampMs).UTC(),
		ClientID:         r.ClientID,
	}
}

type gormStore struct {
	db *gorm.DB
}

// OpenGorm opens the relational database for driver and migrates the schema.
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported relational driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.AutoMigrate(&ProcessingLogRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// NewGorm builds a store on an open database handle.
func NewGorm(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store requires database handle")
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Insert(ctx context.Context, entry *models.ProcessingLog) error {
	err := s.db.WithContext(ctx).Create(recordFromModel(entry)).Error
	return persistenceError("store.Insert", err)
}

func (s *gormStore) CountSuccessful(ctx context.Context, since time.Time) (int64, error) {
	query := s.db.WithContext(ctx).Model(&ProcessingLogRecord{}).Where("success = ?", true)
	if !since.IsZero() {
		query = query.Where("timestamp_ms >= ?", since.UnixMilli())
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, persistenceError("store.CountSuccessful", err)
	}
	return count, nil
}

func (s *gormStore) Recent(ctx context.Context, limit int) ([]models.ProcessingLog, error) {
	var records []ProcessingLogRecord
	err := s.db.WithContext(ctx).
		Order("timestamp_ms DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, persistenceError("store.Recent", err)
	}

	entries := make([]models.ProcessingLog, 0, len(records))
	for i := range records {
		entries = append(entries, records[i].toModel())
	}
	return entries, nil
}

func (s *gormStore) Summary(ctx context.Context) (models.ProcessingSummary, error) {
	db := s.db.WithContext(ctx)

	var total, successful int64
	if err := db.Model(&ProcessingLogRecord{}).Count(&total).Error; err != nil {
		return models.ProcessingSummary{}, persistenceError("store.Summary", err)
	}
	if err := db.Model(&ProcessingLogRecord{}).Where("success = ?", true).Count(&successful).Error; err != nil {
		return models.ProcessingSummary{}, persistenceError("store.Summary", err)
	}

	var avg sql.NullFloat64
	row := db.Model(&ProcessingLogRecord{}).Select("AVG(processing_time_ms)").Row()
	if err := row.Scan(&avg); err != nil {
		return models.ProcessingSummary{}, persistenceError("store.Summary", err)
	}

	return summarize(total, successful, avg.Float64), nil
}

func (s *gormStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("timestamp_ms < ?", before.UnixMilli()).
		Delete(&ProcessingLogRecord{})
	if res.Error != nil {
		return 0, persistenceError("store.Prune", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return persistenceError("store.Ping", err)
	}
	return persistenceError("store.Ping", sqlDB.PingContext(ctx))
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
