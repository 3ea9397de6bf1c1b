package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarcDasilva/MyClientData/internal/config"
	"github.com/MarcDasilva/MyClientData/internal/face"
	"github.com/MarcDasilva/MyClientData/internal/logging"
	"github.com/MarcDasilva/MyClientData/internal/retry"
)

// FaceRow is the postgres representation of a face record.
type FaceRow struct {
	Seq       uint            `gorm:"primaryKey;autoIncrement"`
	UID       string          `gorm:"column:uid;uniqueIndex;size:36"`
	Name      string          `gorm:"column:name;index;size:255"`
	Info      string          `gorm:"column:info;type:text"`
	Embedding pgvector.Vector `gorm:"column:embedding;type:vector"`
	ImageName string          `gorm:"column:image_name;size:512"`
	CreatedAt time.Time       `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (FaceRow) TableName() string {
	return "faces"
}

// PostgresStore keeps face records in PostgreSQL with a pgvector column.
type PostgresStore struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// OpenPostgres connects, tunes the pool and pings the database.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info("connected to postgres")
	return db, nil
}

// NewPostgresStore wraps an open gorm handle.
func NewPostgresStore(db *gorm.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.Named("postgres_store"), policy: retry.DefaultPolicy}
}

// AutoMigrate enables the vector extension and creates the faces table.
func (s *PostgresStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}
	return s.db.WithContext(ctx).AutoMigrate(&FaceRow{})
}

func (s *PostgresStore) Insert(ctx context.Context, rec *face.Record) error {
	if err := prepare(rec); err != nil {
		return err
	}
	row := FaceRow{
		UID:       uuid.NewString(),
		Name:      rec.Name,
		Info:      rec.Info,
		Embedding: pgvector.NewVector(rec.Embedding),
		ImageName: rec.ImageName,
		CreatedAt: rec.CreatedAt,
	}
	err := retry.Do(ctx, s.policy, s.logger, "postgres.insert", logging.RequestIDFromContext(ctx), func() error {
		return s.db.WithContext(ctx).Create(&row).Error
	})
	if err != nil {
		return err
	}
	rec.ID = row.UID
	return nil
}

func (s *PostgresStore) All(ctx context.Context) ([]face.Record, error) {
	var rows []FaceRow
	err := retry.Do(ctx, s.policy, s.logger, "postgres.all", logging.RequestIDFromContext(ctx), func() error {
		rows = rows[:0]
		return s.db.WithContext(ctx).Order("seq").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]face.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, face.Record{
			ID:        r.UID,
			Name:      r.Name,
			Info:      r.Info,
			Embedding: face.Embedding(r.Embedding.Slice()),
			ImageName: r.ImageName,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *PostgresStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
