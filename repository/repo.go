package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"media-pipeline/entities"
)

type ContentRepository interface {
	GetDB() *gorm.DB
	InsertContentRecord(ctx context.Context, record *entities.ContentRecord) error
	DeleteContentRecord(ctx context.Context, id uuid.UUID) error
	FindContentRecordById(ctx context.Context, id uuid.UUID) (*entities.ContentRecord, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) ContentRepository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger:         logger.Default.LogMode(logger.Warn),
			TranslateError: true,
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) InsertContentRecord(ctx context.Context, record *entities.ContentRecord) error {
	return r.GetDB().WithContext(ctx).Create(record).Error
}

func (r *repo) DeleteContentRecord(ctx context.Context, id uuid.UUID) error {
	return r.GetDB().WithContext(ctx).Delete(&entities.ContentRecord{}, "id = ?", id).Error
}

func (r *repo) FindContentRecordById(ctx context.Context, id uuid.UUID) (*entities.ContentRecord, error) {
	record := &entities.ContentRecord{}
	err := r.GetDB().WithContext(ctx).First(record, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return record, nil
}
