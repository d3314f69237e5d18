package entities

import (
	"time"

	"github.com/google/uuid"

	"media-pipeline/constant"
)

type ContentRecord struct {
	ID        uuid.UUID              `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserId    uuid.UUID              `json:"user_id" gorm:"type:uuid;not null;index:idx_content_records_user_id"`
	Type      string                 `json:"type" gorm:"type:varchar(20);not null"`
	MediaUrl  string                 `json:"media_url" gorm:"type:varchar(500);not null;uniqueIndex:unique_media_url"`
	Status    constant.ContentStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	CreatedAt time.Time              `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time              `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (ContentRecord) TableName() string {
	return "content_records"
}
