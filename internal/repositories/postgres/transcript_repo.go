package postgres

import (
	"context"

	"github.com/yoockh/mockcall/internal/models"
	"gorm.io/gorm"
)

type TranscriptRepo interface {
	ListByInterview(ctx context.Context, interviewID string) ([]models.TranscriptSegment, error)
}

type transcriptRepo struct {
	db *gorm.DB
}

func NewTranscriptRepo(db *gorm.DB) TranscriptRepo {
	return &transcriptRepo{db: db}
}

func (r *transcriptRepo) ListByInterview(ctx context.Context, interviewID string) ([]models.TranscriptSegment, error) {
	var rows []models.TranscriptSegment
	err := r.db.WithContext(ctx).
		Where("interview_id = ?", interviewID).
		Order("segment_index ASC").
		Find(&rows).Error
	return rows, err
}
