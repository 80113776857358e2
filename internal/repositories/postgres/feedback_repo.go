package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/mockcall/internal/models"
	"github.com/yoockh/mockcall/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FeedbackRepo interface {
	// Save replaces the interview's segments and upserts its feedback row in
	// one transaction, so running the same job twice leaves the same state.
	Save(ctx context.Context, fb *models.InterviewFeedback, segments []models.TranscriptSegment) error
	Get(ctx context.Context, interviewID string) (*models.InterviewFeedback, error)
}

type feedbackRepo struct {
	db *gorm.DB
}

func NewFeedbackRepo(db *gorm.DB) FeedbackRepo {
	return &feedbackRepo{db: db}
}

func (r *feedbackRepo) Save(ctx context.Context, fb *models.InterviewFeedback, segments []models.TranscriptSegment) error {
	stamp(&fb.UpdatedAt)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("interview_id = ?", fb.InterviewID).Delete(&models.TranscriptSegment{}).Error; err != nil {
			return err
		}
		if len(segments) > 0 {
			for i := range segments {
				stamp(&segments[i].CreatedAt)
			}
			if err := tx.CreateInBatches(segments, 200).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "interview_id"}},
			UpdateAll: true,
		}).Create(fb).Error
	})
}

func (r *feedbackRepo) Get(ctx context.Context, interviewID string) (*models.InterviewFeedback, error) {
	var row models.InterviewFeedback
	err := r.db.WithContext(ctx).Where("interview_id = ?", interviewID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}
