package models

import (
	"time"

	"gorm.io/datatypes"
)

type InterviewFeedback struct {
	InterviewID          string         `gorm:"column:interview_id;type:uuid;primaryKey" json:"interview_id"`
	CallID               string         `gorm:"column:call_id;type:text;index" json:"call_id"`
	OverallScore         *int           `gorm:"column:overall_score" json:"overall_score,omitempty"`
	ContentScore         *int           `gorm:"column:content_score" json:"content_score,omitempty"`
	CommunicationScore   *int           `gorm:"column:communication_score" json:"communication_score,omitempty"`
	ConfidenceScore      *int           `gorm:"column:confidence_score" json:"confidence_score,omitempty"`
	TechnicalScore       *int           `gorm:"column:technical_score" json:"technical_score,omitempty"`
	ProblemSolvingScore  *int           `gorm:"column:problem_solving_score" json:"problem_solving_score,omitempty"`
	ScoreSource          string         `gorm:"column:score_source;type:text" json:"score_source"`
	Narrative            datatypes.JSON `gorm:"column:narrative;type:jsonb" json:"narrative"`
	Congruency           datatypes.JSON `gorm:"column:congruency;type:jsonb" json:"congruency,omitempty"`
	TranscriptSource     string         `gorm:"column:transcript_source;type:text" json:"transcript_source"`
	TotalDurationMs      int64          `gorm:"column:total_duration_ms" json:"total_duration_ms"`
	TranscriptArchiveURL string         `gorm:"column:transcript_archive_url;type:text" json:"transcript_archive_url,omitempty"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (InterviewFeedback) TableName() string { return "interview_feedback" }
