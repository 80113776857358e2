package models

import "time"

type TranscriptSegment struct {
	ID             string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InterviewID    string    `gorm:"column:interview_id;type:uuid;uniqueIndex:uniq_interview_segment,priority:1" json:"interview_id"`
	SegmentIndex   int       `gorm:"column:segment_index;uniqueIndex:uniq_interview_segment,priority:2" json:"segment_index"`
	Speaker        string    `gorm:"column:speaker;type:text" json:"speaker"` // agent|user
	Content        string    `gorm:"column:content;type:text" json:"content"`
	StartMs        int64     `gorm:"column:start_ms" json:"start_ms"`
	EndMs          int64     `gorm:"column:end_ms" json:"end_ms"`
	SentimentScore *float64  `gorm:"column:sentiment_score" json:"sentiment_score,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (TranscriptSegment) TableName() string { return "transcript_segments" }
