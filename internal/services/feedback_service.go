package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yoockh/mockcall/internal/congruency"
	"github.com/yoockh/mockcall/internal/feedback"
	"github.com/yoockh/mockcall/internal/models"
	pgrepo "github.com/yoockh/mockcall/internal/repositories/postgres"
	"github.com/yoockh/mockcall/internal/transcript"
	"github.com/yoockh/mockcall/internal/utils"
)

// FeedbackRecord is everything the post-call pipeline derived for one
// interview.
type FeedbackRecord struct {
	InterviewID string
	CallID      string
	Transcript  transcript.Result
	Feedback    feedback.Parsed
	Congruency  *congruency.Analysis
	ArchiveURL  string
}

type FeedbackView struct {
	Feedback *models.InterviewFeedback  `json:"feedback"`
	Segments []models.TranscriptSegment `json:"segments"`
	// TranscriptURL is a short-lived download link for the archived transcript.
	TranscriptURL string `json:"transcript_url,omitempty"`
}

// FeedbackSink persists normalized segments and scores keyed by interview.
type FeedbackSink interface {
	Save(ctx context.Context, rec FeedbackRecord) error
}

type FeedbackService interface {
	FeedbackSink
	Get(ctx context.Context, interviewID string) (*FeedbackView, error)
}

type feedbackService struct {
	feedback    pgrepo.FeedbackRepo
	transcripts pgrepo.TranscriptRepo
}

func NewFeedbackService(fb pgrepo.FeedbackRepo, tr pgrepo.TranscriptRepo) FeedbackService {
	return &feedbackService{feedback: fb, transcripts: tr}
}

func (s *feedbackService) Save(ctx context.Context, rec FeedbackRecord) error {
	const op = "FeedbackService.Save"

	if rec.InterviewID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "interview_id is required", nil)
	}

	narrative, err := json.Marshal(rec.Feedback.Narrative)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode narrative", err)
	}
	row := &models.InterviewFeedback{
		InterviewID:          rec.InterviewID,
		CallID:               rec.CallID,
		OverallScore:         rec.Feedback.Scores.ResolvedOverall(),
		ContentScore:         rec.Feedback.Scores.Content,
		CommunicationScore:   rec.Feedback.Scores.Communication,
		ConfidenceScore:      rec.Feedback.Scores.Confidence,
		TechnicalScore:       rec.Feedback.Scores.Technical,
		ProblemSolvingScore:  rec.Feedback.Scores.ProblemSolving,
		ScoreSource:          string(rec.Feedback.Source),
		Narrative:            datatypes.JSON(narrative),
		TranscriptSource:     string(rec.Transcript.Source),
		TotalDurationMs:      rec.Transcript.TotalDurationMs,
		TranscriptArchiveURL: rec.ArchiveURL,
	}
	if rec.Congruency != nil {
		b, err := json.Marshal(rec.Congruency)
		if err != nil {
			return utils.E(utils.CodeInternal, op, "failed to encode congruency review", err)
		}
		row.Congruency = datatypes.JSON(b)
	}

	segs := make([]models.TranscriptSegment, 0, len(rec.Transcript.Segments))
	for _, sg := range rec.Transcript.Segments {
		segs = append(segs, models.TranscriptSegment{
			ID:             uuid.NewString(),
			InterviewID:    rec.InterviewID,
			SegmentIndex:   sg.SegmentIndex,
			Speaker:        string(sg.Speaker),
			Content:        sg.Content,
			StartMs:        sg.StartMs,
			EndMs:          sg.EndMs,
			SentimentScore: sg.SentimentScore,
		})
	}

	if err := s.feedback.Save(ctx, row, segs); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to persist feedback", err)
	}
	return nil
}

func (s *feedbackService) Get(ctx context.Context, interviewID string) (*FeedbackView, error) {
	const op = "FeedbackService.Get"

	if interviewID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interview_id is required", nil)
	}
	fb, err := s.feedback.Get(ctx, interviewID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "feedback not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get feedback", err)
	}
	segs, err := s.transcripts.ListByInterview(ctx, interviewID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list segments", err)
	}
	return &FeedbackView{Feedback: fb, Segments: segs}, nil
}
