package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/mockcall/internal/callcontext"
	"github.com/yoockh/mockcall/internal/congruency"
	"github.com/yoockh/mockcall/internal/feedback"
	"github.com/yoockh/mockcall/internal/services"
	"github.com/yoockh/mockcall/internal/storage"
	"github.com/yoockh/mockcall/internal/transcript"
	"github.com/yoockh/mockcall/internal/utils"
)

const DefaultFeedbackStream = "feedback:jobs"

// FeedbackJob is one finished call handed to the post-call pipeline.
type FeedbackJob struct {
	InterviewID  string          `json:"interview_id"`
	CallID       string          `json:"call_id,omitempty"`
	Transcript   json.RawMessage `json:"transcript,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	FeedbackJSON string          `json:"feedback_json,omitempty"`
	FeedbackText string          `json:"feedback_text,omitempty"`
}

type FeedbackQueue struct {
	Redis  redis.Cmdable
	Stream string
}

func (q *FeedbackQueue) Enqueue(ctx context.Context, job FeedbackJob) (string, error) {
	if job.InterviewID == "" {
		return "", utils.E(utils.CodeInvalidArgument, "FeedbackQueue.Enqueue", "interview_id is required", nil)
	}
	stream := q.Stream
	if stream == "" {
		stream = DefaultFeedbackStream
	}
	id, err := Publish(ctx, q.Redis, stream, job)
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, "FeedbackQueue.Enqueue", "failed to enqueue feedback job", err)
	}
	return id, nil
}

type Reviewer interface {
	Review(ctx context.Context, in congruency.Input) (congruency.Analysis, error)
}

// FeedbackHandler normalizes the transcript, resolves scores, archives the
// transcript and persists everything through the sink. Archive, Reviewer
// and Contexts are optional; the review needs both of the latter.
type FeedbackHandler struct {
	Sink       services.FeedbackSink
	Archive    storage.Uploader
	Reviewer   Reviewer
	Contexts   callcontext.Store
	Logger     logrus.FieldLogger
	MaxElapsed time.Duration
}

func (h *FeedbackHandler) Handle(ctx context.Context, msg redis.XMessage) error {
	log := h.logger().WithField("redis_id", msg.ID)

	var job FeedbackJob
	if err := DecodePayload(msg, &job); err != nil || job.InterviewID == "" {
		log.WithError(err).Error("dropping invalid feedback job")
		return nil
	}
	log = log.WithFields(logrus.Fields{"interview_id": job.InterviewID, "call_id": job.CallID})

	raw, err := transcript.ParseRaw(job.Transcript)
	if err != nil {
		log.WithError(err).Warn("transcript payload unreadable, continuing without it")
		raw = transcript.Raw{}
	}
	result := transcript.Normalize(raw, job.DurationMs)
	parsed := feedback.Resolve(job.FeedbackJSON, job.FeedbackText)

	rec := services.FeedbackRecord{
		InterviewID: job.InterviewID,
		CallID:      job.CallID,
		Transcript:  result,
		Feedback:    parsed,
		Congruency:  h.review(ctx, job, result, log),
	}

	if h.Archive != nil {
		err := h.retry(ctx, func() error {
			url, err := storage.ArchiveJSON(ctx, h.Archive, storage.TranscriptObject(job.InterviewID), result)
			rec.ArchiveURL = url
			return err
		})
		if err != nil {
			log.WithError(err).Warn("transcript archive failed, saving feedback without it")
		}
	}

	if err := h.retry(ctx, func() error { return h.Sink.Save(ctx, rec) }); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"segments":          len(result.Segments),
		"transcript_source": result.Source,
		"score_source":      parsed.Source,
	}).Info("feedback saved")
	return nil
}

func (h *FeedbackHandler) review(ctx context.Context, job FeedbackJob, result transcript.Result, log logrus.FieldLogger) *congruency.Analysis {
	if h.Reviewer == nil || h.Contexts == nil || job.CallID == "" {
		return nil
	}
	cc, err := h.Contexts.Get(ctx, job.CallID)
	if err != nil {
		log.WithError(err).Debug("call context gone, skipping congruency review")
		return nil
	}
	turns := make([]congruency.Turn, 0, len(result.Segments))
	for _, s := range result.Segments {
		turns = append(turns, congruency.Turn{Role: string(s.Speaker), Content: s.Content})
	}
	a, err := h.Reviewer.Review(ctx, congruency.Input{
		ResumeText:     cc.ResumeText,
		JobTitle:       cc.JobTitle,
		JobDescription: cc.JobDescription,
		Conversation:   turns,
	})
	if err != nil {
		log.WithError(err).Warn("congruency review failed")
		return nil
	}
	return &a
}

func (h *FeedbackHandler) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryBudget(h.MaxElapsed)
	return backoff.Retry(func() error {
		err := op()
		if utils.IsCode(err, utils.CodeInvalidArgument) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func (h *FeedbackHandler) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}
