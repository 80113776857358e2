package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/mockcall/internal/services"
	"github.com/yoockh/mockcall/internal/storage"
	"github.com/yoockh/mockcall/internal/utils"
	"github.com/yoockh/mockcall/internal/workers"
)

type FeedbackEnqueuer interface {
	Enqueue(ctx context.Context, job workers.FeedbackJob) (string, error)
}

const transcriptLinkTTL = 15 * time.Minute

type FeedbackHandler struct {
	queue  FeedbackEnqueuer
	svc    services.FeedbackService
	signer storage.Signer
}

// NewFeedbackHandler accepts a nil signer; feedback is then served without
// a transcript link.
func NewFeedbackHandler(queue FeedbackEnqueuer, svc services.FeedbackService, signer storage.Signer) *FeedbackHandler {
	return &FeedbackHandler{queue: queue, svc: svc, signer: signer}
}

type SubmitFeedbackRequest struct {
	CallID       string          `json:"call_id"`
	Transcript   json.RawMessage `json:"transcript"`
	DurationMs   int64           `json:"duration_ms"`
	FeedbackJSON string          `json:"feedback_json"`
	FeedbackText string          `json:"feedback_text"`
}

// Submit queues the post-call pipeline for one interview.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	const op = "FeedbackHandler.Submit"

	interviewID, ok := requireUUIDParam(c, op, "interview_id")
	if !ok {
		return
	}
	var req SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	if req.DurationMs < 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "duration_ms must not be negative", nil))
		return
	}

	id, err := h.queue.Enqueue(c.Request.Context(), workers.FeedbackJob{
		InterviewID:  interviewID,
		CallID:       req.CallID,
		Transcript:   req.Transcript,
		DurationMs:   req.DurationMs,
		FeedbackJSON: req.FeedbackJSON,
		FeedbackText: req.FeedbackText,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"interview_id": interviewID, "job_id": id})
}

func (h *FeedbackHandler) Get(c *gin.Context) {
	interviewID, ok := requireUUIDParam(c, "FeedbackHandler.Get", "interview_id")
	if !ok {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), interviewID)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.signer != nil && view.Feedback != nil && view.Feedback.TranscriptArchiveURL != "" {
		url, err := h.signer.SignedGetURL(c.Request.Context(), storage.TranscriptObject(interviewID), transcriptLinkTTL)
		if err != nil {
			// the scores are still worth returning
			_ = c.Error(err)
		} else {
			view.TranscriptURL = url
		}
	}
	c.JSON(http.StatusOK, view)
}
