package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/mockcall/internal/callcontext"
	"github.com/yoockh/mockcall/internal/models"
	"github.com/yoockh/mockcall/internal/services"
	"github.com/yoockh/mockcall/internal/session"
	"github.com/yoockh/mockcall/internal/utils"
)

// CallContextHandler is the registration boundary used by the backend that
// books calls, before the voice transport connects.
type CallContextHandler struct {
	store  callcontext.Store
	events services.CallEventService
}

func NewCallContextHandler(store callcontext.Store, events services.CallEventService) *CallContextHandler {
	return &CallContextHandler{store: store, events: events}
}

type PutCallContextRequest struct {
	UserID         string `json:"user_id" binding:"required,uuid"`
	InterviewID    string `json:"interview_id" binding:"required,uuid"`
	ResumeText     string `json:"resume_text"`
	JobTitle       string `json:"job_title" binding:"required"`
	JobDescription string `json:"job_description"`
	Language       string `json:"language"`
	CandidateName  string `json:"candidate_name"`
	AgentID        string `json:"agent_id"`
}

func (h *CallContextHandler) Put(c *gin.Context) {
	const op = "CallContextHandler.Put"

	callID, ok := session.ResolveCallID(c.Param("call_id"))
	if !ok {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid call_id", nil))
		return
	}

	var req PutCallContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	cc := &models.CallContext{
		CallID:         callID,
		UserID:         req.UserID,
		InterviewID:    req.InterviewID,
		ResumeText:     req.ResumeText,
		JobTitle:       req.JobTitle,
		JobDescription: req.JobDescription,
		Language:       req.Language,
		CandidateName:  req.CandidateName,
		AgentID:        req.AgentID,
	}
	if err := h.store.Put(c.Request.Context(), cc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cc)
}

func (h *CallContextHandler) Get(c *gin.Context) {
	callID, ok := requireParam(c, "CallContextHandler.Get", "call_id")
	if !ok {
		return
	}
	cc, err := h.store.Get(c.Request.Context(), callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cc)
}

func (h *CallContextHandler) Events(c *gin.Context) {
	callID, ok := requireParam(c, "CallContextHandler.Events", "call_id")
	if !ok {
		return
	}
	evs, err := h.events.List(c.Request.Context(), callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "events": evs})
}
