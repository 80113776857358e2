package models

import (
	"strings"
	"time"
)

// CallContext is the static per-call data written once at registration and
// read when the call's socket connects.
type CallContext struct {
	CallID         string    `json:"call_id"`
	UserID         string    `json:"user_id"`
	InterviewID    string    `json:"interview_id"`
	ResumeText     string    `json:"resume_text"`
	JobTitle       string    `json:"job_title"`
	JobDescription string    `json:"job_description"`
	Language       string    `json:"language"`
	CandidateName  string    `json:"candidate_name,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	RegisteredAt   time.Time `json:"registered_at"`
}

func (c CallContext) Valid() bool {
	return strings.TrimSpace(c.CallID) != "" && strings.TrimSpace(c.UserID) != "" && strings.TrimSpace(c.InterviewID) != ""
}
