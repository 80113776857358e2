package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CallEventConnected         = "connected"
	CallEventTimeWarning       = "time_warning"
	CallEventCongruencyChecked = "congruency_checked"
	CallEventTerminated        = "terminated"
)

type CallEvent struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CallID      string             `bson:"call_id" json:"call_id"`
	UserID      string             `bson:"user_id,omitempty" json:"user_id,omitempty"`
	InterviewID string             `bson:"interview_id,omitempty" json:"interview_id,omitempty"`

	Type   string         `bson:"type" json:"type"`
	Reason string         `bson:"reason,omitempty" json:"reason,omitempty"`
	Detail map[string]any `bson:"detail,omitempty" json:"detail,omitempty"`

	At        time.Time `bson:"at" json:"at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
