package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type InteractionType string

const (
	InteractionConfig           InteractionType = "config"
	InteractionUpdateOnly       InteractionType = "update_only"
	InteractionResponseRequired InteractionType = "response_required"
	InteractionReminderRequired InteractionType = "reminder_required"
	InteractionPingPong         InteractionType = "ping_pong"
)

const (
	SpeakerAgent = "agent"
	SpeakerUser  = "user"
)

type Utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Inbound is any frame the voice transport sends us. Which fields are set
// depends on InteractionType.
type Inbound struct {
	InteractionType InteractionType `json:"interaction_type"`
	ResponseID      *int            `json:"response_id,omitempty"`
	Transcript      []Utterance     `json:"transcript,omitempty"`
	Language        string          `json:"language,omitempty"`
	Persona         string          `json:"persona,omitempty"`
	Timestamp       int64           `json:"timestamp,omitempty"`
}

func (in Inbound) wantsReply() bool {
	return in.InteractionType == InteractionResponseRequired || in.InteractionType == InteractionReminderRequired
}

var errMalformed = errors.New("malformed frame")

// ParseInbound validates a raw frame once at the transport boundary.
func ParseInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch in.InteractionType {
	case InteractionConfig, InteractionUpdateOnly, InteractionPingPong:
	case InteractionResponseRequired, InteractionReminderRequired:
		if in.ResponseID == nil {
			return Inbound{}, fmt.Errorf("%w: %s without response_id", errMalformed, in.InteractionType)
		}
	case "":
		return Inbound{}, fmt.Errorf("%w: missing interaction_type", errMalformed)
	default:
		return Inbound{}, fmt.Errorf("%w: unknown interaction_type %q", errMalformed, in.InteractionType)
	}
	for i, u := range in.Transcript {
		if u.Role != SpeakerAgent && u.Role != SpeakerUser {
			return Inbound{}, fmt.Errorf("%w: transcript[%d] has role %q", errMalformed, i, u.Role)
		}
	}
	return in, nil
}

type ConfigFrame struct {
	ResponseType string       `json:"response_type"`
	Config       ConfigParams `json:"config"`
}

type ConfigParams struct {
	AutoReconnect bool `json:"auto_reconnect"`
	CallDetails   bool `json:"call_details"`
}

type ResponseFrame struct {
	ResponseType    string `json:"response_type"`
	ResponseID      int    `json:"response_id"`
	Content         string `json:"content"`
	ContentComplete bool   `json:"content_complete"`
	EndCall         bool   `json:"end_call"`
}

type PingPongFrame struct {
	ResponseType string `json:"response_type"`
	Timestamp    int64  `json:"timestamp"`
}

func configFrame() ConfigFrame {
	return ConfigFrame{ResponseType: "config", Config: ConfigParams{AutoReconnect: true, CallDetails: true}}
}

func responseFrame(id int, content string, complete, endCall bool) ResponseFrame {
	return ResponseFrame{ResponseType: "response", ResponseID: id, Content: content, ContentComplete: complete, EndCall: endCall}
}

var placeholderIDs = map[string]struct{}{
	"{call_id}":   {},
	":call_id":    {},
	"call_id":     {},
	"undefined":   {},
	"null":        {},
	"placeholder": {},
}

// ResolveCallID picks the call id out of the connection path parameters. It
// accepts both /<call_id> and /<placeholder>/<call_id>: the last non-empty
// segment wins. ok is false for a missing id or a template sentinel.
func ResolveCallID(segments ...string) (string, bool) {
	id := ""
	for i := len(segments) - 1; i >= 0; i-- {
		if s := strings.Trim(strings.TrimSpace(segments[i]), "/"); s != "" {
			id = s
			break
		}
	}
	if id == "" {
		return "", false
	}
	if _, bad := placeholderIDs[strings.ToLower(id)]; bad {
		return "", false
	}
	return id, true
}
