package realtime

import (
	"encoding/json"
	"errors"
	"strings"
)

// ActionGenerateResponse is the only inbound action the session handles.
const ActionGenerateResponse = "GenerateResponse"

// Outbound frame types.
const (
	FrameResponse = "response"
	FrameError    = "error"
)

// Error codes used by the session itself. Engine failures use rag codes.
const (
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeUnsupportedAction = "unsupported_action"
	CodeRateLimited       = "rate_limited"
)

// ErrMalformedFrame is returned for inbound data that is not a JSON object
// with an action field.
var ErrMalformedFrame = errors.New("malformed frame")

// Action is an inbound frame: GenerateResponse or Unrecognized.
type Action interface {
	actionName() string
}

// GenerateResponse asks for a reply to Prompt in one conversation.
// An empty ConversationID starts a new conversation.
type GenerateResponse struct {
	DocumentID     string `json:"documentId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Prompt         string `json:"prompt"`
	Token          string `json:"token"`
}

func (GenerateResponse) actionName() string { return ActionGenerateResponse }

// Unrecognized is any action name other than GenerateResponse.
type Unrecognized struct {
	Name string
}

func (u Unrecognized) actionName() string { return u.Name }

// ParseAction decodes one inbound frame.
func ParseAction(data []byte) (Action, error) {
	var head struct {
		Action *string `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Join(ErrMalformedFrame, err)
	}
	if head.Action == nil || strings.TrimSpace(*head.Action) == "" {
		return nil, ErrMalformedFrame
	}

	name := strings.TrimSpace(*head.Action)
	if name != ActionGenerateResponse {
		return Unrecognized{Name: name}, nil
	}

	var gr GenerateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return nil, errors.Join(ErrMalformedFrame, err)
	}
	return gr, nil
}

// Frame is one outbound message.
type Frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}

// ResponseFrame carries an ai reply tagged with its conversation.
func ResponseFrame(conversationID, content string) Frame {
	return Frame{Type: FrameResponse, ConversationID: conversationID, Content: content}
}

// ErrorFrame reports a failed action. conversationID may be empty.
func ErrorFrame(code, message, conversationID string) Frame {
	return Frame{Type: FrameError, Code: code, Message: message, ConversationID: conversationID}
}
