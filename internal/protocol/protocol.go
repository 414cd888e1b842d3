// Package protocol defines the WebSocket message envelope shared by the
// server sessions and the watch client.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeMaster/reqtrace/internal/model"
)

type MessageType string

const (
	Register           MessageType = "REGISTER"
	Welcome            MessageType = "WELCOME"
	ProjectSubscribe   MessageType = "PROJECT_SUBSCRIBE"
	ProjectUnsubscribe MessageType = "PROJECT_UNSUBSCRIBE"
	Status             MessageType = "STATUS"
	Update             MessageType = "UPDATE"
	Response           MessageType = "RESPONSE"
	Error              MessageType = "ERROR"
	// Unknown replaces any type this build does not recognize.
	Unknown MessageType = "UNKNOWN"
)

func (t MessageType) Known() bool {
	switch t {
	case Register, Welcome, ProjectSubscribe, ProjectUnsubscribe, Status, Update, Response, Error:
		return true
	}
	return false
}

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Source    string          `json:"source"`
	Target    string          `json:"target,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// RawType keeps the original type string of an Unknown message.
	RawType string `json:"-"`
}

// New builds an envelope with payload encoded as JSON.
func New(t MessageType, source string, payload any) (Envelope, error) {
	env := Envelope{Type: t, Source: source, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Decode parses one frame. Unrecognized types decode successfully as Unknown.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	if !env.Type.Known() {
		env.RawType = string(env.Type)
		env.Type = Unknown
	}
	return env, nil
}

// Into decodes the payload into v. An absent payload leaves v untouched.
func (e Envelope) Into(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

type RegisterPayload struct {
	ClientID   string `json:"client_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`
}

type WelcomePayload struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
	// Instance identifies the server's event sequence; Since values are
	// only honoured when they come from the same instance.
	Instance string `json:"instance"`
}

type SubscribePayload struct {
	ProjectID string `json:"project_id"`
	Since     uint64 `json:"since,omitempty"`
	Instance  string `json:"instance,omitempty"`
}

type UpdateKind string

const (
	ProjectUpdate     UpdateKind = "project_update"
	RequirementUpdate UpdateKind = "requirement_update"
)

type UpdatePayload struct {
	Type       UpdateKind       `json:"type"`
	ProjectID  string           `json:"project_id"`
	EntityKind model.EntityKind `json:"entity_kind"`
	EntityID   string           `json:"entity_id"`
	Operation  model.Operation  `json:"operation"`
	Seq        uint64           `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
}

// UpdateFor maps a change event onto an UPDATE payload: requirement events
// are requirement_update, project and trace events are project_update.
func UpdateFor(ev model.ChangeEvent) UpdatePayload {
	kind := ProjectUpdate
	if ev.EntityKind == model.EntityRequirement {
		kind = RequirementUpdate
	}
	return UpdatePayload{
		Type:       kind,
		ProjectID:  ev.ProjectID,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		Operation:  ev.Operation,
		Seq:        ev.Seq,
		Timestamp:  ev.Timestamp,
	}
}

type ResponsePayload struct {
	Status       string `json:"status"`
	RequestType  string `json:"request_type,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	Service      string `json:"service,omitempty"`
	Version      string `json:"version,omitempty"`
	ProjectCount *int   `json:"project_count,omitempty"`
	Connections  *int   `json:"connections,omitempty"`
	ReplayedFrom uint64 `json:"replayed_from,omitempty"`
}

type ErrorPayload struct {
	Message     string `json:"message"`
	Kind        string `json:"kind,omitempty"`
	RequestType string `json:"request_type,omitempty"`
}
