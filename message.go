package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MessageType is the wire discriminator carried in an envelope's "type" field.
type MessageType string

// Outbound message types.
const (
	MessageAuthenticate          MessageType = "authenticate"
	MessageSubscribe             MessageType = "subscribe"
	MessageUnsubscribe           MessageType = "unsubscribe"
	MessageHeartbeat             MessageType = "heartbeat"
	MessageAssetUpdate           MessageType = "asset_update"
	MessageTaskUpdate            MessageType = "task_update"
	MessageTaskCompletion        MessageType = "task_completion"
	MessageCalendarEvent         MessageType = "calendar_event"
	MessageNotificationBroadcast MessageType = "notification_broadcast"
	MessageJoinCollaboration     MessageType = "join_collaboration"
	MessageLeaveCollaboration    MessageType = "leave_collaboration"
	MessageCollaborationUpdate   MessageType = "collaboration_update"
	MessageUserActivity          MessageType = "user_activity"
)

// Inbound message types that only count as liveness evidence.
const (
	MessageHeartbeatAck MessageType = "heartbeat_ack"
	MessagePong         MessageType = "pong"
)

func (t MessageType) String() string { return string(t) }

func (t MessageType) IsHeartbeat() bool {
	return t == MessageHeartbeat || t == MessageHeartbeatAck || t == MessagePong
}

// Envelope is the unit exchanged over the connection. Values are never mutated after
// construction; Data is copied in NewEnvelope so callers cannot alter a queued envelope.
type Envelope struct {
	Type      MessageType    `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
	ID        string         `json:"id,omitempty"`
}

// NewEnvelope builds an outbound envelope with a fresh id and the current UTC time.
func NewEnvelope(mt MessageType, data map[string]any) Envelope {
	return newEnvelopeAt(mt, data, time.Now())
}

func newEnvelopeAt(mt MessageType, data map[string]any, now time.Time) Envelope {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return Envelope{
		Type:      mt,
		Data:      copied,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		ID:        uuid.NewString(),
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{type=%s,id=%s,data=%v}", e.Type, e.ID, e.Data)
}

// Encode serialises the envelope into a text frame.
func (e Envelope) Encode() ([]byte, error) {
	bts, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s envelope", e.Type)
	}
	return bts, nil
}

// DecodeEnvelope parses an inbound frame. Inbound envelopes may omit id and timestamp.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "malformed frame")
	}
	return env, nil
}

func subscribeEnvelope(channel string) Envelope {
	return NewEnvelope(MessageSubscribe, map[string]any{"channel": channel})
}

func unsubscribeEnvelope(channel string) Envelope {
	return NewEnvelope(MessageUnsubscribe, map[string]any{"channel": channel})
}

func heartbeatEnvelope() Envelope {
	return NewEnvelope(MessageHeartbeat, nil)
}
