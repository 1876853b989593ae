package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound operation names accepted from clients
const (
	OpJoinJob           = "join_job"
	OpLeaveJob          = "leave_job"
	OpJobUpdate         = "job:update"
	OpApplicationUpdate = "application:update"
	OpJoinMessages      = "join_messages"
	OpLeaveMessages     = "leave_messages"
	OpMessageSend       = "message:send"
	OpTypingStart       = "typing:start"
	OpTypingStop        = "typing:stop"
	OpUserOnline        = "user:online"
	OpUserAway          = "user:away"
	OpNotificationSend  = "notification:send"
	OpHeartbeat         = "heartbeat"
	OpUserActive        = "user:active"
)

// Outbound event names emitted to clients
const (
	EventJobUpdated         = "job:updated"
	EventApplicationUpdated = "application:updated"
	EventMessageNew         = "message:new"
	EventTypingStart        = "typing:start"
	EventTypingStop         = "typing:stop"
	EventUserStatus         = "user:status"
	EventNotificationNew    = "notification:new"
	EventInactivityWarning  = "inactivity_warning"
	EventError              = "error"
)

// Stable reason codes attached to outbound error events
const (
	ReasonPermissionDenied = "PermissionDenied"
	ReasonUnknownOperation = "UnknownOperation"
	ReasonMalformedEvent   = "MalformedEvent"
)

// ClientEvent is one inbound frame from a client. The payload stays raw until
// the handler for the named operation narrows it to a typed struct.
type ClientEvent struct {
	Event   string          `json:"event" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseClientEvent parse one inbound frame
func ParseClientEvent(raw []byte) (ClientEvent, error) {
	var event ClientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ClientEvent{}, err
	}
	if event.Event == "" {
		return ClientEvent{}, fmt.Errorf("frame missing event name")
	}
	return event, nil
}

// ServerEvent is one outbound frame toward a client
type ServerEvent struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Serialize encode the frame for transmission
func (e ServerEvent) Serialize() ([]byte, error) {
	return json.Marshal(&e)
}

// Attributed returns a copy of the payload stamped with the server-side
// timestamp and sender attribution. Client-supplied values for these two
// fields are discarded.
func Attributed(payload map[string]interface{}, senderID string) map[string]interface{} {
	stamped := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		stamped[k] = v
	}
	stamped["timestamp"] = time.Now().UnixMilli()
	if senderID != "" {
		stamped["senderId"] = senderID
	}
	return stamped
}

// ErrorEvent build an error frame with a stable reason code
func ErrorEvent(reason, detail string) ServerEvent {
	payload := map[string]interface{}{"reason": reason}
	if detail != "" {
		payload["detail"] = detail
	}
	return ServerEvent{Event: EventError, Payload: payload}
}

// ==============================================================================
// Typed inbound payloads

// JobRoomRequest payload for join_job / leave_job / typing relays
type JobRoomRequest struct {
	JobID string `json:"jobId" validate:"required"`
}

// JobUpdateRequest payload for job:update
type JobUpdateRequest struct {
	JobID  string                 `json:"jobId" validate:"required"`
	Update map[string]interface{} `json:"update"`
}

// ApplicationUpdateRequest payload for application:update
type ApplicationUpdateRequest struct {
	JobID         string `json:"jobId" validate:"required"`
	ApplicationID string `json:"applicationId" validate:"required"`
	Status        string `json:"status"`
	To            string `json:"to"`
}

// MessageSendRequest payload for message:send
type MessageSendRequest struct {
	JobID   string                 `json:"jobId" validate:"required"`
	Message map[string]interface{} `json:"message" validate:"required"`
	To      string                 `json:"to"`
}

// NotificationSendRequest payload for notification:send
type NotificationSendRequest struct {
	To           string                 `json:"to" validate:"required"`
	Notification map[string]interface{} `json:"notification" validate:"required"`
}

// ModerationRequest payload for moderate_content
type ModerationRequest struct {
	JobID     string `json:"jobId" validate:"required"`
	ContentID string `json:"contentId"`
	Action    string `json:"action"`
}

// ForceDisconnectRequest payload for force_disconnect
type ForceDisconnectRequest struct {
	UserID string `json:"userId" validate:"required"`
	Reason string `json:"reason"`
}
