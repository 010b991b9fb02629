// Package notification defines the wire and domain types that flow through
// the ingress gateway, the message bus, and the per-channel worker
// pipelines.
package notification

import (
	"time"
)

// Channel identifies which worker pipeline and backend a notification
// routes through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelFailed Channel = "failed"
)

// Valid reports whether c is a channel this system knows how to deliver.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush:
		return true
	default:
		return false
	}
}

// Status is the lifecycle stage of a notification as seen through the
// StatusStore. Transitions are constrained to pending -> processing ->
// {delivered, failed} or pending -> failed; see Status.CanTransitionTo.
// The gateway's admission key and the worker's idempotency key are
// distinct records (see statusstore key helpers), so an absent record can
// legally bootstrap into either pending (gateway admission) or processing
// (the worker's own key, which has no pending stage of its own).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// CanTransitionTo reports whether moving from s to next is a legal
// StatusRecord transition. Equal states are not a transition and are
// rejected here; callers that want an idempotent rewrite of the same
// state (e.g. a worker retry re-entering Sending) should special-case
// that themselves rather than treat it as a transition.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case "":
		return next == StatusPending || next == StatusProcessing
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusDelivered || next == StatusFailed
	default:
		return false
	}
}

// NotificationRequest is the canonical inbound entity accepted by the
// ingress gateway.
type NotificationRequest struct {
	NotificationType Channel                `json:"notification_type"`
	UserID           string                 `json:"user_id"`
	TemplateCode     string                 `json:"template_code"`
	Variables        map[string]interface{} `json:"variables"`
	RequestID        string                 `json:"request_id"`
	Priority         int                    `json:"priority"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// EnqueuedMessage is the bus payload: a NotificationRequest plus the
// worker-maintained envelope fields.
type EnqueuedMessage struct {
	NotificationRequest
	NotificationID string    `json:"notification_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Attempts       int       `json:"attempts"`
}

// StatusRecord is the StatusStore value for a channel-qualified request id,
// or for an externally-ingested status callback.
type StatusRecord struct {
	NotificationID string  `json:"notification_id"`
	Status         Status  `json:"status"`
	SentAt         *string `json:"sent_at,omitempty"`
	Error          *string `json:"error,omitempty"`
	FailedAt       *string `json:"failed_at,omitempty"`
}

// FailedRecord is the dead-letter payload published to the failed routing
// key once a delivery exhausts MAX_ATTEMPTS.
type FailedRecord struct {
	EnqueuedMessage
	Error          string `json:"error"`
	FailedAt       string `json:"failed_at"`
	NotificationID string `json:"notification_id"`
}

// UserPayload is the body accepted by the out-of-band user-creation
// endpoint. It has no idempotency guard and is published fire-and-forget
// to the "user.created" routing key for external consumers.
type UserPayload struct {
	UserID      string                 `json:"user_id"`
	Email       string                 `json:"email"`
	DisplayName string                 `json:"display_name"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StatusCallback is the body accepted by the per-channel status-ingestion
// endpoint, used by external systems to report a delivery outcome that
// bypassed this platform's own worker pipeline.
type StatusCallback struct {
	NotificationID string  `json:"notification_id"`
	Status         Status  `json:"status"`
	Timestamp      string  `json:"timestamp"`
	Error          *string `json:"error,omitempty"`
}

// EmailMetadata extracts the SMTP recipient fields embedded in
// NotificationRequest.Metadata for the email channel.
type EmailMetadata struct {
	Email    string
	Subject  string
}

// PushMetadata extracts the mobile push fields embedded in
// NotificationRequest.Metadata for the push channel.
type PushMetadata struct {
	Token    string
	Title    string
	Body     string
	ImageURL string
	Data     map[string]interface{}
}

func metaString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ExtractEmailMetadata reads the email channel's recipient fields out of a
// generic metadata map.
func ExtractEmailMetadata(m map[string]interface{}) EmailMetadata {
	return EmailMetadata{
		Email:   metaString(m, "email"),
		Subject: metaString(m, "subject"),
	}
}

// ExtractPushMetadata reads the push channel's recipient fields out of a
// generic metadata map.
func ExtractPushMetadata(m map[string]interface{}) PushMetadata {
	data, _ := m["data"].(map[string]interface{})
	return PushMetadata{
		Token:    metaString(m, "push_token"),
		Title:    metaString(m, "title"),
		Body:     metaString(m, "body"),
		ImageURL: metaString(m, "image_url"),
		Data:     data,
	}
}
