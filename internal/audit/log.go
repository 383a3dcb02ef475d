// Package audit records who did what to which client record. Delivery is
// best effort and never fails the operation that produced the event.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action names one audited operation.
type Action string

const (
	ActionIntakeSubmitted     Action = "intake_submitted"
	ActionIntakeUpdated       Action = "intake_updated"
	ActionIntakeStatusUpdated Action = "intake_status_updated"
	ActionUploadRecorded      Action = "upload_recorded"
	ActionUploadHidden        Action = "upload_hidden"
	ActionUploadUnhidden      Action = "upload_unhidden"
)

// Event is one audit row.
type Event struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"request_id,omitempty"`
	ActorUserID    string         `json:"actor_user_id,omitempty"`
	ActorEmail     string         `json:"actor_email,omitempty"`
	ActorRole      string         `json:"actor_role,omitempty"`
	Action         Action         `json:"action_type"`
	TargetUserID   string         `json:"target_user_id,omitempty"`
	TargetEmail    string         `json:"target_email,omitempty"`
	TargetUsername string         `json:"target_username,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Sink persists events.
type Sink interface {
	WriteAudit(ctx context.Context, ev Event) error
}

// Recorder accepts events from domain code.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Discard drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) {}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// stamp fills the id, time and request id of an event.
func stamp(ctx context.Context, ev Event, now time.Time) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now.UTC()
	}
	if ev.RequestID == "" {
		ev.RequestID = RequestIDFromContext(ctx)
	}
	if ev.Metadata != nil {
		copied := make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			copied[k] = v
		}
		ev.Metadata = copied
	}
	return ev
}

// LogSink writes events to a structured logger. It is the fallback sink when
// no database is configured.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) WriteAudit(_ context.Context, ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Info("audit",
		zap.String("type", "audit"),
		zap.String("event", string(ev.Action)),
		zap.String("audit_id", ev.ID),
		zap.String("request_id", ev.RequestID),
		zap.String("actor_user_id", ev.ActorUserID),
		zap.String("actor_role", ev.ActorRole),
		zap.String("target_user_id", ev.TargetUserID),
		zap.String("target_username", ev.TargetUsername),
		zap.Any("fields", ev.Metadata),
		zap.Time("ts", ev.CreatedAt),
	)
	return nil
}
