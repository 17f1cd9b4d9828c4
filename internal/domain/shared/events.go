package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the mentorship lifecycle.
const (
	EventMentorshipRequested EventType = "mentorship.requested"
	EventMentorshipAccepted  EventType = "mentorship.accepted"
	EventMentorshipRejected  EventType = "mentorship.rejected"
	EventMentorshipEnded     EventType = "mentorship.ended"
	EventMentorshipAnnotated EventType = "mentorship.annotated"

	// System events
	EventCapacityDrift EventType = "mentorship.capacity_drift"
	EventProfileSaved  EventType = "profile.saved"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Mentorship Events
// ═══════════════════════════════════════════════════════════════════════════

// MentorshipChangedEvent is emitted on every status change of a mentorship edge.
// The aggregate is the mentor, since the mentor's capacity is the contended state.
type MentorshipChangedEvent struct {
	BaseEvent
	EdgeID         string `json:"edge_id"`
	StudentUID     string `json:"student_uid"`
	MentorUID      string `json:"mentor_uid"`
	FromStatus     string `json:"from_status,omitempty"`
	ToStatus       string `json:"to_status"`
	CurrentMentees int    `json:"current_mentees"`
	MaxMentees     int    `json:"max_mentees"`
	Reason         string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e MentorshipChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"edge_id":         e.EdgeID,
		"student_uid":     e.StudentUID,
		"mentor_uid":      e.MentorUID,
		"from_status":     e.FromStatus,
		"to_status":       e.ToStatus,
		"current_mentees": e.CurrentMentees,
		"max_mentees":     e.MaxMentees,
		"reason":          e.Reason,
	}
}

// NewMentorshipChangedEvent creates a new MentorshipChangedEvent.
func NewMentorshipChangedEvent(eventType EventType, at time.Time, edgeID, studentUID, mentorUID, from, to string) MentorshipChangedEvent {
	return MentorshipChangedEvent{
		BaseEvent:  NewBaseEvent(eventType, mentorUID, at),
		EdgeID:     edgeID,
		StudentUID: studentUID,
		MentorUID:  mentorUID,
		FromStatus: from,
		ToStatus:   to,
	}
}

// CapacityDriftEvent is emitted when a mentor's counter disagrees with
// the number of active edges.
type CapacityDriftEvent struct {
	BaseEvent
	MentorUID   string `json:"mentor_uid"`
	Recorded    int    `json:"recorded"`
	ActiveEdges int    `json:"active_edges"`
	Repaired    bool   `json:"repaired"`
}

// Payload implements Event interface.
func (e CapacityDriftEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"mentor_uid":   e.MentorUID,
		"recorded":     e.Recorded,
		"active_edges": e.ActiveEdges,
		"repaired":     e.Repaired,
	}
}

// NewCapacityDriftEvent creates a new CapacityDriftEvent.
func NewCapacityDriftEvent(at time.Time, mentorUID string, recorded, active int, repaired bool) CapacityDriftEvent {
	return CapacityDriftEvent{
		BaseEvent:   NewBaseEvent(EventCapacityDrift, mentorUID, at),
		MentorUID:   mentorUID,
		Recorded:    recorded,
		ActiveEdges: active,
		Repaired:    repaired,
	}
}

// ProfileSavedEvent is emitted after a profile import.
type ProfileSavedEvent struct {
	BaseEvent
	UID      string `json:"uid"`
	UserType string `json:"user_type"`
}

// Payload implements Event interface.
func (e ProfileSavedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"uid":       e.UID,
		"user_type": e.UserType,
	}
}

// NewProfileSavedEvent creates a new ProfileSavedEvent.
func NewProfileSavedEvent(at time.Time, uid, userType string) ProfileSavedEvent {
	return ProfileSavedEvent{
		BaseEvent: NewBaseEvent(EventProfileSaved, uid, at),
		UID:       uid,
		UserType:  userType,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

//go:generate mockgen -destination=mocks/mock_events.go -package=mock_shared . EventPublisher

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
