package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeOrgCreate           EventType = "org.create"
	EventTypeOrgUpdate           EventType = "org.update"
	EventTypeOrgDelete           EventType = "org.delete"
	EventTypeOrgMemberAdd        EventType = "org.member_add"
	EventTypeOrgMemberRoleChange EventType = "org.member_role_change"
	EventTypeOrgMemberRemove     EventType = "org.member_remove"
	EventTypeOrgAvatarUpdate     EventType = "org.avatar_update"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	ActorID *int64 `json:"actor_id,omitempty"`

	// Resource
	OrganizationID *int64 `json:"organization_id,omitempty"`
	Organization   string `json:"organization,omitempty"`
	TargetUserID   *int64 `json:"target_user_id,omitempty"`
	Role           string `json:"role,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}
