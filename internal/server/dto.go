package server

import (
	"encoding/json"
	"time"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
)

// Request payloads

type CreateAssignmentRequest struct {
	ID                    *string `json:"id,omitempty"`
	Name                  string  `json:"name"`
	IsMicrotask           bool    `json:"is_microtask,omitempty"`
	HasStaggeredDeadlines bool    `json:"has_staggered_deadlines,omitempty"`
	IsBiddingEnabled      bool    `json:"is_bidding_enabled,omitempty"`
}

type UpdateAssignmentRequest struct {
	Name                  *string `json:"name,omitempty"`
	IsMicrotask           *bool   `json:"is_microtask,omitempty"`
	HasStaggeredDeadlines *bool   `json:"has_staggered_deadlines,omitempty"`
	IsBiddingEnabled      *bool   `json:"is_bidding_enabled,omitempty"`
}

type CreateTeamRequest struct {
	ID      *string  `json:"id,omitempty"`
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
}

type AddSubmissionRequest struct {
	Kind string `json:"kind" enum:"file,link"`
	Ref  string `json:"ref"`
}

type TopicRequest struct {
	ID           *string `json:"id,omitempty"`
	Name         string  `json:"name"`
	Identifier   string  `json:"identifier,omitempty"`
	Category     string  `json:"category,omitempty"`
	Capacity     int     `json:"capacity,omitempty"`
	Description  string  `json:"description,omitempty"`
	Link         string  `json:"link,omitempty"`
	Micropayment int     `json:"micropayment,omitempty"`
}

type SuggestTopicRequest struct {
	TeamID string `json:"team_id"`
	TopicRequest
}

type UpdateTopicRequest struct {
	Name         *string `json:"name,omitempty"`
	Identifier   *string `json:"identifier,omitempty"`
	Category     *string `json:"category,omitempty"`
	Capacity     *int    `json:"capacity,omitempty"`
	Description  *string `json:"description,omitempty"`
	Link         *string `json:"link,omitempty"`
	Micropayment *int    `json:"micropayment,omitempty"`
}

type SetDeadlineRequest struct {
	TopicID string    `json:"topic_id,omitempty"`
	DueAt   time.Time `json:"due_at"`
}

type SaveDeadlinesRequest struct {
	Deadlines []engine.DeadlineInput `json:"deadlines"`
}

type TeamRequest struct {
	TeamID string `json:"team_id"`
}

type SetBidRequest struct {
	Priority int `json:"priority"`
}

// Response payloads

type DeadlineResponse struct {
	Deadline domain.Deadline `json:"deadline"`
	Created  bool            `json:"created"`
}

type EventResponse struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts" format:"date-time"`
	Type         string         `json:"type"`
	AssignmentID string         `json:"assignment_id,omitempty"`
	EntityKind   string         `json:"entity_kind"`
	EntityID     string         `json:"entity_id,omitempty"`
	ActorID      string         `json:"actor_id"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:           e.ID,
		TS:           e.TS,
		Type:         e.Type,
		AssignmentID: e.AssignmentID,
		EntityKind:   e.EntityKind,
		EntityID:     e.EntityID,
		ActorID:      e.ActorID,
		Payload:      payload,
	}
}

func (r TopicRequest) attrs() engine.TopicAttrs {
	return engine.TopicAttrs{
		ID:           strPtrValue(r.ID),
		Name:         r.Name,
		Identifier:   r.Identifier,
		Category:     r.Category,
		Capacity:     r.Capacity,
		Description:  r.Description,
		Link:         r.Link,
		Micropayment: r.Micropayment,
	}
}

func (r UpdateTopicRequest) patch() engine.TopicPatch {
	return engine.TopicPatch{
		Name:         r.Name,
		Identifier:   r.Identifier,
		Category:     r.Category,
		Capacity:     r.Capacity,
		Description:  r.Description,
		Link:         r.Link,
		Micropayment: r.Micropayment,
	}
}

func items[T any](in []T) itemsResponse[T] {
	if in == nil {
		in = []T{}
	}
	return itemsResponse[T]{Items: in}
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
