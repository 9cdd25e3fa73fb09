package domain

import "time"

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// Actor is the already-authenticated identity a caller acts as.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role" enum:"student,instructor"`
}

func (a Actor) IsInstructor() bool { return a.Role == RoleInstructor }

type Assignment struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	InstructorID          string `json:"instructor_id"`
	IsMicrotask           bool   `json:"is_microtask"`
	HasStaggeredDeadlines bool   `json:"has_staggered_deadlines"`
	IsBiddingEnabled      bool   `json:"is_bidding_enabled"`
	CreatedAt             string `json:"created_at" format:"date-time"`
}

type TopicState string

const (
	TopicApproved  TopicState = "approved"
	TopicSuggested TopicState = "suggested"
)

type Topic struct {
	ID           string     `json:"id"`
	AssignmentID string     `json:"assignment_id"`
	Name         string     `json:"name"`
	Identifier   string     `json:"identifier,omitempty"`
	Category     string     `json:"category,omitempty"`
	Capacity     int        `json:"capacity"`
	Description  string     `json:"description,omitempty"`
	Link         string     `json:"link,omitempty"`
	Micropayment int        `json:"micropayment"`
	State        TopicState `json:"state" enum:"approved,suggested"`
	SuggestedBy  *string    `json:"suggested_by,omitempty"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
}

type DeadlineType string

const (
	DeadlineSubmission    DeadlineType = "submission"
	DeadlineReview        DeadlineType = "review"
	DeadlineSignup        DeadlineType = "signup"
	DeadlineDrop          DeadlineType = "drop"
	DeadlineTeamFormation DeadlineType = "team_formation"
)

func (t DeadlineType) Valid() bool {
	switch t {
	case DeadlineSubmission, DeadlineReview, DeadlineSignup, DeadlineDrop, DeadlineTeamFormation:
		return true
	}
	return false
}

// Deadline belongs to a topic, or to the whole assignment when TopicID is empty.
type Deadline struct {
	ID           string       `json:"id"`
	AssignmentID string       `json:"assignment_id"`
	TopicID      string       `json:"topic_id,omitempty"`
	Type         DeadlineType `json:"type" enum:"submission,review,signup,drop,team_formation"`
	DueAt        time.Time    `json:"due_at"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

type Team struct {
	ID           string   `json:"id"`
	AssignmentID string   `json:"assignment_id"`
	Name         string   `json:"name"`
	Members      []string `json:"members,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type SubmissionKind string

const (
	SubmissionFile SubmissionKind = "file"
	SubmissionLink SubmissionKind = "link"
)

type Submission struct {
	ID        string         `json:"id"`
	TeamID    string         `json:"team_id"`
	Kind      SubmissionKind `json:"kind" enum:"file,link"`
	Ref       string         `json:"ref"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type SignUpSource string

const (
	SourceStudent    SignUpSource = "student"
	SourceBid        SignUpSource = "bid"
	SourceInstructor SignUpSource = "instructor"
	SourceSuggestion SignUpSource = "suggestion"
)

type SignUpState string

const (
	StateConfirmed  SignUpState = "confirmed"
	StateWaitlisted SignUpState = "waitlisted"
	StateWithdrawn  SignUpState = "withdrawn"
)

type SignUp struct {
	ID           string       `json:"id"`
	AssignmentID string       `json:"assignment_id"`
	TeamID       string       `json:"team_id"`
	TopicID      string       `json:"topic_id"`
	IsWaitlisted bool         `json:"is_waitlisted"`
	QueuePos     int64        `json:"queue_pos"`
	Source       SignUpSource `json:"source" enum:"student,bid,instructor,suggestion"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
}

func (s SignUp) State() SignUpState {
	if s.IsWaitlisted {
		return StateWaitlisted
	}
	return StateConfirmed
}

type Bid struct {
	TeamID       string `json:"team_id"`
	TopicID      string `json:"topic_id"`
	AssignmentID string `json:"assignment_id"`
	Priority     int    `json:"priority"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	AssignmentID string `json:"assignment_id,omitempty"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id,omitempty"`
	ActorID      string `json:"actor_id"`
	Payload      string `json:"payload_json"`
}

// TopicSlot is a topic together with its current ledger figures.
type TopicSlot struct {
	Topic
	Occupancy    int        `json:"occupancy"`
	Available    int        `json:"available"`
	WaitlistSize int        `json:"waitlist_size"`
	Deadlines    []Deadline `json:"deadlines,omitempty"`
}

// TopicTeam is one team holding a sign-up on a topic.
type TopicTeam struct {
	Team   Team   `json:"team"`
	SignUp SignUp `json:"signup"`
}
