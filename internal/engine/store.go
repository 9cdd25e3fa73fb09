package engine

import (
	"context"
	"database/sql"

	"signupsheet/internal/domain"
	"signupsheet/internal/repo"
)

// Store is the storage the engine runs on. Every call takes the mutation's
// transaction, or nil outside one. Missing rows come back as repo.ErrNotFound
// and unique collisions as repo.ErrConflict. repo.Repo is the SQLite
// implementation.
type Store interface {
	AssignmentStore
	TeamStore
	TopicStore
	SignUpStore
	BidStore
	DeadlineStore
	LatestEvents(ctx context.Context, limit int, assignmentID, evtType, entityKind, entityID string) ([]domain.Event, error)
}

type AssignmentStore interface {
	InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error
	UpdateAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error
	GetAssignment(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error)
}

type TeamStore interface {
	InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error
	GetTeam(ctx context.Context, tx *sql.Tx, id string) (domain.Team, error)
	InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error
	CountSubmissions(ctx context.Context, tx *sql.Tx, teamID string) (files, links int, err error)
}

type TopicStore interface {
	InsertTopic(ctx context.Context, tx *sql.Tx, t domain.Topic) error
	UpdateTopic(ctx context.Context, tx *sql.Tx, t domain.Topic) error
	GetTopic(ctx context.Context, tx *sql.Tx, id string) (domain.Topic, error)
	FindTopicByIdentifier(ctx context.Context, tx *sql.Tx, assignmentID, identifier string) (domain.Topic, error)
	ListTopics(ctx context.Context, tx *sql.Tx, assignmentID string, withSuggested bool) ([]domain.Topic, error)
	DeleteTopic(ctx context.Context, tx *sql.Tx, id string) error
}

// SignUpStore holds sign-ups and the per-topic queue order.
type SignUpStore interface {
	NextQueuePos(ctx context.Context, tx *sql.Tx, topicID string) (int64, error)
	InsertSignUp(ctx context.Context, tx *sql.Tx, s domain.SignUp) error
	UpdateSignUp(ctx context.Context, tx *sql.Tx, s domain.SignUp) error
	DeleteSignUp(ctx context.Context, tx *sql.Tx, id string) error
	GetSignUp(ctx context.Context, tx *sql.Tx, teamID, topicID string) (domain.SignUp, error)
	ListTeamSignUps(ctx context.Context, tx *sql.Tx, assignmentID, teamID string) ([]domain.SignUp, error)
	ListWaitlist(ctx context.Context, tx *sql.Tx, topicID string) ([]domain.SignUp, error)
	ListTopicSignUps(ctx context.Context, tx *sql.Tx, topicID string) ([]domain.SignUp, error)
	ListAssignmentSignUps(ctx context.Context, tx *sql.Tx, assignmentID string) ([]domain.SignUp, error)
	CountOccupancy(ctx context.Context, tx *sql.Tx, topicID string) (int, error)
	CountWaitlist(ctx context.Context, tx *sql.Tx, topicID string) (int, error)
	DeleteAssignmentSignUpsExcept(ctx context.Context, tx *sql.Tx, assignmentID string, keep ...domain.SignUpSource) (int64, error)
}

type BidStore interface {
	GetBid(ctx context.Context, tx *sql.Tx, teamID, topicID string) (domain.Bid, error)
	FindBidByPriority(ctx context.Context, tx *sql.Tx, teamID string, priority int) (domain.Bid, error)
	UpsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error
	DeleteBid(ctx context.Context, tx *sql.Tx, teamID, topicID string) error
	ListTeamBids(ctx context.Context, tx *sql.Tx, teamID string) ([]domain.Bid, error)
	ListAssignmentBids(ctx context.Context, tx *sql.Tx, assignmentID string) ([]domain.Bid, error)
}

type DeadlineStore interface {
	GetDeadline(ctx context.Context, tx *sql.Tx, assignmentID, topicID string, typ domain.DeadlineType) (domain.Deadline, error)
	UpsertDeadline(ctx context.Context, tx *sql.Tx, d domain.Deadline) (domain.Deadline, bool, error)
	ListDeadlines(ctx context.Context, tx *sql.Tx, assignmentID, topicID string) ([]domain.Deadline, error)
}

var _ Store = repo.Repo{}
