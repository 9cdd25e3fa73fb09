package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	AssignmentCreated  = "assignment.create"
	AssignmentUpdated  = "assignment.update"
	TeamCreated        = "team.create"
	SubmissionAdded    = "submission.add"
	TopicCreated       = "topic.create"
	TopicUpdated       = "topic.update"
	TopicDeleted       = "topic.delete"
	TopicSuggested     = "topic.suggest"
	TopicApproved      = "topic.approve"
	DeadlineSaved      = "deadline.save"
	SignUpConfirmed    = "signup.confirm"
	SignUpWaitlisted   = "signup.waitlist"
	SignUpWithdrawn    = "signup.withdraw"
	SignUpPromoted     = "signup.promote"
	SignUpCancelled    = "signup.cancel"
	InstructorAssigned = "signup.instructor_assign"
	BidSet             = "bid.set"
	BidRemoved         = "bid.remove"
	Resolved           = "bidding.resolve"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, assignmentID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,assignment_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(assignmentID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
