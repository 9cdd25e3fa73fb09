package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine/auth"
	"signupsheet/internal/events"
	"signupsheet/internal/repo"
)

// DeadlineTarget names an assignment-wide deadline, or a topic's own
// deadline when TopicID is set.
type DeadlineTarget struct {
	AssignmentID string
	TopicID      string
}

// SetDeadline upserts the deadline of the given type. Saving over an
// existing type updates it; created reports which happened.
func (e Engine) SetDeadline(ctx context.Context, actor domain.Actor, target DeadlineTarget, typ domain.DeadlineType, dueAt time.Time) (domain.Deadline, bool, error) {
	const op = "set deadline"
	if err := require(op, actor, auth.PermDeadlineManage); err != nil {
		return domain.Deadline{}, false, err
	}
	if !typ.Valid() {
		return domain.Deadline{}, false, invalidArg(op, "unknown deadline type %q", typ)
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Deadline{}, false, err
	}
	defer tx.Rollback()

	target, err = e.resolveTarget(ctx, tx, op, target)
	if err != nil {
		return domain.Deadline{}, false, err
	}
	d, created, err := e.upsertDeadline(ctx, tx, op, actor, target, typ, dueAt)
	if err != nil {
		return d, false, err
	}
	return d, created, e.commit(ctx, op, tx)
}

func (e Engine) resolveTarget(ctx context.Context, tx *sql.Tx, op string, target DeadlineTarget) (DeadlineTarget, error) {
	if target.TopicID != "" {
		topic, err := e.loadTopic(ctx, tx, op, target.TopicID)
		if err != nil {
			return target, err
		}
		if target.AssignmentID != "" && target.AssignmentID != topic.AssignmentID {
			return target, notFound(op, "topic %s not found in assignment %s", target.TopicID, target.AssignmentID)
		}
		target.AssignmentID = topic.AssignmentID
		return target, nil
	}
	if _, err := e.loadAssignment(ctx, tx, op, target.AssignmentID); err != nil {
		return target, err
	}
	return target, nil
}

func (e Engine) upsertDeadline(ctx context.Context, tx *sql.Tx, op string, actor domain.Actor, target DeadlineTarget, typ domain.DeadlineType, dueAt time.Time) (domain.Deadline, bool, error) {
	d := domain.Deadline{
		ID:           newID(),
		AssignmentID: target.AssignmentID,
		TopicID:      target.TopicID,
		Type:         typ,
		DueAt:        dueAt.UTC(),
		UpdatedAt:    e.stamp(),
	}
	d, created, err := e.Repo.UpsertDeadline(ctx, tx, d)
	if err != nil {
		return d, false, storage(op, err)
	}
	entityID := target.TopicID
	kind := "topic"
	if entityID == "" {
		entityID, kind = target.AssignmentID, "assignment"
	}
	if err := e.emit(ctx, tx, op, events.DeadlineSaved, target.AssignmentID, kind, entityID, actor.ID, events.EventPayload{
		"type": string(typ), "due_at": d.DueAt.Format(time.RFC3339), "created": created,
	}); err != nil {
		return d, false, err
	}
	e.Logger.Info(ctx, "deadline saved", zap.String("assignment_id", target.AssignmentID), zap.String("topic_id", target.TopicID),
		zap.String("type", string(typ)), zap.Bool("created", created))
	return d, created, nil
}

// effectiveDeadline picks the deadline that governs a topic: its own when the
// assignment staggers deadlines and one exists, the assignment-wide one
// otherwise. ok is false when neither exists.
func (e Engine) effectiveDeadline(ctx context.Context, tx *sql.Tx, a domain.Assignment, topicID string, typ domain.DeadlineType) (domain.Deadline, bool, error) {
	if a.HasStaggeredDeadlines && topicID != "" {
		d, err := e.Repo.GetDeadline(ctx, tx, a.ID, topicID, typ)
		if err == nil {
			return d, true, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return d, false, err
		}
	}
	d, err := e.Repo.GetDeadline(ctx, tx, a.ID, "", typ)
	if errors.Is(err, repo.ErrNotFound) {
		return d, false, nil
	}
	return d, err == nil, err
}

// hasPassed is strict: a deadline equal to now has not passed.
func (e Engine) hasPassed(ctx context.Context, tx *sql.Tx, a domain.Assignment, topicID string, typ domain.DeadlineType, now time.Time) (bool, error) {
	d, ok, err := e.effectiveDeadline(ctx, tx, a, topicID, typ)
	if err != nil || !ok {
		return false, err
	}
	return now.After(d.DueAt), nil
}

// HasPassed reports whether the deadline of typ governing target is in the
// past at now. An absent deadline never passes.
func (e Engine) HasPassed(ctx context.Context, target DeadlineTarget, typ domain.DeadlineType, now time.Time) (bool, error) {
	const op = "has passed"
	target, err := e.resolveTarget(ctx, nil, op, target)
	if err != nil {
		return false, err
	}
	a, err := e.loadAssignment(ctx, nil, op, target.AssignmentID)
	if err != nil {
		return false, err
	}
	passed, err := e.hasPassed(ctx, nil, a, target.TopicID, typ, now)
	return passed, storage(op, err)
}

// ListDeadlines returns the assignment-wide deadlines plus the topic's own
// when target names a topic.
func (e Engine) ListDeadlines(ctx context.Context, target DeadlineTarget) ([]domain.Deadline, error) {
	const op = "list deadlines"
	target, err := e.resolveTarget(ctx, nil, op, target)
	if err != nil {
		return nil, err
	}
	res, err := e.Repo.ListDeadlines(ctx, nil, target.AssignmentID, target.TopicID)
	return res, storage(op, err)
}
