package engine

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"signupsheet/internal/domain"
	"signupsheet/internal/events"
)

// Occupancy counts the confirmed sign-ups on a topic.
func (e Engine) Occupancy(ctx context.Context, topicID string) (int, error) {
	const op = "occupancy"
	if _, err := e.loadTopic(ctx, nil, op, topicID); err != nil {
		return 0, err
	}
	n, err := e.Repo.CountOccupancy(ctx, nil, topicID)
	return n, storage(op, err)
}

func (e Engine) HasCapacity(ctx context.Context, topicID string) (bool, error) {
	const op = "has capacity"
	topic, err := e.loadTopic(ctx, nil, op, topicID)
	if err != nil {
		return false, err
	}
	ok, err := e.hasCapacity(ctx, nil, topic)
	return ok, storage(op, err)
}

// Waitlist returns the topic's waitlisted sign-ups, longest waiting first.
func (e Engine) Waitlist(ctx context.Context, topicID string) ([]domain.SignUp, error) {
	const op = "waitlist"
	if _, err := e.loadTopic(ctx, nil, op, topicID); err != nil {
		return nil, err
	}
	res, err := e.Repo.ListWaitlist(ctx, nil, topicID)
	return res, storage(op, err)
}

func (e Engine) hasCapacity(ctx context.Context, tx *sql.Tx, topic domain.Topic) (bool, error) {
	n, err := e.Repo.CountOccupancy(ctx, tx, topic.ID)
	if err != nil {
		return false, err
	}
	return n < topic.Capacity, nil
}

// promote fills free slots on topic from its waitlist head. Entries whose
// team is already confirmed elsewhere are passed over. A promoted team loses
// its other waitlist entries in the assignment.
func (e Engine) promote(ctx context.Context, tx *sql.Tx, op string, actor domain.Actor, topic domain.Topic) ([]domain.SignUp, error) {
	var promoted []domain.SignUp
	for {
		free, err := e.hasCapacity(ctx, tx, topic)
		if err != nil {
			return promoted, storage(op, err)
		}
		if !free {
			return promoted, nil
		}
		waitlist, err := e.Repo.ListWaitlist(ctx, tx, topic.ID)
		if err != nil {
			return promoted, storage(op, err)
		}
		var next *domain.SignUp
		for i := range waitlist {
			confirmed, err := e.confirmedElsewhere(ctx, tx, waitlist[i])
			if err != nil {
				return promoted, storage(op, err)
			}
			if !confirmed {
				next = &waitlist[i]
				break
			}
		}
		if next == nil {
			return promoted, nil
		}
		next.IsWaitlisted = false
		if err := e.Repo.UpdateSignUp(ctx, tx, *next); err != nil {
			return promoted, storage(op, err)
		}
		if err := e.emit(ctx, tx, op, events.SignUpPromoted, topic.AssignmentID, "signup", next.ID, actor.ID, events.EventPayload{
			"team_id": next.TeamID, "topic_id": topic.ID,
		}); err != nil {
			return promoted, err
		}
		if err := e.cancelWaitlists(ctx, tx, op, actor, *next); err != nil {
			return promoted, err
		}
		e.Logger.Info(ctx, "waitlist promoted", zap.String("topic_id", topic.ID), zap.String("team_id", next.TeamID))
		promoted = append(promoted, *next)
	}
}

func (e Engine) confirmedElsewhere(ctx context.Context, tx *sql.Tx, s domain.SignUp) (bool, error) {
	held, err := e.Repo.ListTeamSignUps(ctx, tx, s.AssignmentID, s.TeamID)
	if err != nil {
		return false, err
	}
	for _, h := range held {
		if !h.IsWaitlisted && h.ID != s.ID {
			return true, nil
		}
	}
	return false, nil
}

// cancelWaitlists drops every other waitlist entry of the team that now holds
// the confirmed sign-up keep.
func (e Engine) cancelWaitlists(ctx context.Context, tx *sql.Tx, op string, actor domain.Actor, keep domain.SignUp) error {
	held, err := e.Repo.ListTeamSignUps(ctx, tx, keep.AssignmentID, keep.TeamID)
	if err != nil {
		return storage(op, err)
	}
	for _, h := range held {
		if h.ID == keep.ID || !h.IsWaitlisted {
			continue
		}
		if err := e.Repo.DeleteSignUp(ctx, tx, h.ID); err != nil {
			return storage(op, err)
		}
		if err := e.emit(ctx, tx, op, events.SignUpCancelled, h.AssignmentID, "signup", h.ID, actor.ID, events.EventPayload{
			"team_id": h.TeamID, "topic_id": h.TopicID,
		}); err != nil {
			return err
		}
	}
	return nil
}
