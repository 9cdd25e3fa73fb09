package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine/auth"
	"signupsheet/internal/events"
	"signupsheet/internal/lock"
	"signupsheet/internal/repo"
)

// WithdrawResult is the removed sign-up and whoever took its slot.
type WithdrawResult struct {
	Withdrawn domain.SignUp   `json:"withdrawn"`
	Promoted  []domain.SignUp `json:"promoted,omitempty"`
}

// AssignResult is the confirmed sign-up after a move, the entries it replaced
// and the waitlisted teams promoted into the freed slots.
type AssignResult struct {
	SignUp   domain.SignUp   `json:"signup"`
	Evicted  []domain.SignUp `json:"evicted,omitempty"`
	Promoted []domain.SignUp `json:"promoted,omitempty"`
}

// SignUp puts a team on a topic: confirmed while the topic has room,
// waitlisted at the tail otherwise. Assignments that allocate by bidding
// reject direct sign-ups; teams bid and Resolve places them.
func (e Engine) SignUp(ctx context.Context, actor domain.Actor, teamID, topicID string, now time.Time) (domain.SignUp, error) {
	const op = "sign up"
	if err := require(op, actor, auth.PermSignUp); err != nil {
		return domain.SignUp{}, err
	}
	release, err := e.acquire(ctx, op, lock.TeamKey(teamID), lock.TopicKey(topicID))
	if err != nil {
		return domain.SignUp{}, err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.SignUp{}, err
	}
	defer tx.Rollback()

	topic, team, err := e.loadPair(ctx, tx, op, teamID, topicID)
	if err != nil {
		return domain.SignUp{}, err
	}
	if topic.State != domain.TopicApproved {
		return domain.SignUp{}, notFound(op, "topic %s is not open for sign-up", topicID)
	}
	a, err := e.loadAssignment(ctx, tx, op, topic.AssignmentID)
	if err != nil {
		return domain.SignUp{}, err
	}
	if a.IsBiddingEnabled {
		return domain.SignUp{}, newError(KindInvalidState, op, "topics of %s are allocated by bidding, place a bid instead", a.Name)
	}
	passed, err := e.hasPassed(ctx, tx, a, topic.ID, domain.DeadlineSignup, now)
	if err != nil {
		return domain.SignUp{}, storage(op, err)
	}
	if passed {
		return domain.SignUp{}, newError(KindSignupDeadlinePassed, op, "the sign-up deadline for topic %s has passed", topic.Name)
	}
	held, err := e.Repo.ListTeamSignUps(ctx, tx, a.ID, team.ID)
	if err != nil {
		return domain.SignUp{}, storage(op, err)
	}
	for _, h := range held {
		if !h.IsWaitlisted {
			return domain.SignUp{}, newError(KindAlreadyAssigned, op, "team %s already holds a topic in this assignment", team.Name)
		}
		if h.TopicID == topic.ID {
			return domain.SignUp{}, newError(KindAlreadyAssigned, op, "team %s is already waitlisted on topic %s", team.Name, topic.Name)
		}
	}
	free, err := e.hasCapacity(ctx, tx, topic)
	if err != nil {
		return domain.SignUp{}, storage(op, err)
	}
	pos, err := e.Repo.NextQueuePos(ctx, tx, topic.ID)
	if err != nil {
		return domain.SignUp{}, storage(op, err)
	}
	s := domain.SignUp{
		ID:           newID(),
		AssignmentID: a.ID,
		TeamID:       team.ID,
		TopicID:      topic.ID,
		IsWaitlisted: !free,
		QueuePos:     pos,
		Source:       domain.SourceStudent,
		CreatedAt:    now.UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSignUp(ctx, tx, s); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.SignUp{}, newError(KindAlreadyAssigned, op, "team %s already holds a topic in this assignment", team.Name)
		}
		return domain.SignUp{}, storage(op, err)
	}
	evt := events.SignUpWaitlisted
	if free {
		evt = events.SignUpConfirmed
		if err := e.cancelWaitlists(ctx, tx, op, actor, s); err != nil {
			return domain.SignUp{}, err
		}
	}
	if err := e.emit(ctx, tx, op, evt, a.ID, "signup", s.ID, actor.ID, events.EventPayload{
		"team_id": team.ID, "topic_id": topic.ID, "queue_pos": s.QueuePos,
	}); err != nil {
		return domain.SignUp{}, err
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return domain.SignUp{}, err
	}
	e.Logger.Info(ctx, "signed up", zap.String("team_id", team.ID), zap.String("topic_id", topic.ID), zap.String("state", string(s.State())))
	return s, nil
}

type withdrawFlow struct {
	perm         auth.Permission
	submittedMsg string
	deadlineMsg  string
}

var (
	studentWithdraw = withdrawFlow{
		perm:         auth.PermSignUp,
		submittedMsg: "your team has already submitted work, so the topic cannot be dropped",
		deadlineMsg:  "you cannot drop this topic after its drop deadline",
	}
	instructorWithdraw = withdrawFlow{
		perm:         auth.PermSignUpAssign,
		submittedMsg: "the team has already submitted work, so it cannot be removed from the topic",
		deadlineMsg:  "a team cannot be dropped after the topic's drop deadline",
	}
)

// Withdraw drops a team's sign-up. Submitted work blocks it regardless of
// deadlines; otherwise the drop deadline applies. Freed confirmed slots go to
// the waitlist.
func (e Engine) Withdraw(ctx context.Context, actor domain.Actor, teamID, topicID string, now time.Time) (WithdrawResult, error) {
	return e.withdraw(ctx, "withdraw", studentWithdraw, actor, teamID, topicID, now)
}

// InstructorWithdraw applies the same rules as Withdraw on a team's behalf.
func (e Engine) InstructorWithdraw(ctx context.Context, actor domain.Actor, teamID, topicID string, now time.Time) (WithdrawResult, error) {
	return e.withdraw(ctx, "instructor withdraw", instructorWithdraw, actor, teamID, topicID, now)
}

func (e Engine) withdraw(ctx context.Context, op string, flow withdrawFlow, actor domain.Actor, teamID, topicID string, now time.Time) (WithdrawResult, error) {
	var res WithdrawResult
	if err := require(op, actor, flow.perm); err != nil {
		return res, err
	}
	release, err := e.acquire(ctx, op, lock.TeamKey(teamID), lock.TopicKey(topicID))
	if err != nil {
		return res, err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	topic, team, err := e.loadPair(ctx, tx, op, teamID, topicID)
	if err != nil {
		return res, err
	}
	s, err := e.Repo.GetSignUp(ctx, tx, team.ID, topic.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return res, notFound(op, "team %s is not signed up for topic %s", team.Name, topic.Name)
	}
	if err != nil {
		return res, storage(op, err)
	}
	submitted, err := e.submissions().HasSubmittedWork(ctx, team.ID)
	if err != nil {
		return res, storage(op, err)
	}
	if submitted {
		return res, &Error{Kind: KindHasSubmittedWork, Op: op, Msg: flow.submittedMsg}
	}
	a, err := e.loadAssignment(ctx, tx, op, topic.AssignmentID)
	if err != nil {
		return res, err
	}
	passed, err := e.hasPassed(ctx, tx, a, topic.ID, domain.DeadlineDrop, now)
	if err != nil {
		return res, storage(op, err)
	}
	if passed {
		return res, &Error{Kind: KindDropDeadlinePassed, Op: op, Msg: flow.deadlineMsg}
	}
	if err := e.Repo.DeleteSignUp(ctx, tx, s.ID); err != nil {
		return res, storage(op, err)
	}
	res.Withdrawn = s
	if err := e.emit(ctx, tx, op, events.SignUpWithdrawn, a.ID, "signup", s.ID, actor.ID, events.EventPayload{
		"team_id": team.ID, "topic_id": topic.ID, "was_waitlisted": s.IsWaitlisted,
	}); err != nil {
		return res, err
	}
	if !s.IsWaitlisted {
		res.Promoted, err = e.promote(ctx, tx, op, actor, topic)
		if err != nil {
			return res, err
		}
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return WithdrawResult{}, err
	}
	e.Logger.Info(ctx, "withdrawn", zap.String("team_id", team.ID), zap.String("topic_id", topic.ID), zap.Int("promoted", len(res.Promoted)))
	return res, nil
}

// InstructorAssign confirms a team on a topic regardless of capacity and
// deadlines. The team's other sign-ups in the assignment are removed and any
// confirmed slot it leaves is offered to that topic's waitlist.
//
// A full target is over-booked: occupancy may exceed capacity afterwards, and
// the topic takes no waitlist promotions until enough teams leave.
func (e Engine) InstructorAssign(ctx context.Context, actor domain.Actor, teamID, topicID string, now time.Time) (AssignResult, error) {
	const op = "instructor assign"
	if err := require(op, actor, auth.PermSignUpAssign); err != nil {
		return AssignResult{}, err
	}
	return e.relocate(ctx, op, actor, teamID, topicID, now, func(tx *sql.Tx, topic domain.Topic, team domain.Team) error {
		if topic.State != domain.TopicApproved {
			return notFound(op, "topic %s is not open for sign-up", topicID)
		}
		return nil
	}, domain.SourceInstructor, events.InstructorAssigned)
}

// SwitchToSuggestedTopic moves a team onto the approved topic it suggested,
// releasing whatever it held before. The sign-up survives Resolve like an
// instructor placement.
func (e Engine) SwitchToSuggestedTopic(ctx context.Context, actor domain.Actor, teamID, topicID string, now time.Time) (AssignResult, error) {
	const op = "switch to suggested topic"
	if err := require(op, actor, auth.PermSignUp); err != nil {
		return AssignResult{}, err
	}
	return e.relocate(ctx, op, actor, teamID, topicID, now, func(tx *sql.Tx, topic domain.Topic, team domain.Team) error {
		if topic.SuggestedBy == nil || *topic.SuggestedBy != team.ID {
			return newError(KindInvalidState, op, "topic %s was not suggested by team %s", topic.Name, team.Name)
		}
		if topic.State != domain.TopicApproved {
			return newError(KindInvalidState, op, "topic %s has not been approved yet", topic.Name)
		}
		n, err := e.Repo.CountOccupancy(ctx, tx, topic.ID)
		if err != nil {
			return storage(op, err)
		}
		current, err := e.Repo.GetSignUp(ctx, tx, team.ID, topic.ID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return storage(op, err)
		}
		mine := err == nil && !current.IsWaitlisted
		if !mine && n >= topic.Capacity {
			return newError(KindInvalidState, op, "topic %s has no free slot", topic.Name)
		}
		return nil
	}, domain.SourceSuggestion, events.SignUpConfirmed)
}

// relocate confirms team on topic after removing its other sign-ups in the
// assignment. check runs inside the transaction before anything changes.
func (e Engine) relocate(ctx context.Context, op string, actor domain.Actor, teamID, topicID string, now time.Time,
	check func(tx *sql.Tx, topic domain.Topic, team domain.Team) error, source domain.SignUpSource, evt string) (AssignResult, error) {
	var res AssignResult
	release, err := e.lockTeamScope(ctx, op, teamID, topicID)
	if err != nil {
		return res, err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	topic, team, err := e.loadPair(ctx, tx, op, teamID, topicID)
	if err != nil {
		return res, err
	}
	if err := check(tx, topic, team); err != nil {
		return res, err
	}
	held, err := e.Repo.ListTeamSignUps(ctx, tx, team.AssignmentID, team.ID)
	if err != nil {
		return res, storage(op, err)
	}
	var target *domain.SignUp
	var left []string
	for i := range held {
		h := held[i]
		if h.TopicID == topic.ID {
			target = &held[i]
			continue
		}
		if err := e.Repo.DeleteSignUp(ctx, tx, h.ID); err != nil {
			return res, storage(op, err)
		}
		if err := e.emit(ctx, tx, op, events.SignUpCancelled, h.AssignmentID, "signup", h.ID, actor.ID, events.EventPayload{
			"team_id": h.TeamID, "topic_id": h.TopicID, "was_waitlisted": h.IsWaitlisted,
		}); err != nil {
			return res, err
		}
		res.Evicted = append(res.Evicted, h)
		if !h.IsWaitlisted {
			left = append(left, h.TopicID)
		}
	}
	if target != nil {
		target.IsWaitlisted = false
		target.Source = source
		if err := e.Repo.UpdateSignUp(ctx, tx, *target); err != nil {
			return res, storage(op, err)
		}
		res.SignUp = *target
	} else {
		pos, err := e.Repo.NextQueuePos(ctx, tx, topic.ID)
		if err != nil {
			return res, storage(op, err)
		}
		res.SignUp = domain.SignUp{
			ID:           newID(),
			AssignmentID: team.AssignmentID,
			TeamID:       team.ID,
			TopicID:      topic.ID,
			QueuePos:     pos,
			Source:       source,
			CreatedAt:    now.UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertSignUp(ctx, tx, res.SignUp); err != nil {
			return res, storage(op, err)
		}
	}
	if err := e.emit(ctx, tx, op, evt, team.AssignmentID, "signup", res.SignUp.ID, actor.ID, events.EventPayload{
		"team_id": team.ID, "topic_id": topic.ID, "source": string(source), "evicted": len(res.Evicted),
	}); err != nil {
		return res, err
	}
	for _, leftID := range left {
		leftTopic, err := e.loadTopic(ctx, tx, op, leftID)
		if err != nil {
			return res, err
		}
		promoted, err := e.promote(ctx, tx, op, actor, leftTopic)
		if err != nil {
			return res, err
		}
		res.Promoted = append(res.Promoted, promoted...)
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return AssignResult{}, err
	}
	e.Logger.Info(ctx, "team relocated", zap.String("op", op), zap.String("team_id", team.ID), zap.String("topic_id", topic.ID),
		zap.Int("evicted", len(res.Evicted)), zap.Int("promoted", len(res.Promoted)))
	return res, nil
}

// lockTeamScope locks the team, the target topic and every topic the team
// holds a sign-up on. The held set is re-read under the lock and acquisition
// repeats until it is covered. The locked set only grows and is bounded by
// the assignment's topics, so the loop ends; ctx cancellation ends it early.
func (e Engine) lockTeamScope(ctx context.Context, op, teamID, topicID string) (func(), error) {
	keys := []string{lock.TeamKey(teamID), lock.TopicKey(topicID)}
	heldTopics := func() (map[string]bool, error) {
		team, err := e.Repo.GetTeam(ctx, nil, teamID)
		if errors.Is(err, repo.ErrNotFound) {
			return map[string]bool{}, nil
		}
		if err != nil {
			return nil, storage(op, err)
		}
		held, err := e.Repo.ListTeamSignUps(ctx, nil, team.AssignmentID, team.ID)
		if err != nil {
			return nil, storage(op, err)
		}
		out := make(map[string]bool, len(held))
		for _, h := range held {
			out[h.TopicID] = true
		}
		return out, nil
	}
	locked := map[string]bool{topicID: true}
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: lock team scope: %w", op, err)
		}
		before, err := heldTopics()
		if err != nil {
			return nil, err
		}
		for id := range before {
			if !locked[id] {
				locked[id] = true
				keys = append(keys, lock.TopicKey(id))
			}
		}
		release, err := e.acquire(ctx, op, keys...)
		if err != nil {
			return nil, err
		}
		after, err := heldTopics()
		if err != nil {
			release()
			return nil, err
		}
		grown := false
		for id := range after {
			if !locked[id] {
				grown = true
			}
		}
		if !grown {
			return release, nil
		}
		release()
	}
}
