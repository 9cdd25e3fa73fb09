package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine/auth"
	"signupsheet/internal/events"
	"signupsheet/internal/lock"
	"signupsheet/internal/repo"
)

// TopicAttrs are the editable fields of a topic.
type TopicAttrs struct {
	ID           string
	Name         string
	Identifier   string
	Category     string
	Capacity     int
	Description  string
	Link         string
	Micropayment int
}

// TopicPatch holds the topic fields to change; nil means keep.
type TopicPatch struct {
	Name         *string
	Identifier   *string
	Category     *string
	Capacity     *int
	Description  *string
	Link         *string
	Micropayment *int
}

func validateTopic(op string, t domain.Topic) error {
	if strings.TrimSpace(t.Name) == "" {
		return invalidArg(op, "topic name is required")
	}
	if t.Capacity < 1 {
		return invalidArg(op, "capacity must be at least 1, got %d", t.Capacity)
	}
	if t.Micropayment < 0 {
		return invalidArg(op, "micropayment cannot be negative")
	}
	return nil
}

func (e Engine) checkIdentifier(ctx context.Context, tx *sql.Tx, op string, t domain.Topic) error {
	if t.Identifier == "" {
		return nil
	}
	other, err := e.Repo.FindTopicByIdentifier(ctx, tx, t.AssignmentID, t.Identifier)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storage(op, err)
	}
	if other.ID != t.ID {
		return newError(KindDuplicateIdentifier, op, "topic identifier %q is already used in this assignment", t.Identifier)
	}
	return nil
}

func (e Engine) CreateTopic(ctx context.Context, actor domain.Actor, assignmentID string, attrs TopicAttrs) (domain.Topic, error) {
	const op = "create topic"
	if err := require(op, actor, auth.PermTopicManage); err != nil {
		return domain.Topic{}, err
	}
	return e.insertTopic(ctx, op, actor, assignmentID, attrs, domain.TopicApproved, nil)
}

// SuggestTopic lets a team propose a topic. It stays hidden from sign-up
// until an instructor approves it.
func (e Engine) SuggestTopic(ctx context.Context, actor domain.Actor, assignmentID, teamID string, attrs TopicAttrs) (domain.Topic, error) {
	const op = "suggest topic"
	if err := require(op, actor, auth.PermTopicSuggest); err != nil {
		return domain.Topic{}, err
	}
	team, err := e.loadTeam(ctx, nil, op, teamID)
	if err != nil {
		return domain.Topic{}, err
	}
	if team.AssignmentID != assignmentID {
		return domain.Topic{}, notFound(op, "team %s not found in assignment %s", teamID, assignmentID)
	}
	if attrs.Capacity == 0 {
		attrs.Capacity = 1
	}
	return e.insertTopic(ctx, op, actor, assignmentID, attrs, domain.TopicSuggested, &team.ID)
}

func (e Engine) insertTopic(ctx context.Context, op string, actor domain.Actor, assignmentID string, attrs TopicAttrs, state domain.TopicState, suggestedBy *string) (domain.Topic, error) {
	id := attrs.ID
	if id == "" {
		id = newID()
	}
	stamp := e.stamp()
	t := domain.Topic{
		ID:           id,
		AssignmentID: assignmentID,
		Name:         strings.TrimSpace(attrs.Name),
		Identifier:   strings.TrimSpace(attrs.Identifier),
		Category:     attrs.Category,
		Capacity:     attrs.Capacity,
		Description:  attrs.Description,
		Link:         attrs.Link,
		Micropayment: attrs.Micropayment,
		State:        state,
		SuggestedBy:  suggestedBy,
		CreatedAt:    stamp,
		UpdatedAt:    stamp,
	}
	if err := validateTopic(op, t); err != nil {
		return domain.Topic{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Topic{}, err
	}
	defer tx.Rollback()

	if _, err := e.loadAssignment(ctx, tx, op, assignmentID); err != nil {
		return domain.Topic{}, err
	}
	if err := e.checkIdentifier(ctx, tx, op, t); err != nil {
		return domain.Topic{}, err
	}
	if err := e.Repo.InsertTopic(ctx, tx, t); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Topic{}, newError(KindDuplicateIdentifier, op, "topic %s or identifier %q already exists", t.ID, t.Identifier)
		}
		return domain.Topic{}, storage(op, err)
	}
	evt := events.TopicCreated
	if state == domain.TopicSuggested {
		evt = events.TopicSuggested
	}
	if err := e.emit(ctx, tx, op, evt, assignmentID, "topic", t.ID, actor.ID, events.EventPayload{
		"name": t.Name, "identifier": t.Identifier, "capacity": t.Capacity,
	}); err != nil {
		return domain.Topic{}, err
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return domain.Topic{}, err
	}
	e.Logger.Info(ctx, "topic created", zap.String("topic_id", t.ID), zap.String("state", string(state)))
	return t, nil
}

// UpdateTopic merges patch into the topic. Raising capacity promotes from the
// waitlist; lowering it below the current occupancy is rejected.
func (e Engine) UpdateTopic(ctx context.Context, actor domain.Actor, topicID string, patch TopicPatch) (domain.Topic, error) {
	const op = "update topic"
	if err := require(op, actor, auth.PermTopicManage); err != nil {
		return domain.Topic{}, err
	}
	release, err := e.acquire(ctx, op, lock.TopicKey(topicID))
	if err != nil {
		return domain.Topic{}, err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Topic{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTopic(ctx, tx, op, topicID)
	if err != nil {
		return t, err
	}
	oldCapacity := t.Capacity
	if patch.Name != nil {
		t.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Identifier != nil {
		t.Identifier = strings.TrimSpace(*patch.Identifier)
	}
	if patch.Category != nil {
		t.Category = *patch.Category
	}
	if patch.Capacity != nil {
		t.Capacity = *patch.Capacity
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Link != nil {
		t.Link = *patch.Link
	}
	if patch.Micropayment != nil {
		t.Micropayment = *patch.Micropayment
	}
	if err := validateTopic(op, t); err != nil {
		return t, err
	}
	if err := e.checkIdentifier(ctx, tx, op, t); err != nil {
		return t, err
	}
	if t.Capacity < oldCapacity {
		n, err := e.Repo.CountOccupancy(ctx, tx, t.ID)
		if err != nil {
			return t, storage(op, err)
		}
		if t.Capacity < n {
			return t, invalidArg(op, "capacity %d is below the %d teams already confirmed", t.Capacity, n)
		}
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTopic(ctx, tx, t); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return t, newError(KindDuplicateIdentifier, op, "topic identifier %q is already used in this assignment", t.Identifier)
		}
		return t, storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.TopicUpdated, t.AssignmentID, "topic", t.ID, actor.ID, events.EventPayload{
		"name": t.Name, "identifier": t.Identifier, "capacity": t.Capacity,
	}); err != nil {
		return t, err
	}
	if t.Capacity > oldCapacity && t.State == domain.TopicApproved {
		if _, err := e.promote(ctx, tx, op, actor, t); err != nil {
			return t, err
		}
	}
	return t, e.commit(ctx, op, tx)
}

// DeleteTopic removes a topic with its sign-ups, bids and deadlines.
func (e Engine) DeleteTopic(ctx context.Context, actor domain.Actor, topicID string) error {
	const op = "delete topic"
	if err := require(op, actor, auth.PermTopicManage); err != nil {
		return err
	}
	release, err := e.acquire(ctx, op, lock.TopicKey(topicID))
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.loadTopic(ctx, tx, op, topicID)
	if err != nil {
		return err
	}
	held, err := e.Repo.ListTopicSignUps(ctx, tx, t.ID)
	if err != nil {
		return storage(op, err)
	}
	if err := e.Repo.DeleteTopic(ctx, tx, t.ID); err != nil {
		return storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.TopicDeleted, t.AssignmentID, "topic", t.ID, actor.ID, events.EventPayload{
		"name": t.Name, "signups": len(held),
	}); err != nil {
		return err
	}
	return e.commit(ctx, op, tx)
}

// PromoteSuggestedTopic approves a suggested topic. Approval cannot be undone.
func (e Engine) PromoteSuggestedTopic(ctx context.Context, actor domain.Actor, topicID string) (domain.Topic, error) {
	const op = "approve topic"
	if err := require(op, actor, auth.PermTopicManage); err != nil {
		return domain.Topic{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Topic{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTopic(ctx, tx, op, topicID)
	if err != nil {
		return t, err
	}
	if t.State != domain.TopicSuggested {
		return t, newError(KindInvalidState, op, "topic %s is already approved", t.Name)
	}
	t.State = domain.TopicApproved
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTopic(ctx, tx, t); err != nil {
		return t, storage(op, err)
	}
	payload := events.EventPayload{"name": t.Name}
	if t.SuggestedBy != nil {
		payload["suggested_by"] = *t.SuggestedBy
	}
	if err := e.emit(ctx, tx, op, events.TopicApproved, t.AssignmentID, "topic", t.ID, actor.ID, payload); err != nil {
		return t, err
	}
	return t, e.commit(ctx, op, tx)
}

// DeadlineInput is one deadline to save on a topic.
type DeadlineInput struct {
	Type  domain.DeadlineType `json:"type"`
	DueAt time.Time           `json:"due_at"`
}

// SaveResult reports how many deadlines were created and how many updated.
type SaveResult struct {
	Deadlines []domain.Deadline `json:"deadlines"`
	Created   int               `json:"created"`
	Updated   int               `json:"updated"`
}

// SaveTopicDeadlines upserts each deadline by type on the topic.
func (e Engine) SaveTopicDeadlines(ctx context.Context, actor domain.Actor, topicID string, inputs []DeadlineInput) (SaveResult, error) {
	const op = "save topic deadlines"
	var res SaveResult
	if err := require(op, actor, auth.PermDeadlineManage); err != nil {
		return res, err
	}
	for _, in := range inputs {
		if !in.Type.Valid() {
			return res, invalidArg(op, "unknown deadline type %q", in.Type)
		}
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	t, err := e.loadTopic(ctx, tx, op, topicID)
	if err != nil {
		return res, err
	}
	target := DeadlineTarget{AssignmentID: t.AssignmentID, TopicID: t.ID}
	for _, in := range inputs {
		d, created, err := e.upsertDeadline(ctx, tx, op, actor, target, in.Type, in.DueAt)
		if err != nil {
			return SaveResult{}, err
		}
		res.Deadlines = append(res.Deadlines, d)
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

func (e Engine) GetTopic(ctx context.Context, topicID string) (domain.Topic, error) {
	return e.loadTopic(ctx, nil, "get topic", topicID)
}

// ListTopicSheet returns the assignment's topics with occupancy, free slots,
// waitlist length and the deadlines that govern each.
func (e Engine) ListTopicSheet(ctx context.Context, assignmentID string, withSuggested bool) ([]domain.TopicSlot, error) {
	const op = "list topics"
	a, err := e.loadAssignment(ctx, nil, op, assignmentID)
	if err != nil {
		return nil, err
	}
	topics, err := e.Repo.ListTopics(ctx, nil, a.ID, withSuggested)
	if err != nil {
		return nil, storage(op, err)
	}
	slots := make([]domain.TopicSlot, 0, len(topics))
	for _, t := range topics {
		occ, err := e.Repo.CountOccupancy(ctx, nil, t.ID)
		if err != nil {
			return nil, storage(op, err)
		}
		wl, err := e.Repo.CountWaitlist(ctx, nil, t.ID)
		if err != nil {
			return nil, storage(op, err)
		}
		slot := domain.TopicSlot{Topic: t, Occupancy: occ, WaitlistSize: wl}
		if occ < t.Capacity {
			slot.Available = t.Capacity - occ
		}
		for _, typ := range []domain.DeadlineType{domain.DeadlineSignup, domain.DeadlineDrop, domain.DeadlineSubmission, domain.DeadlineReview} {
			d, ok, err := e.effectiveDeadline(ctx, nil, a, t.ID, typ)
			if err != nil {
				return nil, storage(op, err)
			}
			if ok {
				slot.Deadlines = append(slot.Deadlines, d)
			}
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// TopicTeams lists the teams holding a sign-up on a topic, confirmed first
// and then the waitlist in order.
func (e Engine) TopicTeams(ctx context.Context, topicID string) ([]domain.TopicTeam, error) {
	const op = "topic teams"
	if _, err := e.loadTopic(ctx, nil, op, topicID); err != nil {
		return nil, err
	}
	held, err := e.Repo.ListTopicSignUps(ctx, nil, topicID)
	if err != nil {
		return nil, storage(op, err)
	}
	res := make([]domain.TopicTeam, 0, len(held))
	for _, s := range held {
		team, err := e.loadTeam(ctx, nil, op, s.TeamID)
		if err != nil {
			return nil, err
		}
		res = append(res, domain.TopicTeam{Team: team, SignUp: s})
	}
	return res, nil
}
