package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine/auth"
	"signupsheet/internal/events"
	"signupsheet/internal/lock"
	"signupsheet/internal/repo"
)

// SetPriority records a team's bid on a topic. Each priority may be used on
// only one topic per team.
func (e Engine) SetPriority(ctx context.Context, actor domain.Actor, teamID, topicID string, priority int) (domain.Bid, error) {
	const op = "set priority"
	if err := require(op, actor, auth.PermBid); err != nil {
		return domain.Bid{}, err
	}
	if priority < 1 {
		return domain.Bid{}, newError(KindInvalidPriority, op, "priority must be at least 1, got %d", priority)
	}
	release, err := e.acquire(ctx, op, lock.TeamKey(teamID))
	if err != nil {
		return domain.Bid{}, err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	topic, team, err := e.loadPair(ctx, tx, op, teamID, topicID)
	if err != nil {
		return domain.Bid{}, err
	}
	if topic.State != domain.TopicApproved {
		return domain.Bid{}, notFound(op, "topic %s is not open for bidding", topicID)
	}
	a, err := e.loadAssignment(ctx, tx, op, topic.AssignmentID)
	if err != nil {
		return domain.Bid{}, err
	}
	if !a.IsBiddingEnabled {
		return domain.Bid{}, newError(KindBiddingDisabled, op, "bidding is not enabled for assignment %s", a.Name)
	}
	taken, err := e.Repo.FindBidByPriority(ctx, tx, team.ID, priority)
	switch {
	case err == nil && taken.TopicID != topic.ID:
		return domain.Bid{}, newError(KindDuplicatePriority, op, "team %s already has a topic at priority %d", team.Name, priority)
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return domain.Bid{}, storage(op, err)
	}
	stamp := e.stamp()
	b := domain.Bid{TeamID: team.ID, TopicID: topic.ID, AssignmentID: a.ID, Priority: priority, CreatedAt: stamp, UpdatedAt: stamp}
	if existing, err := e.Repo.GetBid(ctx, tx, team.ID, topic.ID); err == nil {
		b.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Bid{}, storage(op, err)
	}
	if err := e.Repo.UpsertBid(ctx, tx, b); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Bid{}, newError(KindDuplicatePriority, op, "team %s already has a topic at priority %d", team.Name, priority)
		}
		return domain.Bid{}, storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.BidSet, a.ID, "bid", topic.ID, actor.ID, events.EventPayload{
		"team_id": team.ID, "topic_id": topic.ID, "priority": priority,
	}); err != nil {
		return domain.Bid{}, err
	}
	return b, e.commit(ctx, op, tx)
}

func (e Engine) RemoveBid(ctx context.Context, actor domain.Actor, teamID, topicID string) error {
	const op = "remove bid"
	if err := require(op, actor, auth.PermBid); err != nil {
		return err
	}
	release, err := e.acquire(ctx, op, lock.TeamKey(teamID))
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	topic, team, err := e.loadPair(ctx, tx, op, teamID, topicID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteBid(ctx, tx, team.ID, topic.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return notFound(op, "team %s has no bid on topic %s", team.Name, topic.Name)
		}
		return storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.BidRemoved, topic.AssignmentID, "bid", topic.ID, actor.ID, events.EventPayload{
		"team_id": team.ID, "topic_id": topic.ID,
	}); err != nil {
		return err
	}
	return e.commit(ctx, op, tx)
}

// TeamBids lists a team's bids by priority.
func (e Engine) TeamBids(ctx context.Context, teamID string) ([]domain.Bid, error) {
	const op = "team bids"
	if _, err := e.loadTeam(ctx, nil, op, teamID); err != nil {
		return nil, err
	}
	res, err := e.Repo.ListTeamBids(ctx, nil, teamID)
	return res, storage(op, err)
}

// Resolution is the outcome of one bidding pass.
type Resolution struct {
	AssignmentID string          `json:"assignment_id"`
	Confirmed    []domain.SignUp `json:"confirmed"`
	Waitlisted   []domain.SignUp `json:"waitlisted"`
	Kept         []domain.SignUp `json:"kept,omitempty"`
	Unplaced     []string        `json:"unplaced,omitempty"`
}

// Resolve recomputes the assignment's sign-ups from its bids.
//
// Sign-ups from students and earlier passes are discarded. Instructor
// placements and switches onto a team's own suggested topic stay, fill
// capacity and mark their team placed. Bids are then confirmed in rank rounds: round r
// visits topics in creation order and confirms every unplaced team bidding r
// while the topic has room, earlier bids and lower team ids first. Teams left
// unplaced are waitlisted on each topic they bid on in bid order. The same
// bids and capacities always yield the same result.
func (e Engine) Resolve(ctx context.Context, actor domain.Actor, assignmentID string, now time.Time) (Resolution, error) {
	const op = "resolve"
	res := Resolution{AssignmentID: assignmentID}
	if err := require(op, actor, auth.PermResolve); err != nil {
		return res, err
	}
	release, err := e.acquire(ctx, op, lock.AssignmentKey(assignmentID))
	if err != nil {
		return res, err
	}
	defer release()

	tx, err := e.begin(ctx, op)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	a, err := e.loadAssignment(ctx, tx, op, assignmentID)
	if err != nil {
		return res, err
	}
	if !a.IsBiddingEnabled {
		return res, newError(KindBiddingDisabled, op, "bidding is not enabled for assignment %s", a.Name)
	}
	if _, err := e.Repo.DeleteAssignmentSignUpsExcept(ctx, tx, a.ID, domain.SourceInstructor, domain.SourceSuggestion); err != nil {
		return res, storage(op, err)
	}
	topics, err := e.Repo.ListTopics(ctx, tx, a.ID, false)
	if err != nil {
		return res, storage(op, err)
	}
	kept, err := e.Repo.ListAssignmentSignUps(ctx, tx, a.ID)
	if err != nil {
		return res, storage(op, err)
	}
	bids, err := e.Repo.ListAssignmentBids(ctx, tx, a.ID)
	if err != nil {
		return res, storage(op, err)
	}
	res.Kept = kept

	occupancy := map[string]int{}
	placed := map[string]bool{}
	for _, s := range kept {
		if !s.IsWaitlisted {
			occupancy[s.TopicID]++
			placed[s.TeamID] = true
		}
	}
	open := make(map[string]domain.Topic, len(topics))
	for _, t := range topics {
		open[t.ID] = t
	}
	groups := map[string][]domain.Bid{}
	maxPriority := 0
	bidders := map[string]bool{}
	for _, b := range bids {
		if _, ok := open[b.TopicID]; !ok {
			continue
		}
		groups[b.TopicID] = append(groups[b.TopicID], b)
		bidders[b.TeamID] = true
		if b.Priority > maxPriority {
			maxPriority = b.Priority
		}
	}
	for _, g := range groups {
		sortBids(g)
	}

	nextPos := map[string]int64{}
	queuePos := func(topicID string) (int64, error) {
		if _, ok := nextPos[topicID]; !ok {
			p, err := e.Repo.NextQueuePos(ctx, tx, topicID)
			if err != nil {
				return 0, err
			}
			nextPos[topicID] = p
		}
		p := nextPos[topicID]
		nextPos[topicID]++
		return p, nil
	}
	stamp := now.UTC().Format(time.RFC3339)
	insert := func(b domain.Bid, waitlisted bool) (domain.SignUp, error) {
		pos, err := queuePos(b.TopicID)
		if err != nil {
			return domain.SignUp{}, err
		}
		s := domain.SignUp{
			ID:           newID(),
			AssignmentID: a.ID,
			TeamID:       b.TeamID,
			TopicID:      b.TopicID,
			IsWaitlisted: waitlisted,
			QueuePos:     pos,
			Source:       domain.SourceBid,
			CreatedAt:    stamp,
		}
		return s, e.Repo.InsertSignUp(ctx, tx, s)
	}

	for rank := 1; rank <= maxPriority; rank++ {
		for _, t := range topics {
			for _, b := range groups[t.ID] {
				if b.Priority != rank || placed[b.TeamID] || occupancy[t.ID] >= t.Capacity {
					continue
				}
				s, err := insert(b, false)
				if err != nil {
					return res, storage(op, err)
				}
				occupancy[t.ID]++
				placed[b.TeamID] = true
				res.Confirmed = append(res.Confirmed, s)
			}
		}
	}
	for _, t := range topics {
		for _, b := range groups[t.ID] {
			if placed[b.TeamID] {
				continue
			}
			s, err := insert(b, true)
			if err != nil {
				return res, storage(op, err)
			}
			res.Waitlisted = append(res.Waitlisted, s)
		}
	}
	for teamID := range bidders {
		if !placed[teamID] {
			res.Unplaced = append(res.Unplaced, teamID)
		}
	}
	sort.Strings(res.Unplaced)

	if err := e.emit(ctx, tx, op, events.Resolved, a.ID, "assignment", a.ID, actor.ID, events.EventPayload{
		"confirmed": len(res.Confirmed), "waitlisted": len(res.Waitlisted), "kept": len(res.Kept), "unplaced": len(res.Unplaced),
	}); err != nil {
		return res, err
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return Resolution{AssignmentID: assignmentID}, err
	}
	e.Logger.Info(ctx, "bids resolved", zap.String("assignment_id", a.ID), zap.Int("confirmed", len(res.Confirmed)),
		zap.Int("waitlisted", len(res.Waitlisted)), zap.Int("unplaced", len(res.Unplaced)))
	return res, nil
}

func sortBids(bids []domain.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if bids[i].Priority != bids[j].Priority {
			return bids[i].Priority < bids[j].Priority
		}
		if bids[i].CreatedAt != bids[j].CreatedAt {
			return bids[i].CreatedAt < bids[j].CreatedAt
		}
		return bids[i].TeamID < bids[j].TeamID
	})
}
