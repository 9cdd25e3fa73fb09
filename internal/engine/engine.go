package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine/auth"
	"signupsheet/internal/events"
	"signupsheet/internal/lock"
	"signupsheet/internal/logging"
	"signupsheet/internal/repo"
)

// SubmissionChecker answers whether a team has submitted any file or link.
type SubmissionChecker interface {
	HasSubmittedWork(ctx context.Context, teamID string) (bool, error)
}

type storeSubmissions struct {
	store TeamStore
}

func (s storeSubmissions) HasSubmittedWork(ctx context.Context, teamID string) (bool, error) {
	files, links, err := s.store.CountSubmissions(ctx, nil, teamID)
	if err != nil {
		return false, err
	}
	return files+links > 0, nil
}

type Engine struct {
	DB          *sql.DB
	Repo        Store
	Events      events.Writer
	Locker      lock.Locker
	Logger      *logging.Logger
	Submissions SubmissionChecker
	Now         func() time.Time
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:          db,
		Repo:        r,
		Events:      events.Writer{},
		Locker:      lock.NewLocal(),
		Logger:      logging.Nop(),
		Submissions: storeSubmissions{store: r},
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

func (e Engine) begin(ctx context.Context, op string) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage(op, err)
	}
	return tx, nil
}

func (e Engine) commit(ctx context.Context, op string, tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		e.Logger.Error(ctx, "commit failed", zap.String("op", op), zap.Error(err))
		return storage(op, err)
	}
	return nil
}

func (e Engine) acquire(ctx context.Context, op string, keys ...string) (func(), error) {
	if e.Locker == nil {
		return func() {}, nil
	}
	release, err := e.Locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("%s: acquire %s: %w", op, strings.Join(keys, ","), err)
	}
	return release, nil
}

func (e Engine) submissions() SubmissionChecker {
	if e.Submissions != nil {
		return e.Submissions
	}
	return storeSubmissions{store: e.Repo}
}

func require(op string, actor domain.Actor, perm auth.Permission) error {
	if err := auth.Require(actor, perm); err != nil {
		return forbidden(op, err)
	}
	return nil
}

func (e Engine) emit(ctx context.Context, tx *sql.Tx, op, evtType, assignmentID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, tx, evtType, assignmentID, entityKind, entityID, actorID, payload); err != nil {
		return storage(op, err)
	}
	return nil
}

func (e Engine) loadAssignment(ctx context.Context, tx *sql.Tx, op, id string) (domain.Assignment, error) {
	a, err := e.Repo.GetAssignment(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return a, notFound(op, "assignment %s not found", id)
	}
	return a, storage(op, err)
}

func (e Engine) loadTopic(ctx context.Context, tx *sql.Tx, op, id string) (domain.Topic, error) {
	t, err := e.Repo.GetTopic(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, notFound(op, "topic %s not found", id)
	}
	return t, storage(op, err)
}

func (e Engine) loadTeam(ctx context.Context, tx *sql.Tx, op, id string) (domain.Team, error) {
	t, err := e.Repo.GetTeam(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, notFound(op, "team %s not found", id)
	}
	return t, storage(op, err)
}

// loadPair loads a topic and a team and checks they share an assignment.
func (e Engine) loadPair(ctx context.Context, tx *sql.Tx, op, teamID, topicID string) (domain.Topic, domain.Team, error) {
	topic, err := e.loadTopic(ctx, tx, op, topicID)
	if err != nil {
		return topic, domain.Team{}, err
	}
	team, err := e.loadTeam(ctx, tx, op, teamID)
	if err != nil {
		return topic, team, err
	}
	if team.AssignmentID != topic.AssignmentID {
		return topic, team, notFound(op, "team %s not found in assignment %s", teamID, topic.AssignmentID)
	}
	return topic, team, nil
}

// AssignmentOptions are parameters for creating an assignment.
type AssignmentOptions struct {
	ID                    string
	Name                  string
	IsMicrotask           bool
	HasStaggeredDeadlines bool
	IsBiddingEnabled      bool
}

func (e Engine) CreateAssignment(ctx context.Context, actor domain.Actor, opts AssignmentOptions) (domain.Assignment, error) {
	const op = "create assignment"
	if err := require(op, actor, auth.PermAssignmentManage); err != nil {
		return domain.Assignment{}, err
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Assignment{}, invalidArg(op, "name is required")
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	a := domain.Assignment{
		ID:                    id,
		Name:                  opts.Name,
		InstructorID:          actor.ID,
		IsMicrotask:           opts.IsMicrotask,
		HasStaggeredDeadlines: opts.HasStaggeredDeadlines,
		IsBiddingEnabled:      opts.IsBiddingEnabled,
		CreatedAt:             e.stamp(),
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Assignment{}, newError(KindInvalidArgument, op, "assignment %s already exists", id)
		}
		return domain.Assignment{}, storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.AssignmentCreated, a.ID, "assignment", a.ID, actor.ID, events.EventPayload{
		"name": a.Name, "bidding": a.IsBiddingEnabled, "staggered": a.HasStaggeredDeadlines,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return domain.Assignment{}, err
	}
	e.Logger.Info(ctx, "assignment created", zap.String("assignment_id", a.ID))
	return a, nil
}

// AssignmentPatch holds the assignment fields to change; nil means keep.
type AssignmentPatch struct {
	Name                  *string
	IsMicrotask           *bool
	HasStaggeredDeadlines *bool
	IsBiddingEnabled      *bool
}

func (e Engine) UpdateAssignment(ctx context.Context, actor domain.Actor, id string, patch AssignmentPatch) (domain.Assignment, error) {
	const op = "update assignment"
	if err := require(op, actor, auth.PermAssignmentManage); err != nil {
		return domain.Assignment{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.loadAssignment(ctx, tx, op, id)
	if err != nil {
		return a, err
	}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return a, invalidArg(op, "name cannot be empty")
		}
		a.Name = *patch.Name
	}
	if patch.IsMicrotask != nil {
		a.IsMicrotask = *patch.IsMicrotask
	}
	if patch.HasStaggeredDeadlines != nil {
		a.HasStaggeredDeadlines = *patch.HasStaggeredDeadlines
	}
	if patch.IsBiddingEnabled != nil {
		a.IsBiddingEnabled = *patch.IsBiddingEnabled
	}
	if err := e.Repo.UpdateAssignment(ctx, tx, a); err != nil {
		return a, storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.AssignmentUpdated, a.ID, "assignment", a.ID, actor.ID, events.EventPayload{
		"name": a.Name, "bidding": a.IsBiddingEnabled, "staggered": a.HasStaggeredDeadlines, "microtask": a.IsMicrotask,
	}); err != nil {
		return a, err
	}
	return a, e.commit(ctx, op, tx)
}

func (e Engine) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	return e.loadAssignment(ctx, nil, "get assignment", id)
}

// TeamOptions are parameters for creating a team.
type TeamOptions struct {
	ID           string
	AssignmentID string
	Name         string
	Members      []string
}

func (e Engine) CreateTeam(ctx context.Context, actor domain.Actor, opts TeamOptions) (domain.Team, error) {
	const op = "create team"
	if err := require(op, actor, auth.PermTeamManage); err != nil {
		return domain.Team{}, err
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Team{}, invalidArg(op, "name is required")
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	t := domain.Team{ID: id, AssignmentID: opts.AssignmentID, Name: opts.Name, CreatedAt: e.stamp()}
	for _, m := range opts.Members {
		if m = strings.TrimSpace(m); m != "" {
			t.Members = append(t.Members, m)
		}
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	if _, err := e.loadAssignment(ctx, tx, op, opts.AssignmentID); err != nil {
		return domain.Team{}, err
	}
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Team{}, invalidArg(op, "team %s already exists", id)
		}
		return domain.Team{}, storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.TeamCreated, t.AssignmentID, "team", t.ID, actor.ID, events.EventPayload{
		"name": t.Name, "members": t.Members,
	}); err != nil {
		return domain.Team{}, err
	}
	if err := e.commit(ctx, op, tx); err != nil {
		return domain.Team{}, err
	}
	return e.Repo.GetTeam(ctx, nil, t.ID)
}

func (e Engine) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	return e.loadTeam(ctx, nil, "get team", id)
}

// AddSubmission records a file or link the team submitted.
func (e Engine) AddSubmission(ctx context.Context, actor domain.Actor, teamID string, kind domain.SubmissionKind, ref string) (domain.Submission, error) {
	const op = "add submission"
	if err := require(op, actor, auth.PermSubmissionAdd); err != nil {
		return domain.Submission{}, err
	}
	if kind != domain.SubmissionFile && kind != domain.SubmissionLink {
		return domain.Submission{}, invalidArg(op, "kind must be file or link")
	}
	if strings.TrimSpace(ref) == "" {
		return domain.Submission{}, invalidArg(op, "ref is required")
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	team, err := e.loadTeam(ctx, tx, op, teamID)
	if err != nil {
		return domain.Submission{}, err
	}
	s := domain.Submission{ID: newID(), TeamID: team.ID, Kind: kind, Ref: ref, CreatedAt: e.stamp()}
	if err := e.Repo.InsertSubmission(ctx, tx, s); err != nil {
		return domain.Submission{}, storage(op, err)
	}
	if err := e.emit(ctx, tx, op, events.SubmissionAdded, team.AssignmentID, "team", team.ID, actor.ID, events.EventPayload{
		"kind": string(kind), "ref": ref,
	}); err != nil {
		return domain.Submission{}, err
	}
	return s, e.commit(ctx, op, tx)
}

// TeamSignUps lists the sign-ups a team holds, confirmed first.
func (e Engine) TeamSignUps(ctx context.Context, teamID string) ([]domain.SignUp, error) {
	const op = "team signups"
	team, err := e.loadTeam(ctx, nil, op, teamID)
	if err != nil {
		return nil, err
	}
	res, err := e.Repo.ListTeamSignUps(ctx, nil, team.AssignmentID, team.ID)
	return res, storage(op, err)
}

// EventQuery filters the audit log; empty fields match everything.
type EventQuery struct {
	AssignmentID string
	Type         string
	EntityKind   string
	EntityID     string
	Limit        int
}

func (e Engine) ListEvents(ctx context.Context, q EventQuery) ([]domain.Event, error) {
	res, err := e.Repo.LatestEvents(ctx, q.Limit, q.AssignmentID, q.Type, q.EntityKind, q.EntityID)
	return res, storage("list events", err)
}
