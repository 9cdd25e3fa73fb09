package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"signupsheet/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint rejects a write.
var ErrConflict = errors.New("conflict")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs on tx when one is given, on the pool otherwise.
func (r Repo) conn(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO assignments(id,name,instructor_id,is_microtask,has_staggered_deadlines,is_bidding_enabled,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.InstructorID, boolInt(a.IsMicrotask), boolInt(a.HasStaggeredDeadlines), boolInt(a.IsBiddingEnabled), a.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) UpdateAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE assignments SET name=?, is_microtask=?, has_staggered_deadlines=?, is_bidding_enabled=? WHERE id=?`,
		a.Name, boolInt(a.IsMicrotask), boolInt(a.HasStaggeredDeadlines), boolInt(a.IsBiddingEnabled), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAssignment(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	var a domain.Assignment
	var micro, staggered, bidding int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT id,name,instructor_id,is_microtask,has_staggered_deadlines,is_bidding_enabled,created_at FROM assignments WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.InstructorID, &micro, &staggered, &bidding, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	a.IsMicrotask = micro == 1
	a.HasStaggeredDeadlines = staggered == 1
	a.IsBiddingEnabled = bidding == 1
	return a, err
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM assignments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	q := r.conn(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO teams(id,assignment_id,name,created_at) VALUES (?,?,?,?)`,
		t.ID, t.AssignmentID, t.Name, t.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	for _, m := range t.Members {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(team_id,user_id) VALUES (?,?)`, t.ID, m); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTeam(ctx context.Context, tx *sql.Tx, id string) (domain.Team, error) {
	var t domain.Team
	err := r.conn(tx).QueryRowContext(ctx, `SELECT id,assignment_id,name,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.AssignmentID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Members, err = r.ListTeamMembers(ctx, tx, t.ID)
	return t, err
}

func (r Repo) ListTeamMembers(ctx context.Context, tx *sql.Tx, teamID string) ([]string, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT user_id FROM team_members WHERE team_id=? ORDER BY user_id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO submissions(id,team_id,kind,ref,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.TeamID, string(s.Kind), s.Ref, s.CreatedAt)
	return err
}

// CountSubmissions returns how many files and hyperlinks a team has submitted.
func (r Repo) CountSubmissions(ctx context.Context, tx *sql.Tx, teamID string) (files, links int, err error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT kind, count(*) FROM submissions WHERE team_id=? GROUP BY kind`, teamID)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return 0, 0, err
		}
		switch domain.SubmissionKind(kind) {
		case domain.SubmissionFile:
			files = n
		case domain.SubmissionLink:
			links = n
		}
	}
	return files, links, rows.Err()
}

// LatestEvents returns the most recent events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, assignmentID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if assignmentID != "" {
		clauses = append(clauses, "assignment_id=?")
		args = append(args, assignmentID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(assignment_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events `+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events with id greater than cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(assignment_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AssignmentID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the id of the newest event, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
