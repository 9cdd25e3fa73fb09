package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"signupsheet/internal/domain"
)

const signUpColumns = `id,assignment_id,team_id,topic_id,is_waitlisted,queue_pos,source,created_at`

func scanSignUp(row rowScanner) (domain.SignUp, error) {
	var s domain.SignUp
	var waitlisted int
	var source string
	err := row.Scan(&s.ID, &s.AssignmentID, &s.TeamID, &s.TopicID, &waitlisted, &s.QueuePos, &source, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	s.IsWaitlisted = waitlisted == 1
	s.Source = domain.SignUpSource(source)
	return s, err
}

func (r Repo) listSignUps(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.SignUp, error) {
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SignUp
	for rows.Next() {
		s, err := scanSignUp(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// NextQueuePos returns the position after the current tail of the topic's queue.
func (r Repo) NextQueuePos(ctx context.Context, tx *sql.Tx, topicID string) (int64, error) {
	var pos int64
	err := r.conn(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_pos),0)+1 FROM signups WHERE topic_id=?`, topicID).Scan(&pos)
	return pos, err
}

func (r Repo) InsertSignUp(ctx context.Context, tx *sql.Tx, s domain.SignUp) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO signups(`+signUpColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.AssignmentID, s.TeamID, s.TopicID, boolInt(s.IsWaitlisted), s.QueuePos, string(s.Source), s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) UpdateSignUp(ctx context.Context, tx *sql.Tx, s domain.SignUp) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE signups SET is_waitlisted=?, queue_pos=?, source=? WHERE id=?`,
		boolInt(s.IsWaitlisted), s.QueuePos, string(s.Source), s.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSignUp(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM signups WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSignUp(ctx context.Context, tx *sql.Tx, teamID, topicID string) (domain.SignUp, error) {
	return scanSignUp(r.conn(tx).QueryRowContext(ctx, `SELECT `+signUpColumns+` FROM signups WHERE team_id=? AND topic_id=?`, teamID, topicID))
}

// ListTeamSignUps returns every sign-up a team holds within an assignment.
func (r Repo) ListTeamSignUps(ctx context.Context, tx *sql.Tx, assignmentID, teamID string) ([]domain.SignUp, error) {
	return r.listSignUps(ctx, tx, `SELECT `+signUpColumns+` FROM signups WHERE assignment_id=? AND team_id=? ORDER BY is_waitlisted ASC, queue_pos ASC`, assignmentID, teamID)
}

// ListWaitlist returns the waitlisted sign-ups of a topic, head first.
func (r Repo) ListWaitlist(ctx context.Context, tx *sql.Tx, topicID string) ([]domain.SignUp, error) {
	return r.listSignUps(ctx, tx, `SELECT `+signUpColumns+` FROM signups WHERE topic_id=? AND is_waitlisted=1 ORDER BY queue_pos ASC, id ASC`, topicID)
}

// ListTopicSignUps returns confirmed sign-ups first, then the waitlist in order.
func (r Repo) ListTopicSignUps(ctx context.Context, tx *sql.Tx, topicID string) ([]domain.SignUp, error) {
	return r.listSignUps(ctx, tx, `SELECT `+signUpColumns+` FROM signups WHERE topic_id=? ORDER BY is_waitlisted ASC, queue_pos ASC, id ASC`, topicID)
}

func (r Repo) ListAssignmentSignUps(ctx context.Context, tx *sql.Tx, assignmentID string) ([]domain.SignUp, error) {
	return r.listSignUps(ctx, tx, `SELECT `+signUpColumns+` FROM signups WHERE assignment_id=? ORDER BY topic_id ASC, is_waitlisted ASC, queue_pos ASC`, assignmentID)
}

// CountOccupancy counts confirmed sign-ups on a topic.
func (r Repo) CountOccupancy(ctx context.Context, tx *sql.Tx, topicID string) (int, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT count(*) FROM signups WHERE topic_id=? AND is_waitlisted=0`, topicID).Scan(&n)
	return n, err
}

func (r Repo) CountWaitlist(ctx context.Context, tx *sql.Tx, topicID string) (int, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT count(*) FROM signups WHERE topic_id=? AND is_waitlisted=1`, topicID).Scan(&n)
	return n, err
}

// DeleteAssignmentSignUpsExcept removes every sign-up of the assignment whose
// source is not one of keep.
func (r Repo) DeleteAssignmentSignUpsExcept(ctx context.Context, tx *sql.Tx, assignmentID string, keep ...domain.SignUpSource) (int64, error) {
	query := `DELETE FROM signups WHERE assignment_id=?`
	args := []any{assignmentID}
	if len(keep) > 0 {
		query += ` AND source NOT IN (?` + strings.Repeat(`,?`, len(keep)-1) + `)`
		for _, k := range keep {
			args = append(args, string(k))
		}
	}
	res, err := r.conn(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
