package repo

import (
	"context"
	"database/sql"
	"errors"

	"signupsheet/internal/domain"
)

const bidColumns = `team_id,topic_id,assignment_id,priority,created_at,updated_at`

func scanBid(row rowScanner) (domain.Bid, error) {
	var b domain.Bid
	err := row.Scan(&b.TeamID, &b.TopicID, &b.AssignmentID, &b.Priority, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) listBids(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.Bid, error) {
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) GetBid(ctx context.Context, tx *sql.Tx, teamID, topicID string) (domain.Bid, error) {
	return scanBid(r.conn(tx).QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE team_id=? AND topic_id=?`, teamID, topicID))
}

// FindBidByPriority returns the team's bid holding the given priority.
func (r Repo) FindBidByPriority(ctx context.Context, tx *sql.Tx, teamID string, priority int) (domain.Bid, error) {
	return scanBid(r.conn(tx).QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE team_id=? AND priority=?`, teamID, priority))
}

// UpsertBid stores b; created_at of an existing bid is preserved.
func (r Repo) UpsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO bids(`+bidColumns+`) VALUES (?,?,?,?,?,?)
ON CONFLICT(team_id, topic_id) DO UPDATE SET priority=excluded.priority, updated_at=excluded.updated_at`,
		b.TeamID, b.TopicID, b.AssignmentID, b.Priority, b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) DeleteBid(ctx context.Context, tx *sql.Tx, teamID, topicID string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM bids WHERE team_id=? AND topic_id=?`, teamID, topicID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTeamBids(ctx context.Context, tx *sql.Tx, teamID string) ([]domain.Bid, error) {
	return r.listBids(ctx, tx, `SELECT `+bidColumns+` FROM bids WHERE team_id=? ORDER BY priority ASC`, teamID)
}

// ListAssignmentBids returns all bids of an assignment ordered by
// (priority, created_at, team_id), the resolution precedence.
func (r Repo) ListAssignmentBids(ctx context.Context, tx *sql.Tx, assignmentID string) ([]domain.Bid, error) {
	return r.listBids(ctx, tx, `SELECT `+bidColumns+` FROM bids WHERE assignment_id=? ORDER BY priority ASC, created_at ASC, team_id ASC`, assignmentID)
}
