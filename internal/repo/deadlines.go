package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signupsheet/internal/domain"
)

const deadlineColumns = `id,assignment_id,topic_id,type,due_at,updated_at`

func scanDeadline(row rowScanner) (domain.Deadline, error) {
	var d domain.Deadline
	var typ, due string
	err := row.Scan(&d.ID, &d.AssignmentID, &d.TopicID, &typ, &due, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Type = domain.DeadlineType(typ)
	d.DueAt, err = time.Parse(time.RFC3339Nano, due)
	if err != nil {
		return d, fmt.Errorf("parse due_at %q: %w", due, err)
	}
	return d, nil
}

// GetDeadline finds the deadline of a type for a topic, or for the assignment
// itself when topicID is empty.
func (r Repo) GetDeadline(ctx context.Context, tx *sql.Tx, assignmentID, topicID string, typ domain.DeadlineType) (domain.Deadline, error) {
	return scanDeadline(r.conn(tx).QueryRowContext(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE assignment_id=? AND topic_id=? AND type=?`,
		assignmentID, topicID, string(typ)))
}

// UpsertDeadline writes d keyed by (assignment, topic, type). The returned bool
// reports whether a new row was created; an existing row keeps its id.
func (r Repo) UpsertDeadline(ctx context.Context, tx *sql.Tx, d domain.Deadline) (domain.Deadline, bool, error) {
	existing, err := r.GetDeadline(ctx, tx, d.AssignmentID, d.TopicID, d.Type)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return d, false, err
	}
	due := d.DueAt.UTC().Format(time.RFC3339Nano)
	q := r.conn(tx)
	if err == nil {
		d.ID = existing.ID
		if _, err := q.ExecContext(ctx, `UPDATE deadlines SET due_at=?, updated_at=? WHERE id=?`, due, d.UpdatedAt, d.ID); err != nil {
			return d, false, err
		}
		return d, false, nil
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO deadlines(`+deadlineColumns+`) VALUES (?,?,?,?,?,?)`,
		d.ID, d.AssignmentID, d.TopicID, string(d.Type), due, d.UpdatedAt); err != nil {
		return d, false, err
	}
	return d, true, nil
}

// ListDeadlines returns the deadlines of an assignment; topic-specific rows are
// included when topicID is non-empty.
func (r Repo) ListDeadlines(ctx context.Context, tx *sql.Tx, assignmentID, topicID string) ([]domain.Deadline, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE assignment_id=? AND (topic_id='' OR topic_id=?) ORDER BY due_at ASC, type ASC`,
		assignmentID, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deadline
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
