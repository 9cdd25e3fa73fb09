package repo

import (
	"context"
	"database/sql"
	"errors"

	"signupsheet/internal/domain"
)

const topicColumns = `id,assignment_id,name,identifier,COALESCE(category,''),capacity,COALESCE(description,''),COALESCE(link,''),micropayment,state,suggested_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (domain.Topic, error) {
	var t domain.Topic
	var state string
	var suggestedBy sql.NullString
	err := row.Scan(&t.ID, &t.AssignmentID, &t.Name, &t.Identifier, &t.Category, &t.Capacity, &t.Description, &t.Link,
		&t.Micropayment, &state, &suggestedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.State = domain.TopicState(state)
	if suggestedBy.Valid {
		t.SuggestedBy = &suggestedBy.String
	}
	return t, nil
}

func (r Repo) InsertTopic(ctx context.Context, tx *sql.Tx, t domain.Topic) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO topics(id,assignment_id,name,identifier,category,capacity,description,link,micropayment,state,suggested_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.AssignmentID, t.Name, t.Identifier, nullable(t.Category), t.Capacity, nullable(t.Description), nullable(t.Link),
		t.Micropayment, string(t.State), nullableStringPtr(t.SuggestedBy), t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) UpdateTopic(ctx context.Context, tx *sql.Tx, t domain.Topic) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE topics SET name=?, identifier=?, category=?, capacity=?, description=?, link=?, micropayment=?, state=?, suggested_by=?, updated_at=? WHERE id=?`,
		t.Name, t.Identifier, nullable(t.Category), t.Capacity, nullable(t.Description), nullable(t.Link), t.Micropayment,
		string(t.State), nullableStringPtr(t.SuggestedBy), t.UpdatedAt, t.ID)
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

func (r Repo) GetTopic(ctx context.Context, tx *sql.Tx, id string) (domain.Topic, error) {
	return scanTopic(r.conn(tx).QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id=?`, id))
}

// FindTopicByIdentifier looks up a topic by its short code within an assignment.
func (r Repo) FindTopicByIdentifier(ctx context.Context, tx *sql.Tx, assignmentID, identifier string) (domain.Topic, error) {
	return scanTopic(r.conn(tx).QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE assignment_id=? AND identifier=?`, assignmentID, identifier))
}

// ListTopics returns the topics of an assignment in creation order. Suggested
// topics are included only when withSuggested is set.
func (r Repo) ListTopics(ctx context.Context, tx *sql.Tx, assignmentID string, withSuggested bool) ([]domain.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE assignment_id=?`
	args := []any{assignmentID}
	if !withSuggested {
		query += ` AND state=?`
		args = append(args, string(domain.TopicApproved))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTopic(ctx context.Context, tx *sql.Tx, id string) error {
	q := r.conn(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM deadlines WHERE topic_id=?`, id); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `DELETE FROM topics WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
