// Package pgstore persists the mail queue in PostgreSQL through pgx.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
	"github.com/andrewklimek/mnml-smtp/pkg/pg"
)

// Migrations holds the goose schema under "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS

// DB is the subset of *pgxpool.Pool (or pgx.Tx) the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const columns = `id, recipients, subject, body, headers, status, attempts, next_attempt, error, created_at`

// Store implements mailqueue.Repository.
type Store struct {
	db DB
}

// New wraps db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Insert implements mailqueue.Repository.
func (s *Store) Insert(ctx context.Context, msg *mailqueue.Message) (int64, error) {
	if msg == nil {
		return 0, errors.New("message cannot be nil")
	}
	headers, err := msg.Headers.Encode()
	if err != nil {
		return 0, err
	}
	status := msg.Status
	if status == "" {
		status = mailqueue.StatusPending
	}

	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO mailqueue_messages
			(recipients, subject, body, headers, status, attempts, next_attempt, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		RETURNING id`,
		msg.RecipientList(), msg.Subject, msg.Body, headers, string(status),
		msg.Attempts, nullTime(msg.NextAttempt), msg.Error, nullTime(msg.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// Get implements mailqueue.Repository.
func (s *Store) Get(ctx context.Context, id int64) (*mailqueue.Message, error) {
	msg, err := scanMessage(s.db.QueryRow(ctx,
		`SELECT `+columns+` FROM mailqueue_messages WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, mailqueue.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return msg, nil
}

// ListDue implements mailqueue.Repository.
func (s *Store) ListDue(ctx context.Context, opts mailqueue.ListOptions) ([]*mailqueue.Message, error) {
	return s.list(ctx, opts, `next_attempt ASC NULLS LAST, id ASC`)
}

// List implements mailqueue.Repository.
func (s *Store) List(ctx context.Context, opts mailqueue.ListOptions) ([]*mailqueue.Message, error) {
	return s.list(ctx, opts, `id DESC`)
}

func (s *Store) list(ctx context.Context, opts mailqueue.ListOptions, order string) ([]*mailqueue.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+columns+` FROM mailqueue_messages
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR next_attempt <= $2)
		ORDER BY `+order+`
		LIMIT NULLIF($3, 0)`,
		string(opts.Status), nullTime(opts.DueBefore), opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*mailqueue.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Update implements mailqueue.Repository.
func (s *Store) Update(ctx context.Context, id int64, upd mailqueue.MessageUpdate) error {
	var (
		sets []string
		args = []any{id}
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.Attempts != nil {
		set("attempts", *upd.Attempts)
	}
	if upd.NextAttempt != nil {
		set("next_attempt", nullTime(*upd.NextAttempt))
	}
	if upd.Error != nil {
		set("error", *upd.Error)
	}

	where := "id = $1"
	if upd.IfStatus != nil {
		args = append(args, string(*upd.IfStatus))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if upd.IfAttempts != nil {
		args = append(args, *upd.IfAttempts)
		where += fmt.Sprintf(" AND attempts = $%d", len(args))
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if len(sets) == 0 {
		tag, err = s.db.Exec(ctx, `SELECT 1 FROM mailqueue_messages WHERE `+where, args...)
	} else {
		tag, err = s.db.Exec(ctx,
			`UPDATE mailqueue_messages SET `+strings.Join(sets, ", ")+` WHERE `+where, args...)
	}
	if err != nil {
		return fmt.Errorf("update message %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if !upd.Conditional() {
		return mailqueue.ErrMessageNotFound
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mailqueue_messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check message %d: %w", id, err)
	}
	if !exists {
		return mailqueue.ErrMessageNotFound
	}
	return mailqueue.ErrStaleUpdate
}

// Delete implements mailqueue.Repository.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM mailqueue_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return mailqueue.ErrMessageNotFound
	}
	return nil
}

// Count implements mailqueue.Repository.
func (s *Store) Count(ctx context.Context, status mailqueue.Status) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM mailqueue_messages WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s messages: %w", status, err)
	}
	return n, nil
}

// ResetStatus implements mailqueue.Repository.
func (s *Store) ResetStatus(ctx context.Context, from mailqueue.Status, now time.Time) (int64, error) {
	return s.exec(ctx, `
		UPDATE mailqueue_messages
		SET status = 'pending', attempts = 0, next_attempt = $2, error = ''
		WHERE status = $1`, string(from), now)
}

// ResetIDs implements mailqueue.Repository.
func (s *Store) ResetIDs(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.exec(ctx, `
		UPDATE mailqueue_messages
		SET status = 'pending', attempts = 0, next_attempt = $2, error = ''
		WHERE id = ANY($1)`, ids, now)
}

// DeleteByStatus implements mailqueue.Repository.
func (s *Store) DeleteByStatus(ctx context.Context, status mailqueue.Status) (int64, error) {
	return s.exec(ctx, `DELETE FROM mailqueue_messages WHERE status = $1`, string(status))
}

// DeleteTerminalBefore implements mailqueue.Repository.
func (s *Store) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, `
		DELETE FROM mailqueue_messages
		WHERE status IN ('sent', 'failed') AND created_at < $1`, before)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (*mailqueue.Message, error) {
	var (
		msg        mailqueue.Message
		recipients string
		headers    []byte
		status     string
		next       *time.Time
	)
	err := row.Scan(&msg.ID, &recipients, &msg.Subject, &msg.Body, &headers,
		&status, &msg.Attempts, &next, &msg.Error, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	msg.Recipients = email.SplitRecipients(recipients)
	msg.Status = mailqueue.Status(status)
	if next != nil {
		msg.NextAttempt = *next
	}
	if msg.Headers, err = email.DecodeHeaders(headers); err != nil {
		return nil, err
	}
	return &msg, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ mailqueue.Repository = (*Store)(nil)
