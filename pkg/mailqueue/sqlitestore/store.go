// Package sqlitestore keeps the mail queue in a single SQLite file for
// single-node deployments. Timestamps are stored as unix microseconds.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

//go:embed schema.sql
var schema string

const columns = `id, recipients, subject, body, headers, status, attempts, next_attempt, error, created_at`

// Store implements mailqueue.Repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at dsn and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn not set")
	}
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Healthcheck pings the database.
func (s *Store) Healthcheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
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
	created := msg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mailqueue_messages
			(recipients, subject, body, headers, status, attempts, next_attempt, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.RecipientList(), msg.Subject, msg.Body, string(headers), string(status),
		msg.Attempts, micros(msg.NextAttempt), msg.Error, created.UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

// Get implements mailqueue.Repository.
func (s *Store) Get(ctx context.Context, id int64) (*mailqueue.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM mailqueue_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailqueue.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return msg, nil
}

// ListDue implements mailqueue.Repository.
func (s *Store) ListDue(ctx context.Context, opts mailqueue.ListOptions) ([]*mailqueue.Message, error) {
	return s.list(ctx, opts, `next_attempt IS NULL, next_attempt ASC, id ASC`)
}

// List implements mailqueue.Repository.
func (s *Store) List(ctx context.Context, opts mailqueue.ListOptions) ([]*mailqueue.Message, error) {
	return s.list(ctx, opts, `id DESC`)
}

func (s *Store) list(ctx context.Context, opts mailqueue.ListOptions, order string) ([]*mailqueue.Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM mailqueue_messages
		WHERE (?1 = '' OR status = ?1)
		  AND (?2 IS NULL OR next_attempt <= ?2)
		ORDER BY `+order+`
		LIMIT ?3`,
		string(opts.Status), micros(opts.DueBefore), limit,
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
		args []any
	)
	if upd.Status != nil {
		sets, args = append(sets, "status = ?"), append(args, string(*upd.Status))
	}
	if upd.Attempts != nil {
		sets, args = append(sets, "attempts = ?"), append(args, *upd.Attempts)
	}
	if upd.NextAttempt != nil {
		sets, args = append(sets, "next_attempt = ?"), append(args, micros(*upd.NextAttempt))
	}
	if upd.Error != nil {
		sets, args = append(sets, "error = ?"), append(args, *upd.Error)
	}

	where := "id = ?"
	whereArgs := []any{id}
	if upd.IfStatus != nil {
		where += " AND status = ?"
		whereArgs = append(whereArgs, string(*upd.IfStatus))
	}
	if upd.IfAttempts != nil {
		where += " AND attempts = ?"
		whereArgs = append(whereArgs, *upd.IfAttempts)
	}

	var n int64
	if len(sets) == 0 {
		if err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM mailqueue_messages WHERE `+where, whereArgs...).Scan(&n); err != nil {
			return fmt.Errorf("update message %d: %w", id, err)
		}
	} else {
		var err error
		n, err = s.exec(ctx,
			`UPDATE mailqueue_messages SET `+strings.Join(sets, ", ")+` WHERE `+where, append(args, whereArgs...)...)
		if err != nil {
			return fmt.Errorf("update message %d: %w", id, err)
		}
	}
	if n > 0 {
		return nil
	}
	if !upd.Conditional() {
		return mailqueue.ErrMessageNotFound
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM mailqueue_messages WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check message %d: %w", id, err)
	}
	if exists == 0 {
		return mailqueue.ErrMessageNotFound
	}
	return mailqueue.ErrStaleUpdate
}

// Delete implements mailqueue.Repository.
func (s *Store) Delete(ctx context.Context, id int64) error {
	n, err := s.exec(ctx, `DELETE FROM mailqueue_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	if n == 0 {
		return mailqueue.ErrMessageNotFound
	}
	return nil
}

// Count implements mailqueue.Repository.
func (s *Store) Count(ctx context.Context, status mailqueue.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM mailqueue_messages WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

// ResetStatus implements mailqueue.Repository.
func (s *Store) ResetStatus(ctx context.Context, from mailqueue.Status, now time.Time) (int64, error) {
	return s.exec(ctx, `
		UPDATE mailqueue_messages
		SET status = 'pending', attempts = 0, next_attempt = ?, error = ''
		WHERE status = ?`, now.UnixMicro(), string(from))
}

// ResetIDs implements mailqueue.Repository.
func (s *Store) ResetIDs(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.UnixMicro())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return s.exec(ctx, `
		UPDATE mailqueue_messages
		SET status = 'pending', attempts = 0, next_attempt = ?, error = ''
		WHERE id IN (`+placeholders+`)`, args...)
}

// DeleteByStatus implements mailqueue.Repository.
func (s *Store) DeleteByStatus(ctx context.Context, status mailqueue.Status) (int64, error) {
	return s.exec(ctx, `DELETE FROM mailqueue_messages WHERE status = ?`, string(status))
}

// DeleteTerminalBefore implements mailqueue.Repository.
func (s *Store) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, `
		DELETE FROM mailqueue_messages
		WHERE status IN ('sent', 'failed') AND created_at < ?`, before.UnixMicro())
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*mailqueue.Message, error) {
	var (
		msg        mailqueue.Message
		recipients string
		headers    string
		status     string
		next       sql.NullInt64
		created    int64
	)
	err := row.Scan(&msg.ID, &recipients, &msg.Subject, &msg.Body, &headers,
		&status, &msg.Attempts, &next, &msg.Error, &created)
	if err != nil {
		return nil, err
	}

	msg.Recipients = email.SplitRecipients(recipients)
	msg.Status = mailqueue.Status(status)
	msg.CreatedAt = time.UnixMicro(created).UTC()
	if next.Valid {
		msg.NextAttempt = time.UnixMicro(next.Int64).UTC()
	}
	if msg.Headers, err = email.DecodeHeaders([]byte(headers)); err != nil {
		return nil, err
	}
	return &msg, nil
}

// micros returns nil for the zero time so it is stored as NULL.
func micros(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMicro()
}

var _ mailqueue.Repository = (*Store)(nil)
