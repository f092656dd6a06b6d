package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/db"
)

// Store provides database operations for mail.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a mail Store backed by the given connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const mailColumns = `title, content, timestamp, id, state, author, recipient`

func scanMail(row pgx.Row) (Mail, error) {
	var (
		m          Mail
		ts         string
		state      string
		recipients string
	)
	if err := row.Scan(&m.Title, &m.Content, &ts, &m.ID, &state, &m.Author, &recipients); err != nil {
		return Mail{}, err
	}
	m.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	m.State = ParseState(state)
	m.Recipient = parseRecipients(recipients)
	return m, nil
}

// Get returns one mail by id.
func (s *Store) Get(ctx context.Context, id string) (Mail, error) {
	query := `SELECT ` + mailColumns + ` FROM xmail WHERE id = $1`
	return scanMail(s.dbtx.QueryRow(ctx, query, id))
}

// Insert persists a mail with its full recipient list.
func (s *Store) Insert(ctx context.Context, m Mail) error {
	recipients, err := json.Marshal(m.Recipient)
	if err != nil {
		return fmt.Errorf("marshaling recipients: %w", err)
	}

	query := `INSERT INTO xmail (` + mailColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.dbtx.Exec(ctx, query,
		m.Title, m.Content, strconv.FormatUint(m.Timestamp, 10), m.ID,
		string(m.State), m.Author, string(recipients))
	if err != nil {
		return fmt.Errorf("inserting mail: %w", err)
	}
	return nil
}

// UpdateState rewrites the read state.
func (s *Store) UpdateState(ctx context.Context, id string, state State) error {
	query := `UPDATE xmail SET state = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, string(state)); err != nil {
		return fmt.Errorf("updating mail state: %w", err)
	}
	return nil
}

// Delete removes one mail.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM xmail WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting mail: %w", err)
	}
	return nil
}

// ListByRecipient returns mail addressed to the id, newest first. The
// JSON substring match covers list rows; the equality arm covers
// legacy single-string rows.
func (s *Store) ListByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Mail, error) {
	query := `SELECT ` + mailColumns + ` FROM xmail
	WHERE recipient LIKE $1 OR recipient = $2
	ORDER BY timestamp DESC LIMIT $3 OFFSET $4`
	return s.list(ctx, query, `%"`+recipient+`"%`, recipient, limit, offset)
}

// ListByAuthor returns mail sent by the id, newest first.
func (s *Store) ListByAuthor(ctx context.Context, author string, limit, offset int) ([]Mail, error) {
	query := `SELECT ` + mailColumns + ` FROM xmail
	WHERE author = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`
	return s.list(ctx, query, author, limit, offset)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Mail, error) {
	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing mail: %w", err)
	}
	defer rows.Close()

	var items []Mail
	for rows.Next() {
		var (
			m          Mail
			ts         string
			state      string
			recipients string
		)
		if err := rows.Scan(&m.Title, &m.Content, &ts, &m.ID, &state, &m.Author, &recipients); err != nil {
			return nil, fmt.Errorf("scanning mail row: %w", err)
		}
		m.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		m.State = ParseState(state)
		m.Recipient = parseRecipients(recipients)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mail rows: %w", err)
	}
	return items, nil
}
