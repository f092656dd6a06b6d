package label

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/db"
)

// Store provides database operations for labels.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a label Store backed by the given connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const labelColumns = `id, name, timestamp, creator`

func scanLabel(row pgx.Row) (Label, error) {
	var (
		l  Label
		ts string
	)
	if err := row.Scan(&l.ID, &l.Name, &ts, &l.Creator); err != nil {
		return Label{}, err
	}
	l.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return l, nil
}

// Get returns one label by id.
func (s *Store) Get(ctx context.Context, id string) (Label, error) {
	query := `SELECT ` + labelColumns + ` FROM xlabels WHERE id = $1`
	return scanLabel(s.dbtx.QueryRow(ctx, query, id))
}

// Insert persists a label.
func (s *Store) Insert(ctx context.Context, l Label) error {
	query := `INSERT INTO xlabels (` + labelColumns + `) VALUES ($1, $2, $3, $4)`
	_, err := s.dbtx.Exec(ctx, query, l.ID, l.Name, strconv.FormatUint(l.Timestamp, 10), l.Creator)
	if err != nil {
		return fmt.Errorf("inserting label: %w", err)
	}
	return nil
}

// Delete removes one label from the pool.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM xlabels WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting label: %w", err)
	}
	return nil
}

// List returns the whole pool.
func (s *Store) List(ctx context.Context) ([]Label, error) {
	query := `SELECT ` + labelColumns + ` FROM xlabels ORDER BY name`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	defer rows.Close()

	var labels []Label
	for rows.Next() {
		var (
			l  Label
			ts string
		)
		if err := rows.Scan(&l.ID, &l.Name, &ts, &l.Creator); err != nil {
			return nil, fmt.Errorf("scanning label row: %w", err)
		}
		l.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating label rows: %w", err)
	}
	return labels, nil
}
