package relation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/db"
)

// Store provides database operations for follows and relationships.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a relation Store backed by the given connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// FollowExists reports whether user follows following.
func (s *Store) FollowExists(ctx context.Context, user, following string) (bool, error) {
	query := `SELECT 1 FROM xfollows WHERE "user" = $1 AND following = $2`
	var one int
	err := s.dbtx.QueryRow(ctx, query, user, following).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking follow: %w", err)
	}
	return true, nil
}

// InsertFollow adds the directed edge.
func (s *Store) InsertFollow(ctx context.Context, user, following string) error {
	query := `INSERT INTO xfollows ("user", following) VALUES ($1, $2)`
	if _, err := s.dbtx.Exec(ctx, query, user, following); err != nil {
		return fmt.Errorf("inserting follow: %w", err)
	}
	return nil
}

// DeleteFollow removes the directed edge.
func (s *Store) DeleteFollow(ctx context.Context, user, following string) error {
	query := `DELETE FROM xfollows WHERE "user" = $1 AND following = $2`
	if _, err := s.dbtx.Exec(ctx, query, user, following); err != nil {
		return fmt.Errorf("deleting follow: %w", err)
	}
	return nil
}

// CountFollowers counts edges pointing at user.
func (s *Store) CountFollowers(ctx context.Context, user string) (int64, error) {
	query := `SELECT COUNT(*) FROM xfollows WHERE following = $1`
	var n int64
	if err := s.dbtx.QueryRow(ctx, query, user).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting followers: %w", err)
	}
	return n, nil
}

// CountFollowing counts edges leaving user.
func (s *Store) CountFollowing(ctx context.Context, user string) (int64, error) {
	query := `SELECT COUNT(*) FROM xfollows WHERE "user" = $1`
	var n int64
	if err := s.dbtx.QueryRow(ctx, query, user).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting following: %w", err)
	}
	return n, nil
}

// ListFollowers returns ids following user; the query sets no order.
func (s *Store) ListFollowers(ctx context.Context, user string, limit, offset int) ([]string, error) {
	query := `SELECT "user" FROM xfollows WHERE following = $1 LIMIT $2 OFFSET $3`
	return s.listIDs(ctx, query, user, limit, offset)
}

// ListFollowing returns ids user follows.
func (s *Store) ListFollowing(ctx context.Context, user string, limit, offset int) ([]string, error) {
	query := `SELECT following FROM xfollows WHERE "user" = $1 LIMIT $2 OFFSET $3`
	return s.listIDs(ctx, query, user, limit, offset)
}

func (s *Store) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing follows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning follow row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating follow rows: %w", err)
	}
	return ids, nil
}

// GetRelationship returns the row for the unordered pair {a,b}, or
// pgx.ErrNoRows.
func (s *Store) GetRelationship(ctx context.Context, a, b string) (Relationship, error) {
	query := `SELECT one, two, status, timestamp FROM xrelationships
	WHERE (one = $1 AND two = $2) OR (one = $2 AND two = $1)`
	var (
		rel    Relationship
		status string
		ts     string
	)
	if err := s.dbtx.QueryRow(ctx, query, a, b).Scan(&rel.One, &rel.Two, &status, &ts); err != nil {
		return Relationship{}, err
	}
	rel.Status = ParseStatus(status)
	rel.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return rel, nil
}

// InsertRelationship adds a row for the ordered pair.
func (s *Store) InsertRelationship(ctx context.Context, rel Relationship) error {
	query := `INSERT INTO xrelationships (one, two, status, timestamp) VALUES ($1, $2, $3, $4)`
	_, err := s.dbtx.Exec(ctx, query, rel.One, rel.Two, string(rel.Status),
		strconv.FormatUint(rel.Timestamp, 10))
	if err != nil {
		return fmt.Errorf("inserting relationship: %w", err)
	}
	return nil
}

// UpdateRelationshipStatus rewrites the status of an existing row.
func (s *Store) UpdateRelationshipStatus(ctx context.Context, one, two string, status Status) error {
	query := `UPDATE xrelationships SET status = $3 WHERE one = $1 AND two = $2`
	if _, err := s.dbtx.Exec(ctx, query, one, two, string(status)); err != nil {
		return fmt.Errorf("updating relationship: %w", err)
	}
	return nil
}

// DeleteRelationship removes the row for the ordered pair.
func (s *Store) DeleteRelationship(ctx context.Context, one, two string) error {
	query := `DELETE FROM xrelationships WHERE one = $1 AND two = $2`
	if _, err := s.dbtx.Exec(ctx, query, one, two); err != nil {
		return fmt.Errorf("deleting relationship: %w", err)
	}
	return nil
}

// CountFriends counts Friends rows the user participates in.
func (s *Store) CountFriends(ctx context.Context, id string) (int64, error) {
	query := `SELECT COUNT(*) FROM xrelationships
	WHERE (one = $1 OR two = $1) AND status = $2`
	var n int64
	if err := s.dbtx.QueryRow(ctx, query, id, string(StatusFriends)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting friends: %w", err)
	}
	return n, nil
}

// ListByStatus returns relationships the user participates in with the
// given status.
func (s *Store) ListByStatus(ctx context.Context, id string, status Status, limit, offset int) ([]Relationship, error) {
	query := `SELECT one, two, status, timestamp FROM xrelationships
	WHERE (one = $1 OR two = $1) AND status = $2
	ORDER BY timestamp DESC LIMIT $3 OFFSET $4`
	rows, err := s.dbtx.Query(ctx, query, id, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var (
			rel      Relationship
			rawState string
			ts       string
		)
		if err := rows.Scan(&rel.One, &rel.Two, &rawState, &ts); err != nil {
			return nil, fmt.Errorf("scanning relationship row: %w", err)
		}
		rel.Status = ParseStatus(rawState)
		rel.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationship rows: %w", err)
	}
	return rels, nil
}
