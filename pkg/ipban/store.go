package ipban

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/db"
)

// Store provides database operations for bans and blocks.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an ipban Store backed by the given connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const banColumns = `id, ip, reason, moderator, timestamp`

func scanBan(row pgx.Row) (Ban, error) {
	var (
		b  Ban
		ts string
	)
	if err := row.Scan(&b.ID, &b.IP, &b.Reason, &b.ModeratorID, &ts); err != nil {
		return Ban{}, err
	}
	b.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return b, nil
}

// GetBan returns one ban by id.
func (s *Store) GetBan(ctx context.Context, id string) (Ban, error) {
	query := `SELECT ` + banColumns + ` FROM xbans WHERE id = $1`
	return scanBan(s.dbtx.QueryRow(ctx, query, id))
}

// GetBanByIP returns the ban covering an IP.
func (s *Store) GetBanByIP(ctx context.Context, ip string) (Ban, error) {
	query := `SELECT ` + banColumns + ` FROM xbans WHERE ip = $1`
	return scanBan(s.dbtx.QueryRow(ctx, query, ip))
}

// ListBans returns every ban, newest first.
func (s *Store) ListBans(ctx context.Context) ([]Ban, error) {
	query := `SELECT ` + banColumns + ` FROM xbans ORDER BY timestamp DESC`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing bans: %w", err)
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		var (
			b  Ban
			ts string
		)
		if err := rows.Scan(&b.ID, &b.IP, &b.Reason, &b.ModeratorID, &ts); err != nil {
			return nil, fmt.Errorf("scanning ban row: %w", err)
		}
		b.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ban rows: %w", err)
	}
	return bans, nil
}

// InsertBan persists a ban.
func (s *Store) InsertBan(ctx context.Context, b Ban) error {
	query := `INSERT INTO xbans (` + banColumns + `) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.dbtx.Exec(ctx, query, b.ID, b.IP, b.Reason, b.ModeratorID,
		strconv.FormatUint(b.Timestamp, 10))
	if err != nil {
		return fmt.Errorf("inserting ban: %w", err)
	}
	return nil
}

// DeleteBan removes one ban.
func (s *Store) DeleteBan(ctx context.Context, id string) error {
	query := `DELETE FROM xbans WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting ban: %w", err)
	}
	return nil
}

const blockColumns = `id, ip, "user", context, timestamp`

func scanBlock(row pgx.Row) (Block, error) {
	var (
		b  Block
		ts string
	)
	if err := row.Scan(&b.ID, &b.IP, &b.User, &b.Context, &ts); err != nil {
		return Block{}, err
	}
	b.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return b, nil
}

// GetBlock returns one block by id.
func (s *Store) GetBlock(ctx context.Context, id string) (Block, error) {
	query := `SELECT ` + blockColumns + ` FROM xipblocks WHERE id = $1`
	return scanBlock(s.dbtx.QueryRow(ctx, query, id))
}

// GetBlockByIP returns the user's block for an IP; the (user, ip) pair
// is unique.
func (s *Store) GetBlockByIP(ctx context.Context, ip, user string) (Block, error) {
	query := `SELECT ` + blockColumns + ` FROM xipblocks WHERE ip = $1 AND "user" = $2`
	return scanBlock(s.dbtx.QueryRow(ctx, query, ip, user))
}

// ListBlocksByUser returns a user's blocks.
func (s *Store) ListBlocksByUser(ctx context.Context, user string) ([]Block, error) {
	query := `SELECT ` + blockColumns + ` FROM xipblocks WHERE "user" = $1 ORDER BY timestamp DESC`
	rows, err := s.dbtx.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("listing blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var (
			b  Block
			ts string
		)
		if err := rows.Scan(&b.ID, &b.IP, &b.User, &b.Context, &ts); err != nil {
			return nil, fmt.Errorf("scanning block row: %w", err)
		}
		b.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating block rows: %w", err)
	}
	return blocks, nil
}

// InsertBlock persists a block.
func (s *Store) InsertBlock(ctx context.Context, b Block) error {
	query := `INSERT INTO xipblocks (` + blockColumns + `) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.dbtx.Exec(ctx, query, b.ID, b.IP, b.User, b.Context,
		strconv.FormatUint(b.Timestamp, 10))
	if err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}
	return nil
}

// DeleteBlock removes one block.
func (s *Store) DeleteBlock(ctx context.Context, id string) error {
	query := `DELETE FROM xipblocks WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting block: %w", err)
	}
	return nil
}
