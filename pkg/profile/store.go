package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/db"
)

// Store provides database operations for profiles and groups. Columns
// are stringly: structured fields are JSON text, counters decimal text.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a profile Store backed by the given connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const profileColumns = `id, username, password, salt, tokens, ips, token_context, metadata, badges, gid, joined, tier, labels, coins`

// profileRow mirrors the stored shape of xprofiles.
type profileRow struct {
	ID           string
	Username     string
	Password     string
	Salt         string
	Tokens       string
	IPs          string
	TokenContext string
	Metadata     string
	Badges       string
	GID          string
	Joined       string
	Tier         string
	Labels       string
	Coins        string
}

func scanProfileRow(row pgx.Row) (*Profile, error) {
	var r profileRow
	err := row.Scan(
		&r.ID, &r.Username, &r.Password, &r.Salt, &r.Tokens, &r.IPs,
		&r.TokenContext, &r.Metadata, &r.Badges, &r.GID, &r.Joined,
		&r.Tier, &r.Labels, &r.Coins,
	)
	if err != nil {
		return nil, err
	}
	return r.toProfile()
}

func (r *profileRow) toProfile() (*Profile, error) {
	p := &Profile{
		ID:       r.ID,
		Username: r.Username,
		Password: r.Password,
		Salt:     r.Salt,
	}

	if err := json.Unmarshal([]byte(r.Tokens), &p.Tokens); err != nil {
		return nil, fmt.Errorf("parsing tokens: %w", err)
	}
	if err := json.Unmarshal([]byte(r.IPs), &p.IPs); err != nil {
		return nil, fmt.Errorf("parsing ips: %w", err)
	}
	if err := json.Unmarshal([]byte(r.TokenContext), &p.TokenContext); err != nil {
		return nil, fmt.Errorf("parsing token contexts: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &p.Metadata); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Badges), &p.Badges); err != nil {
		return nil, fmt.Errorf("parsing badges: %w", err)
	}

	gid, _ := strconv.ParseInt(r.GID, 10, 32)
	p.Group = int32(gid)
	p.Joined, _ = strconv.ParseUint(r.Joined, 10, 64)
	tier, _ := strconv.ParseInt(r.Tier, 10, 32)
	p.Tier = int32(tier)
	coins, _ := strconv.ParseInt(r.Coins, 10, 32)
	p.Coins = int32(coins)
	p.Labels = splitLabels(r.Labels)

	// Rows written before token contexts (or IPs) existed store shorter
	// arrays; synthesize defaults so the parallel invariant holds for
	// callers.
	for len(p.IPs) < len(p.Tokens) {
		p.IPs = append(p.IPs, "")
	}
	for len(p.TokenContext) < len(p.Tokens) {
		p.TokenContext = append(p.TokenContext, TokenContext{})
	}

	return p, nil
}

// splitLabels parses the comma-joined labels column, tolerating the
// trailing comma legacy rows carry.
func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

func joinLabels(labels []string) string {
	return strings.Join(labels, ",")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshaling value: %v", err))
	}
	return string(b)
}

// GetByID returns the profile row with the given id.
func (s *Store) GetByID(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM xprofiles WHERE id = $1`
	return scanProfileRow(s.dbtx.QueryRow(ctx, query, id))
}

// GetByUsername returns the profile row with the given username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM xprofiles WHERE username = $1`
	return scanProfileRow(s.dbtx.QueryRow(ctx, query, username))
}

// GetByTokenHash returns the profile owning the hashed session token.
// The substring match over the JSON tokens column is the authoritative
// auth path; token hashes are random hex and cannot collide on
// substring.
func (s *Store) GetByTokenHash(ctx context.Context, hash string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM xprofiles WHERE tokens LIKE $1`
	return scanProfileRow(s.dbtx.QueryRow(ctx, query, `%"`+hash+`"%`))
}

// GetByIP returns a profile that has logged in from the given IP.
func (s *Store) GetByIP(ctx context.Context, ip string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM xprofiles WHERE ips LIKE $1`
	return scanProfileRow(s.dbtx.QueryRow(ctx, query, `%"`+ip+`"%`))
}

// Insert persists a new profile.
func (s *Store) Insert(ctx context.Context, p *Profile) error {
	query := `INSERT INTO xprofiles (` + profileColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.dbtx.Exec(ctx, query,
		p.ID, p.Username, p.Password, p.Salt,
		mustJSON(p.Tokens), mustJSON(p.IPs), mustJSON(p.TokenContext),
		mustJSON(p.Metadata), mustJSON(p.Badges),
		strconv.FormatInt(int64(p.Group), 10),
		strconv.FormatUint(p.Joined, 10),
		strconv.FormatInt(int64(p.Tier), 10),
		joinLabels(p.Labels),
		strconv.FormatInt(int64(p.Coins), 10),
	)
	if err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

// UpdateTokens rewrites the three parallel session arrays in one
// statement so they can never diverge in the row.
func (s *Store) UpdateTokens(ctx context.Context, id string, tokens, ips []string, contexts []TokenContext) error {
	query := `UPDATE xprofiles SET tokens = $2, ips = $3, token_context = $4 WHERE id = $1`
	_, err := s.dbtx.Exec(ctx, query, id, mustJSON(tokens), mustJSON(ips), mustJSON(contexts))
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	return nil
}

// UpdateMetadata replaces the metadata JSON.
func (s *Store) UpdateMetadata(ctx context.Context, id string, m Metadata) error {
	query := `UPDATE xprofiles SET metadata = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, mustJSON(m)); err != nil {
		return fmt.Errorf("updating metadata: %w", err)
	}
	return nil
}

// UpdateBadges replaces the badges JSON.
func (s *Store) UpdateBadges(ctx context.Context, id string, badges []Badge) error {
	query := `UPDATE xprofiles SET badges = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, mustJSON(badges)); err != nil {
		return fmt.Errorf("updating badges: %w", err)
	}
	return nil
}

// UpdateLabels replaces the label assignment list.
func (s *Store) UpdateLabels(ctx context.Context, id string, labels []string) error {
	query := `UPDATE xprofiles SET labels = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, joinLabels(labels)); err != nil {
		return fmt.Errorf("updating labels: %w", err)
	}
	return nil
}

// UpdateTier sets the paid tier.
func (s *Store) UpdateTier(ctx context.Context, id string, tier int32) error {
	query := `UPDATE xprofiles SET tier = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, strconv.FormatInt(int64(tier), 10)); err != nil {
		return fmt.Errorf("updating tier: %w", err)
	}
	return nil
}

// UpdateGroup sets the permission group.
func (s *Store) UpdateGroup(ctx context.Context, id string, group int32) error {
	query := `UPDATE xprofiles SET gid = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, strconv.FormatInt(int64(group), 10)); err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	return nil
}

// SetCoins writes an absolute balance.
func (s *Store) SetCoins(ctx context.Context, id string, coins int32) error {
	query := `UPDATE xprofiles SET coins = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, strconv.FormatInt(int64(coins), 10)); err != nil {
		return fmt.Errorf("updating coins: %w", err)
	}
	return nil
}

// UpdatePassword writes a new hash and salt.
func (s *Store) UpdatePassword(ctx context.Context, id, hash, salt string) error {
	query := `UPDATE xprofiles SET password = $2, salt = $3 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, hash, salt); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

// UpdateUsername writes a new username.
func (s *Store) UpdateUsername(ctx context.Context, id, username string) error {
	query := `UPDATE xprofiles SET username = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, username); err != nil {
		return fmt.Errorf("updating username: %w", err)
	}
	return nil
}

// GetGroup returns the group row, or pgx.ErrNoRows.
func (s *Store) GetGroup(ctx context.Context, id int32) (Group, error) {
	query := `SELECT id, name, permissions FROM xgroups WHERE id = $1`
	var (
		g         Group
		idText    string
		permsText string
	)
	if err := s.dbtx.QueryRow(ctx, query, strconv.FormatInt(int64(id), 10)).
		Scan(&idText, &g.Name, &permsText); err != nil {
		return Group{}, err
	}
	gid, _ := strconv.ParseInt(idText, 10, 32)
	g.ID = int32(gid)
	if err := json.Unmarshal([]byte(permsText), &g.Permissions); err != nil {
		return Group{}, fmt.Errorf("parsing group permissions: %w", err)
	}
	return g, nil
}
