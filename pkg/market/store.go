package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/db"
)

// Store provides database operations for items and transactions.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a market Store backed by the given connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const itemColumns = `id, name, description, cost, content, type, status, timestamp, creator`

func scanItem(row pgx.Row) (Item, error) {
	var (
		i        Item
		cost     string
		itemType string
		status   string
		ts       string
	)
	if err := row.Scan(&i.ID, &i.Name, &i.Description, &cost, &i.Content,
		&itemType, &status, &ts, &i.Creator); err != nil {
		return Item{}, err
	}
	c, _ := strconv.ParseInt(cost, 10, 32)
	i.Cost = int32(c)
	i.Type = ParseItemType(itemType)
	i.Status = ParseItemStatus(status)
	i.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return i, nil
}

// GetItem returns one item row by id.
func (s *Store) GetItem(ctx context.Context, id string) (Item, error) {
	query := `SELECT ` + itemColumns + ` FROM xugc_items WHERE id = $1`
	return scanItem(s.dbtx.QueryRow(ctx, query, id))
}

// InsertItem persists an item.
func (s *Store) InsertItem(ctx context.Context, i Item) error {
	query := `INSERT INTO xugc_items (` + itemColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.dbtx.Exec(ctx, query,
		i.ID, i.Name, i.Description, strconv.FormatInt(int64(i.Cost), 10), i.Content,
		string(i.Type), string(i.Status), strconv.FormatUint(i.Timestamp, 10), i.Creator)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

// UpdateItemStatus rewrites the moderation status.
func (s *Store) UpdateItemStatus(ctx context.Context, id string, status ItemStatus) error {
	query := `UPDATE xugc_items SET status = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, string(status)); err != nil {
		return fmt.Errorf("updating item status: %w", err)
	}
	return nil
}

// UpdateItem rewrites the editable fields.
func (s *Store) UpdateItem(ctx context.Context, id string, p ItemEditParams) error {
	query := `UPDATE xugc_items SET name = $2, description = $3, cost = $4 WHERE id = $1`
	_, err := s.dbtx.Exec(ctx, query, id, p.Name, p.Description,
		strconv.FormatInt(int64(p.Cost), 10))
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// UpdateItemContent rewrites the content alone.
func (s *Store) UpdateItemContent(ctx context.Context, id, content string) error {
	query := `UPDATE xugc_items SET content = $2 WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id, content); err != nil {
		return fmt.Errorf("updating item content: %w", err)
	}
	return nil
}

// DeleteItem removes one item.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	query := `DELETE FROM xugc_items WHERE id = $1`
	if _, err := s.dbtx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// ListItemsByCreator returns a creator's items, newest first.
func (s *Store) ListItemsByCreator(ctx context.Context, creator string, limit, offset int) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM xugc_items
	WHERE creator = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`
	return s.listItems(ctx, query, creator, limit, offset)
}

// ListItemsByCreatorType filters by item type as well.
func (s *Store) ListItemsByCreatorType(ctx context.Context, creator string, itemType ItemType, limit, offset int) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM xugc_items
	WHERE creator = $1 AND type = $2 ORDER BY timestamp DESC LIMIT $3 OFFSET $4`
	return s.listItems(ctx, query, creator, string(itemType), limit, offset)
}

// SearchItemsByStatus returns items in a status matching a name
// substring, newest first.
func (s *Store) SearchItemsByStatus(ctx context.Context, status ItemStatus, search string, limit, offset int) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM xugc_items
	WHERE status = $1 AND name LIKE $2 ORDER BY timestamp DESC LIMIT $3 OFFSET $4`
	return s.listItems(ctx, query, string(status), "%"+search+"%", limit, offset)
}

func (s *Store) listItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			i        Item
			cost     string
			itemType string
			status   string
			ts       string
		)
		if err := rows.Scan(&i.ID, &i.Name, &i.Description, &cost, &i.Content,
			&itemType, &status, &ts, &i.Creator); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		c, _ := strconv.ParseInt(cost, 10, 32)
		i.Cost = int32(c)
		i.Type = ParseItemType(itemType)
		i.Status = ParseItemStatus(status)
		i.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item rows: %w", err)
	}
	return items, nil
}

const transactionColumns = `id, amount, item, timestamp, customer, merchant`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t      Transaction
		amount string
		ts     string
	)
	if err := row.Scan(&t.ID, &amount, &t.Item, &ts, &t.Customer, &t.Merchant); err != nil {
		return Transaction{}, err
	}
	a, _ := strconv.ParseInt(amount, 10, 32)
	t.Amount = int32(a)
	t.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
	return t, nil
}

// GetTransaction returns one transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM xugc_transactions WHERE id = $1`
	return scanTransaction(s.dbtx.QueryRow(ctx, query, id))
}

// GetTransactionByCustomerItem returns the customer's receipt for an
// item; used for ownership checks.
func (s *Store) GetTransactionByCustomerItem(ctx context.Context, customer, item string) (Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM xugc_transactions
	WHERE customer = $1 AND item = $2`
	return scanTransaction(s.dbtx.QueryRow(ctx, query, customer, item))
}

// InsertTransaction persists a transaction.
func (s *Store) InsertTransaction(ctx context.Context, t Transaction) error {
	query := `INSERT INTO xugc_transactions (` + transactionColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.dbtx.Exec(ctx, query,
		t.ID, strconv.FormatInt(int64(t.Amount), 10), t.Item,
		strconv.FormatUint(t.Timestamp, 10), t.Customer, t.Merchant)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// ListParticipatingTransactions returns transactions where the user is
// either party, newest first.
func (s *Store) ListParticipatingTransactions(ctx context.Context, user string, limit, offset int) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM xugc_transactions
	WHERE customer = $1 OR merchant = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3`
	rows, err := s.dbtx.Query(ctx, query, user, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var items []Transaction
	for rows.Next() {
		var (
			t      Transaction
			amount string
			ts     string
		)
		if err := rows.Scan(&t.ID, &amount, &t.Item, &ts, &t.Customer, &t.Merchant); err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		a, _ := strconv.ParseInt(amount, 10, 32)
		t.Amount = int32(a)
		t.Timestamp, _ = strconv.ParseUint(ts, 10, 64)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transaction rows: %w", err)
	}
	return items, nil
}
