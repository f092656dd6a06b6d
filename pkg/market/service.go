package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/internal/idgen"
	"github.com/rbeam/rbeam/internal/telemetry"
	"github.com/rbeam/rbeam/pkg/notify"
	"github.com/rbeam/rbeam/pkg/profile"
)

const (
	minItemNameLen    = 2
	maxItemNameLen    = 64 * 2
	minItemContentLen = 2
	maxItemContentLen = 64 * 128 * 2
	maxDescriptionLen = 64 * 128
)

// Storage is the store interface the service depends on; *Store
// implements it.
type Storage interface {
	GetItem(ctx context.Context, id string) (Item, error)
	InsertItem(ctx context.Context, i Item) error
	UpdateItemStatus(ctx context.Context, id string, status ItemStatus) error
	UpdateItem(ctx context.Context, id string, p ItemEditParams) error
	UpdateItemContent(ctx context.Context, id, content string) error
	DeleteItem(ctx context.Context, id string) error
	ListItemsByCreator(ctx context.Context, creator string, limit, offset int) ([]Item, error)
	ListItemsByCreatorType(ctx context.Context, creator string, itemType ItemType, limit, offset int) ([]Item, error)
	SearchItemsByStatus(ctx context.Context, status ItemStatus, search string, limit, offset int) ([]Item, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	GetTransactionByCustomerItem(ctx context.Context, customer, item string) (Transaction, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	ListParticipatingTransactions(ctx context.Context, user string, limit, offset int) ([]Transaction, error)
}

// ProfileDirectory resolves profiles and adjusts balances.
type ProfileDirectory interface {
	GetProfile(ctx context.Context, id string) (*profile.Profile, error)
	GetGroupByID(ctx context.Context, id int32) (profile.Group, error)
	AddCoins(ctx context.Context, id string, delta int32) (int32, error)
}

// Notifier creates purchase and moderation notifications.
type Notifier interface {
	CreateNotification(ctx context.Context, params notify.CreateParams) error
}

// Service encapsulates marketplace business logic.
type Service struct {
	store    Storage
	cache    cache.Cache
	profiles ProfileDirectory
	notify   Notifier
	logger   *slog.Logger
	now      func() uint64
}

// NewService creates a market Service.
func NewService(store Storage, c cache.Cache, profiles ProfileDirectory, notifier Notifier, logger *slog.Logger, now func() uint64) *Service {
	return &Service{store: store, cache: c, profiles: profiles, notify: notifier, logger: logger, now: now}
}

func (s *Service) hasPermission(ctx context.Context, p *profile.Profile, perm profile.GroupPermission) bool {
	group, err := s.profiles.GetGroupByID(ctx, p.Group)
	if err != nil {
		s.logger.Warn("group lookup failed", "gid", p.Group, "error", err)
		return false
	}
	return group.Has(perm)
}

// GetItem returns one item, cache-aside. The reserved id "0" is served
// synthetically for system charges.
func (s *Service) GetItem(ctx context.Context, id string) (Item, error) {
	if id == SystemItemID {
		return SystemItem(), nil
	}

	key := cache.ItemKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var i Item
		if err := json.Unmarshal([]byte(raw), &i); err == nil {
			return i, nil
		}
		s.cache.Remove(ctx, key)
	}

	i, err := s.store.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, apierror.New(apierror.NotFound)
		}
		return Item{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(i)
	s.cache.Set(ctx, key, string(raw))
	return i, nil
}

// CreateItem validates bounds and inserts a Pending item, then records
// the creator's ownership with a zero-amount transaction.
func (s *Service) CreateItem(ctx context.Context, params ItemCreateParams, creatorID string) (Item, error) {
	if len(params.Content) > maxItemContentLen {
		return Item{}, apierror.New(apierror.TooLong)
	}
	if len(params.Content) < minItemContentLen {
		return Item{}, apierror.New(apierror.ValueError)
	}
	if len(params.Name) > maxItemNameLen {
		return Item{}, apierror.New(apierror.TooLong)
	}
	if len(params.Name) < minItemNameLen {
		return Item{}, apierror.New(apierror.ValueError)
	}
	if len(params.Description) > maxDescriptionLen {
		return Item{}, apierror.New(apierror.TooLong)
	}

	item := Item{
		ID:          idgen.RandomID(),
		Name:        params.Name,
		Description: params.Description,
		Cost:        params.Cost,
		Content:     params.Content,
		Type:        params.Type,
		Status:      StatusPending,
		Timestamp:   s.now(),
		Creator:     creatorID,
	}

	if err := s.store.InsertItem(ctx, item); err != nil {
		return Item{}, apierror.Wrap(apierror.Other, err)
	}

	// the creator owns their own item from the start
	if _, err := s.CreateTransaction(ctx, TransactionCreateParams{
		Merchant: creatorID,
		Item:     item.ID,
		Amount:   0,
	}, creatorID); err != nil {
		return Item{}, err
	}

	return item, nil
}

// UpdateItemStatus is Helper-only; the creator is notified of the new
// status.
func (s *Service) UpdateItemStatus(ctx context.Context, id string, status ItemStatus, actor *profile.Profile) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}

	if !s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.UpdateItemStatus(ctx, id, status); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	if err := s.notify.CreateNotification(ctx, notify.CreateParams{
		Title:     "Item status updated!",
		Content:   fmt.Sprintf("An item you created has been updated to the status of %q", status),
		Address:   "/market/item/" + item.ID,
		Recipient: item.Creator,
	}); err != nil {
		return err
	}

	s.cache.Remove(ctx, cache.ItemKey(id))
	return nil
}

// UpdateItem edits name/description/cost; allowed for the creator or a
// Helper.
func (s *Service) UpdateItem(ctx context.Context, id string, params ItemEditParams, actor *profile.Profile) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != item.Creator && !s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if len(params.Name) > maxItemNameLen || len(params.Description) > maxDescriptionLen {
		return apierror.New(apierror.TooLong)
	}
	if len(params.Name) < minItemNameLen {
		return apierror.New(apierror.ValueError)
	}

	if err := s.store.UpdateItem(ctx, id, params); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.ItemKey(id))
	return nil
}

// UpdateItemContent edits the content alone, same permissions as
// UpdateItem.
func (s *Service) UpdateItemContent(ctx context.Context, id, content string, actor *profile.Profile) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != item.Creator && !s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if len(content) > maxItemContentLen {
		return apierror.New(apierror.TooLong)
	}
	if len(content) < minItemContentLen {
		return apierror.New(apierror.ValueError)
	}

	if err := s.store.UpdateItemContent(ctx, id, content); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.ItemKey(id))
	return nil
}

// DeleteItem removes an item; allowed for the creator or a Helper.
func (s *Service) DeleteItem(ctx context.Context, id string, actor *profile.Profile) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != item.Creator && !s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.DeleteItem(ctx, id); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.ItemKey(id))
	return nil
}

// ListItemsByCreator returns a creator's items.
func (s *Service) ListItemsByCreator(ctx context.Context, creator string, limit, offset int) ([]Item, error) {
	items, err := s.store.ListItemsByCreator(ctx, creator, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

// ListItemsByCreatorType filters a creator's items by type.
func (s *Service) ListItemsByCreatorType(ctx context.Context, creator string, itemType ItemType, limit, offset int) ([]Item, error) {
	items, err := s.store.ListItemsByCreatorType(ctx, creator, itemType, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

// SearchItems returns items in a status matching a name substring.
func (s *Service) SearchItems(ctx context.Context, status ItemStatus, search string, limit, offset int) ([]Item, error) {
	items, err := s.store.SearchItemsByStatus(ctx, status, search, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

// GetTransaction returns one transaction, cache-aside.
func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	key := cache.TransactionKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var t Transaction
		if err := json.Unmarshal([]byte(raw), &t); err == nil {
			return t, nil
		}
		s.cache.Remove(ctx, key)
	}

	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, apierror.New(apierror.NotFound)
		}
		return Transaction{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(t)
	s.cache.Set(ctx, key, string(raw))
	return t, nil
}

// GetTransactionByCustomerItem returns the customer's receipt for an
// item, for ownership checks.
func (s *Service) GetTransactionByCustomerItem(ctx context.Context, customer, item string) (Transaction, error) {
	t, err := s.store.GetTransactionByCustomerItem(ctx, customer, item)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, apierror.New(apierror.NotFound)
		}
		return Transaction{}, apierror.Wrap(apierror.Other, err)
	}
	return t, nil
}

// ListParticipatingTransactions returns transactions the user is
// either party of.
func (s *Service) ListParticipatingTransactions(ctx context.Context, user string, limit, offset int) ([]Transaction, error) {
	items, err := s.store.ListParticipatingTransactions(ctx, user, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

// CreateTransaction commits a coin movement. The balance invariant: a
// negative amount must leave the customer at or above zero, else
// TooExpensive. On commit the customer's balance moves by amount and
// the merchant's by |amount|; the balance adjustments run in the same
// task after the row insert succeeds, so balances never move without a
// stored transaction. The three writes are not one database transaction.
func (s *Service) CreateTransaction(ctx context.Context, params TransactionCreateParams, customerID string) (Transaction, error) {
	customer, err := s.profiles.GetProfile(ctx, customerID)
	if err != nil {
		return Transaction{}, err
	}
	merchant, err := s.profiles.GetProfile(ctx, params.Merchant)
	if err != nil {
		return Transaction{}, err
	}

	if params.Amount < 0 && customer.Coins+params.Amount < 0 {
		return Transaction{}, apierror.New(apierror.TooExpensive)
	}

	t := Transaction{
		ID:        idgen.RandomID(),
		Amount:    params.Amount,
		Item:      params.Item,
		Timestamp: s.now(),
		Customer:  customer.ID,
		Merchant:  merchant.ID,
	}

	if err := s.store.InsertTransaction(ctx, t); err != nil {
		return Transaction{}, apierror.Wrap(apierror.Other, err)
	}

	if _, err := s.profiles.AddCoins(ctx, customer.ID, t.Amount); err != nil {
		return Transaction{}, err
	}
	abs := t.Amount
	if abs < 0 {
		abs = -abs
	}
	if _, err := s.profiles.AddCoins(ctx, merchant.ID, abs); err != nil {
		return Transaction{}, err
	}

	if customer.ID != merchant.ID && merchant.ID != "0" {
		if err := s.notify.CreateNotification(ctx, notify.CreateParams{
			Title:     "Purchased data now available!",
			Content:   "Data from an item you purchased is now available.",
			Address:   "/market/item/" + t.Item + "#/preview",
			Recipient: customer.ID,
		}); err != nil {
			return Transaction{}, err
		}
	}

	telemetry.TransactionsTotal.Inc()
	return t, nil
}
