package market

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/pkg/notify"
	"github.com/rbeam/rbeam/pkg/profile"
)

// fakeStore is an in-memory Storage for service tests.
type fakeStore struct {
	items        map[string]Item
	transactions map[string]Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]Item{}, transactions: map[string]Transaction{}}
}

func (f *fakeStore) GetItem(_ context.Context, id string) (Item, error) {
	if i, ok := f.items[id]; ok {
		return i, nil
	}
	return Item{}, pgx.ErrNoRows
}

func (f *fakeStore) InsertItem(_ context.Context, i Item) error {
	f.items[i.ID] = i
	return nil
}

func (f *fakeStore) UpdateItemStatus(_ context.Context, id string, status ItemStatus) error {
	i := f.items[id]
	i.Status = status
	f.items[id] = i
	return nil
}

func (f *fakeStore) UpdateItem(_ context.Context, id string, p ItemEditParams) error {
	i := f.items[id]
	i.Name, i.Description, i.Cost = p.Name, p.Description, p.Cost
	f.items[id] = i
	return nil
}

func (f *fakeStore) UpdateItemContent(_ context.Context, id, content string) error {
	i := f.items[id]
	i.Content = content
	f.items[id] = i
	return nil
}

func (f *fakeStore) DeleteItem(_ context.Context, id string) error {
	delete(f.items, id)
	return nil
}

func (f *fakeStore) ListItemsByCreator(_ context.Context, creator string, _, _ int) ([]Item, error) {
	var items []Item
	for _, i := range f.items {
		if i.Creator == creator {
			items = append(items, i)
		}
	}
	return items, nil
}

func (f *fakeStore) ListItemsByCreatorType(_ context.Context, creator string, itemType ItemType, _, _ int) ([]Item, error) {
	var items []Item
	for _, i := range f.items {
		if i.Creator == creator && i.Type == itemType {
			items = append(items, i)
		}
	}
	return items, nil
}

func (f *fakeStore) SearchItemsByStatus(_ context.Context, status ItemStatus, search string, _, _ int) ([]Item, error) {
	var items []Item
	for _, i := range f.items {
		if i.Status == status && strings.Contains(i.Name, search) {
			items = append(items, i)
		}
	}
	return items, nil
}

func (f *fakeStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	if t, ok := f.transactions[id]; ok {
		return t, nil
	}
	return Transaction{}, pgx.ErrNoRows
}

func (f *fakeStore) GetTransactionByCustomerItem(_ context.Context, customer, item string) (Transaction, error) {
	for _, t := range f.transactions {
		if t.Customer == customer && t.Item == item {
			return t, nil
		}
	}
	return Transaction{}, pgx.ErrNoRows
}

func (f *fakeStore) InsertTransaction(_ context.Context, t Transaction) error {
	f.transactions[t.ID] = t
	return nil
}

func (f *fakeStore) ListParticipatingTransactions(_ context.Context, user string, _, _ int) ([]Transaction, error) {
	var items []Transaction
	for _, t := range f.transactions {
		if t.Customer == user || t.Merchant == user {
			items = append(items, t)
		}
	}
	return items, nil
}

// fakeProfiles tracks balances the way the identity service would.
type fakeProfiles struct {
	byID   map[string]*profile.Profile
	groups map[int32]profile.Group
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*profile.Profile, error) {
	if id == "0" || id == "system" {
		return profile.System(), nil
	}
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, apierror.New(apierror.NotFound)
}

func (f *fakeProfiles) GetGroupByID(_ context.Context, id int32) (profile.Group, error) {
	if g, ok := f.groups[id]; ok {
		return g, nil
	}
	return profile.DefaultGroup(), nil
}

func (f *fakeProfiles) AddCoins(_ context.Context, id string, delta int32) (int32, error) {
	if p, ok := f.byID[id]; ok {
		p.Coins += delta
		return p.Coins, nil
	}
	// virtual profiles have no stored balance
	return 0, nil
}

type fakeNotifier struct {
	created []notify.CreateParams
}

func (f *fakeNotifier) CreateNotification(_ context.Context, params notify.CreateParams) error {
	f.created = append(f.created, params)
	return nil
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	profiles *fakeProfiles
	notifier *fakeNotifier
	alice    *profile.Profile
	bob      *profile.Profile
	helper   *profile.Profile
}

func newFixture() *fixture {
	alice := &profile.Profile{ID: "id-alice-00000000000000000000000", Username: "alice", Coins: 100}
	bob := &profile.Profile{ID: "id-bob-0000000000000000000000000", Username: "bob", Coins: 100}
	helper := &profile.Profile{ID: "id-helper-0000000000000000000000", Username: "helper", Group: 1}

	store := newFakeStore()
	profiles := &fakeProfiles{
		byID: map[string]*profile.Profile{alice.ID: alice, bob.ID: bob, helper.ID: helper},
		groups: map[int32]profile.Group{
			1: {ID: 1, Name: "helpers", Permissions: []profile.GroupPermission{profile.PermHelper}},
		},
	}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var ts uint64
	svc := NewService(store, cache.NewMemory(), profiles, notifier, logger, func() uint64 { ts++; return ts })
	return &fixture{svc: svc, store: store, profiles: profiles, notifier: notifier,
		alice: alice, bob: bob, helper: helper}
}

func TestCreateItem(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	item, err := f.svc.CreateItem(ctx, ItemCreateParams{
		Name:    "midnight theme",
		Content: "body { background: black }",
		Cost:    25,
		Type:    TypeUserTheme,
	}, f.alice.ID)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if item.Status != StatusPending {
		t.Errorf("status = %v, want Pending", item.Status)
	}

	// creator ownership is recorded as a zero-amount receipt
	receipt, err := f.svc.GetTransactionByCustomerItem(ctx, f.alice.ID, item.ID)
	if err != nil {
		t.Fatalf("ownership receipt missing: %v", err)
	}
	if receipt.Amount != 0 || receipt.Merchant != f.alice.ID {
		t.Errorf("receipt = %+v", receipt)
	}

	// a zero-amount self-transaction moves no coins
	if f.alice.Coins != 100 {
		t.Errorf("coins = %d, want 100", f.alice.Coins)
	}

	got, err := f.svc.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Content != item.Content {
		t.Errorf("content round trip = %q", got.Content)
	}
}

func TestCreateItemBounds(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name   string
		params ItemCreateParams
		kind   apierror.Kind
	}{
		{"name too short", ItemCreateParams{Name: "x", Content: "okok", Type: TypeText}, apierror.ValueError},
		{"name too long", ItemCreateParams{Name: strings.Repeat("x", 129), Content: "okok", Type: TypeText}, apierror.TooLong},
		{"content too short", ItemCreateParams{Name: "okay", Content: "x", Type: TypeText}, apierror.ValueError},
		{"content too long", ItemCreateParams{Name: "okay", Content: strings.Repeat("x", 64*128*2+1), Type: TypeText}, apierror.TooLong},
		{"description too long", ItemCreateParams{Name: "okay", Content: "okok", Description: strings.Repeat("x", 64*128+1), Type: TypeText}, apierror.TooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateItem(ctx, tt.params, f.alice.ID)
			if apierror.KindOf(err) != tt.kind {
				t.Errorf("error = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestSystemItem(t *testing.T) {
	f := newFixture()

	item, err := f.svc.GetItem(context.Background(), "0")
	if err != nil {
		t.Fatalf("GetItem(0): %v", err)
	}
	if item.Cost != -1 || item.Creator != "0" || item.Status != StatusApproved {
		t.Errorf("system item = %+v", item)
	}
}

func TestItemStatusHelperOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	item, err := f.svc.CreateItem(ctx, ItemCreateParams{
		Name: "theme", Content: "okok", Type: TypeText,
	}, f.alice.ID)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := f.svc.UpdateItemStatus(ctx, item.ID, StatusApproved, f.bob); apierror.KindOf(err) != apierror.NotAllowed {
		t.Errorf("non-helper status change = %v, want NotAllowed", err)
	}

	if err := f.svc.UpdateItemStatus(ctx, item.ID, StatusApproved, f.helper); err != nil {
		t.Fatalf("helper status change: %v", err)
	}

	got, _ := f.svc.GetItem(ctx, item.ID)
	if got.Status != StatusApproved {
		t.Errorf("status = %v, want Approved", got.Status)
	}

	// the creator hears about the transition
	last := f.notifier.created[len(f.notifier.created)-1]
	if last.Recipient != f.alice.ID {
		t.Errorf("status notification recipient = %q", last.Recipient)
	}
}

func TestItemEditPermissions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	item, err := f.svc.CreateItem(ctx, ItemCreateParams{
		Name: "theme", Content: "okok", Type: TypeText,
	}, f.alice.ID)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	edit := ItemEditParams{Name: "theme v2", Cost: 10}
	if err := f.svc.UpdateItem(ctx, item.ID, edit, f.bob); apierror.KindOf(err) != apierror.NotAllowed {
		t.Errorf("stranger edit = %v, want NotAllowed", err)
	}
	if err := f.svc.UpdateItem(ctx, item.ID, edit, f.alice); err != nil {
		t.Fatalf("creator edit: %v", err)
	}
	if err := f.svc.UpdateItemContent(ctx, item.ID, "fresh content", f.helper); err != nil {
		t.Fatalf("helper content edit: %v", err)
	}
}

// TestTransactionOverdraft: an unaffordable
// purchase fails TooExpensive and moves no coins.
func TestTransactionOverdraft(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateTransaction(context.Background(), TransactionCreateParams{
		Merchant: f.bob.ID,
		Item:     "item-x",
		Amount:   -150,
	}, f.alice.ID)
	if apierror.KindOf(err) != apierror.TooExpensive {
		t.Fatalf("error = %v, want TooExpensive", err)
	}

	if f.alice.Coins != 100 || f.bob.Coins != 100 {
		t.Errorf("balances = %d/%d, want 100/100", f.alice.Coins, f.bob.Coins)
	}
	if len(f.store.transactions) != 0 {
		t.Errorf("transactions = %d, want none", len(f.store.transactions))
	}
}

func TestTransactionMovesBalances(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tr, err := f.svc.CreateTransaction(ctx, TransactionCreateParams{
		Merchant: f.bob.ID,
		Item:     "item-x",
		Amount:   -40,
	}, f.alice.ID)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if f.alice.Coins != 60 {
		t.Errorf("customer coins = %d, want 60", f.alice.Coins)
	}
	if f.bob.Coins != 140 {
		t.Errorf("merchant coins = %d, want 140", f.bob.Coins)
	}

	// the customer hears about the purchase
	if len(f.notifier.created) != 1 || f.notifier.created[0].Recipient != f.alice.ID {
		t.Errorf("notifications = %+v", f.notifier.created)
	}

	got, err := f.svc.GetTransaction(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Amount != -40 || got.Customer != f.alice.ID || got.Merchant != f.bob.ID {
		t.Errorf("transaction = %+v", got)
	}
}

func TestSystemMerchantSkipsNotification(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateTransaction(context.Background(), TransactionCreateParams{
		Merchant: "0",
		Item:     SystemItemID,
		Amount:   -25,
	}, f.alice.ID)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if f.alice.Coins != 75 {
		t.Errorf("coins = %d, want 75", f.alice.Coins)
	}
	if len(f.notifier.created) != 0 {
		t.Errorf("system charges must not notify: %+v", f.notifier.created)
	}
}

func TestParseItemEnums(t *testing.T) {
	if ParseItemType(`"UserTheme"`) != TypeUserTheme {
		t.Error("quoted legacy type should parse")
	}
	if ParseItemStatus("Featured") != StatusFeatured {
		t.Error("Featured should parse")
	}
	if ParseItemStatus("junk") != StatusPending {
		t.Error("unknown status defaults to Pending")
	}
}
