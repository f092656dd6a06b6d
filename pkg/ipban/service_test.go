package ipban

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/pkg/profile"
)

// fakeStore is an in-memory Storage for service tests.
type fakeStore struct {
	bans   map[string]Ban
	blocks map[string]Block
}

func newFakeStore() *fakeStore {
	return &fakeStore{bans: map[string]Ban{}, blocks: map[string]Block{}}
}

func (f *fakeStore) GetBan(_ context.Context, id string) (Ban, error) {
	if b, ok := f.bans[id]; ok {
		return b, nil
	}
	return Ban{}, pgx.ErrNoRows
}

func (f *fakeStore) GetBanByIP(_ context.Context, ip string) (Ban, error) {
	for _, b := range f.bans {
		if b.IP == ip {
			return b, nil
		}
	}
	return Ban{}, pgx.ErrNoRows
}

func (f *fakeStore) ListBans(_ context.Context) ([]Ban, error) {
	var bans []Ban
	for _, b := range f.bans {
		bans = append(bans, b)
	}
	return bans, nil
}

func (f *fakeStore) InsertBan(_ context.Context, b Ban) error {
	f.bans[b.ID] = b
	return nil
}

func (f *fakeStore) DeleteBan(_ context.Context, id string) error {
	delete(f.bans, id)
	return nil
}

func (f *fakeStore) GetBlock(_ context.Context, id string) (Block, error) {
	if b, ok := f.blocks[id]; ok {
		return b, nil
	}
	return Block{}, pgx.ErrNoRows
}

func (f *fakeStore) GetBlockByIP(_ context.Context, ip, user string) (Block, error) {
	for _, b := range f.blocks {
		if b.IP == ip && b.User == user {
			return b, nil
		}
	}
	return Block{}, pgx.ErrNoRows
}

func (f *fakeStore) ListBlocksByUser(_ context.Context, user string) ([]Block, error) {
	var blocks []Block
	for _, b := range f.blocks {
		if b.User == user {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func (f *fakeStore) InsertBlock(_ context.Context, b Block) error {
	f.blocks[b.ID] = b
	return nil
}

func (f *fakeStore) DeleteBlock(_ context.Context, id string) error {
	delete(f.blocks, id)
	return nil
}

type fakeGroups struct{}

func (fakeGroups) GetGroupByID(_ context.Context, id int32) (profile.Group, error) {
	switch id {
	case 1:
		return profile.Group{ID: 1, Permissions: []profile.GroupPermission{profile.PermHelper}}, nil
	case 2:
		return profile.Group{ID: 2, Permissions: []profile.GroupPermission{profile.PermHelper, profile.PermManager}}, nil
	default:
		return profile.DefaultGroup(), nil
	}
}

type fakeAuditor struct {
	entries []string
}

func (f *fakeAuditor) Audit(_ context.Context, _, content string) error {
	f.entries = append(f.entries, content)
	return nil
}

type fixture struct {
	svc    *Service
	store  *fakeStore
	audit  *fakeAuditor
	user   *profile.Profile
	helper *profile.Profile
	boss   *profile.Profile
}

func newFixture() *fixture {
	store := newFakeStore()
	audit := &fakeAuditor{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var ts uint64
	svc := NewService(store, cache.NewMemory(), fakeGroups{}, audit, logger, func() uint64 { ts++; return ts })
	return &fixture{
		svc:    svc,
		store:  store,
		audit:  audit,
		user:   &profile.Profile{ID: "id-user-000000000000000000000000"},
		helper: &profile.Profile{ID: "id-helper-0000000000000000000000", Group: 1},
		boss:   &profile.Profile{ID: "id-boss-000000000000000000000000", Group: 2},
	}
}

func TestCreateBan(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	t.Run("non-helper refused", func(t *testing.T) {
		err := f.svc.CreateBan(ctx, BanCreateParams{IP: "1.1.1.1", Reason: "spam"}, f.user)
		if apierror.KindOf(err) != apierror.NotAllowed {
			t.Errorf("error = %v, want NotAllowed", err)
		}
	})

	t.Run("helper create audits and bans", func(t *testing.T) {
		if err := f.svc.CreateBan(ctx, BanCreateParams{IP: "1.1.1.1", Reason: "spam"}, f.helper); err != nil {
			t.Fatalf("CreateBan: %v", err)
		}
		if !f.svc.IsBanned(ctx, "1.1.1.1") {
			t.Error("IP should read as banned")
		}
		if len(f.audit.entries) != 1 {
			t.Errorf("audit entries = %v", f.audit.entries)
		}
	})

	t.Run("duplicate IP refused", func(t *testing.T) {
		err := f.svc.CreateBan(ctx, BanCreateParams{IP: "1.1.1.1", Reason: "again"}, f.helper)
		if apierror.KindOf(err) != apierror.MustBeUnique {
			t.Errorf("error = %v, want MustBeUnique", err)
		}
	})
}

func TestIsBannedEmptyIP(t *testing.T) {
	f := newFixture()
	if f.svc.IsBanned(context.Background(), "") {
		t.Error("empty IP (no real-ip header) must never be banned")
	}
}

func TestDeleteBanPermissions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.svc.CreateBan(ctx, BanCreateParams{IP: "2.2.2.2", Reason: "r"}, f.helper); err != nil {
		t.Fatal(err)
	}
	ban, err := f.svc.GetBanByIP(ctx, "2.2.2.2")
	if err != nil {
		t.Fatal(err)
	}

	otherHelper := &profile.Profile{ID: "id-helper2-000000000000000000000", Group: 1}
	if err := f.svc.DeleteBan(ctx, ban.ID, otherHelper); apierror.KindOf(err) != apierror.NotAllowed {
		t.Errorf("non-creator helper delete = %v, want NotAllowed", err)
	}

	// manager delete works and is audited
	audits := len(f.audit.entries)
	if err := f.svc.DeleteBan(ctx, ban.ID, f.boss); err != nil {
		t.Fatalf("manager delete: %v", err)
	}
	if len(f.audit.entries) != audits+1 {
		t.Error("manager delete should audit")
	}
	if f.svc.IsBanned(ctx, "2.2.2.2") {
		t.Error("ban should be gone")
	}
}

func TestBlocksPerUserUnique(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.svc.CreateBlock(ctx, BlockCreateParams{IP: "3.3.3.3"}, f.user); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	if err := f.svc.CreateBlock(ctx, BlockCreateParams{IP: "3.3.3.3"}, f.user); apierror.KindOf(err) != apierror.MustBeUnique {
		t.Errorf("duplicate block = %v, want MustBeUnique", err)
	}

	// another user may block the same IP
	if err := f.svc.CreateBlock(ctx, BlockCreateParams{IP: "3.3.3.3"}, f.helper); err != nil {
		t.Errorf("other user's block: %v", err)
	}
}

func TestDeleteBlockPermissions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.svc.CreateBlock(ctx, BlockCreateParams{IP: "4.4.4.4"}, f.user); err != nil {
		t.Fatal(err)
	}
	blocks, _ := f.svc.ListBlocks(ctx, f.user)
	id := blocks[0].ID

	if err := f.svc.DeleteBlock(ctx, id, f.helper); apierror.KindOf(err) != apierror.NotAllowed {
		t.Errorf("helper delete of other's block = %v, want NotAllowed", err)
	}
	if err := f.svc.DeleteBlock(ctx, id, f.boss); err != nil {
		t.Errorf("manager delete: %v", err)
	}
}
