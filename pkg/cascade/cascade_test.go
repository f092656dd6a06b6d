package cascade

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rbeam/rbeam/internal/cache"
)

// fakeDBTX records every executed statement.
type fakeDBTX struct {
	execs []string
	args  [][]any
}

func (f *fakeDBTX) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("cascade never queries")
}

func (f *fakeDBTX) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("cascade never queries")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeleteProfileSweepsEveryTable(t *testing.T) {
	dbtx := &fakeDBTX{}
	kv := cache.NewMemory()
	d := NewDeleter(dbtx, kv, "", testLogger())

	if err := d.DeleteProfile(context.Background(), "uid-1", "alice"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}

	wantTables := []string{
		"xprofiles", "xnotifications", "xwarnings", "xfollows",
		"xquestions", "xresponses", "xcircles", "xcircle_memberships",
		"xrelationships", "xipblocks", "xugc_transactions", "xugc_items",
	}
	joined := strings.Join(dbtx.execs, "\n")
	for _, table := range wantTables {
		if !strings.Contains(joined, table) {
			t.Errorf("no delete touched %s", table)
		}
	}

	// the profile row goes first
	if !strings.Contains(dbtx.execs[0], "xprofiles") {
		t.Errorf("first statement = %q, want the xprofiles delete", dbtx.execs[0])
	}
}

func TestDeleteProfileResponsesByQuestionAuthor(t *testing.T) {
	dbtx := &fakeDBTX{}
	d := NewDeleter(dbtx, cache.NewMemory(), "", testLogger())

	if err := d.DeleteProfile(context.Background(), "uid-1", "alice"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}

	// the responses-to-own-questions sweep matches the embedded JSON
	found := false
	for i, q := range dbtx.execs {
		if strings.Contains(q, "question LIKE") {
			found = true
			if dbtx.args[i][0] != `%"author":"uid-1"%` {
				t.Errorf("substring arg = %v", dbtx.args[i][0])
			}
		}
	}
	if !found {
		t.Error("missing responses-by-question-author sweep")
	}
}

func TestDeleteProfileEvictsEveryKey(t *testing.T) {
	dbtx := &fakeDBTX{}
	kv := cache.NewMemory()
	ctx := context.Background()

	keys := []string{
		cache.ProfileKey("uid-1"),
		cache.ProfileKey("alice"),
		cache.FollowersCountKey("uid-1"),
		cache.FollowingCountKey("uid-1"),
		cache.NotificationCountKey("uid-1"),
		cache.FriendsCountKey("uid-1"),
		cache.ResponseCountKey("uid-1"),
		cache.GlobalQuestionCountKey("uid-1"),
	}
	for _, k := range keys {
		kv.Set(ctx, k, "cached")
	}

	d := NewDeleter(dbtx, kv, "", testLogger())
	if err := d.DeleteProfile(ctx, "uid-1", "alice"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}

	for _, k := range keys {
		if _, ok := kv.Get(ctx, k); ok {
			t.Errorf("key %q survived the cascade", k)
		}
	}
}

func TestDeleteProfileRemovesMedia(t *testing.T) {
	mediaDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(mediaDir, "avatars"), 0o755); err != nil {
		t.Fatal(err)
	}
	avatar := filepath.Join(mediaDir, "avatars", "uid-1.avif")
	if err := os.WriteFile(avatar, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDeleter(&fakeDBTX{}, cache.NewMemory(), mediaDir, testLogger())
	if err := d.DeleteProfile(context.Background(), "uid-1", "alice"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}

	if _, err := os.Stat(avatar); !os.IsNotExist(err) {
		t.Error("avatar should be removed")
	}
}

func TestMissingMediaDirIsSkip(t *testing.T) {
	d := NewDeleter(&fakeDBTX{}, cache.NewMemory(), "/does/not/exist", testLogger())
	if err := d.DeleteProfile(context.Background(), "uid-1", "alice"); err != nil {
		t.Errorf("missing media dir should not fail the cascade: %v", err)
	}
}

// TestDeleteProfileIdempotent verifies a retried cascade is safe: all
// deletes run again without error.
func TestDeleteProfileIdempotent(t *testing.T) {
	d := NewDeleter(&fakeDBTX{}, cache.NewMemory(), "", testLogger())
	ctx := context.Background()

	if err := d.DeleteProfile(ctx, "uid-1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteProfile(ctx, "uid-1", "alice"); err != nil {
		t.Errorf("retried cascade failed: %v", err)
	}
}
