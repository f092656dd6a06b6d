// Package cascade orchestrates profile deletion: every table a profile
// participates in is swept, every cache key it touches is evicted, and
// its media files are removed. The steps are not wrapped in one
// database transaction; every delete is idempotent so a partially
// applied cascade is safe to retry.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/internal/db"
)

// Deleter removes a profile and everything that references it.
type Deleter struct {
	dbtx     db.DBTX
	cache    cache.Cache
	mediaDir string
	logger   *slog.Logger
}

// NewDeleter creates a Deleter. An empty mediaDir skips file removal.
func NewDeleter(dbtx db.DBTX, c cache.Cache, mediaDir string, logger *slog.Logger) *Deleter {
	return &Deleter{dbtx: dbtx, cache: c, mediaDir: mediaDir, logger: logger}
}

// tableSweeps are the per-table delete statements, in order. The
// responses sweep by question author uses the JSON substring the
// question column embeds.
var tableSweeps = []struct {
	desc  string
	query string
	args  func(id string) []any
}{
	{"profile", `DELETE FROM xprofiles WHERE id = $1`, one},
	{"notifications", `DELETE FROM xnotifications WHERE recipient = $1`, one},
	{"warnings", `DELETE FROM xwarnings WHERE recipient = $1`, one},
	{"follows", `DELETE FROM xfollows WHERE "user" = $1 OR following = $1`, one},
	{"questions to user", `DELETE FROM xquestions WHERE recipient = $1`, one},
	{"questions by user", `DELETE FROM xquestions WHERE author = $1`, one},
	{"responses by user", `DELETE FROM xresponses WHERE author = $1`, one},
	{"responses to user's questions", `DELETE FROM xresponses WHERE question LIKE $1`, func(id string) []any {
		return []any{`%"author":"` + id + `"%`}
	}},
	{"circles owned", `DELETE FROM xcircles WHERE owner = $1`, one},
	{"circle memberships", `DELETE FROM xcircle_memberships WHERE "user" = $1`, one},
	{"relationships", `DELETE FROM xrelationships WHERE one = $1 OR two = $1`, one},
	{"ip blocks", `DELETE FROM xipblocks WHERE "user" = $1`, one},
	{"transactions", `DELETE FROM xugc_transactions WHERE customer = $1 OR merchant = $1`, one},
	{"items", `DELETE FROM xugc_items WHERE creator = $1`, one},
}

func one(id string) []any { return []any{id} }

// DeleteProfile runs the cascade. Callers have already authorized the
// deletion; this only executes it.
func (d *Deleter) DeleteProfile(ctx context.Context, id, username string) error {
	for _, sweep := range tableSweeps {
		if _, err := d.dbtx.Exec(ctx, sweep.query, sweep.args(id)...); err != nil {
			return apierror.Wrap(apierror.Other, fmt.Errorf("deleting %s: %w", sweep.desc, err))
		}
	}

	d.cache.Remove(ctx,
		cache.ProfileKey(id),
		cache.ProfileKey(username),
		cache.FollowersCountKey(id),
		cache.FollowingCountKey(id),
		cache.NotificationCountKey(id),
		cache.FriendsCountKey(id),
		cache.ResponseCountKey(id),
		cache.GlobalQuestionCountKey(id),
	)

	if err := d.removeMedia(id); err != nil {
		return err
	}

	d.logger.Info("profile deleted", "id", id)
	return nil
}

// removeMedia deletes the avatar and banner files when a media dir is
// configured. A missing directory or file is a skip, not an error.
func (d *Deleter) removeMedia(id string) error {
	if d.mediaDir == "" {
		return nil
	}
	if _, err := os.Stat(d.mediaDir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	for _, path := range []string{
		filepath.Join(d.mediaDir, "avatars", id+".avif"),
		filepath.Join(d.mediaDir, "banners", id+".avif"),
	} {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return apierror.Wrap(apierror.Other, err)
		}
		if err := os.Remove(path); err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
	}
	return nil
}
