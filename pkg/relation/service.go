package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/pkg/notify"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Storage is the store interface the service depends on; *Store
// implements it.
type Storage interface {
	FollowExists(ctx context.Context, user, following string) (bool, error)
	InsertFollow(ctx context.Context, user, following string) error
	DeleteFollow(ctx context.Context, user, following string) error
	CountFollowers(ctx context.Context, user string) (int64, error)
	CountFollowing(ctx context.Context, user string) (int64, error)
	ListFollowers(ctx context.Context, user string, limit, offset int) ([]string, error)
	ListFollowing(ctx context.Context, user string, limit, offset int) ([]string, error)
	GetRelationship(ctx context.Context, a, b string) (Relationship, error)
	InsertRelationship(ctx context.Context, rel Relationship) error
	UpdateRelationshipStatus(ctx context.Context, one, two string, status Status) error
	DeleteRelationship(ctx context.Context, one, two string) error
	CountFriends(ctx context.Context, id string) (int64, error)
	ListByStatus(ctx context.Context, id string, status Status, limit, offset int) ([]Relationship, error)
}

// ProfileDirectory resolves profiles by any id form.
type ProfileDirectory interface {
	GetProfile(ctx context.Context, id string) (*profile.Profile, error)
}

// Notifier creates notifications for graph side effects.
type Notifier interface {
	CreateNotification(ctx context.Context, params notify.CreateParams) error
}

// Service encapsulates social-graph business logic.
type Service struct {
	store    Storage
	cache    cache.Cache
	profiles ProfileDirectory
	notify   Notifier
	logger   *slog.Logger
	now      func() uint64
}

// NewService creates a relation Service.
func NewService(store Storage, c cache.Cache, profiles ProfileDirectory, notifier Notifier, logger *slog.Logger, now func() uint64) *Service {
	return &Service{store: store, cache: c, profiles: profiles, notify: notifier, logger: logger, now: now}
}

// FollowersCount returns the cached follower count, priming the key by
// a table scan on miss.
func (s *Service) FollowersCount(ctx context.Context, id string) int64 {
	return s.count(ctx, cache.FollowersCountKey(id), func() (int64, error) {
		return s.store.CountFollowers(ctx, id)
	})
}

// FollowingCount returns the cached following count.
func (s *Service) FollowingCount(ctx context.Context, id string) int64 {
	return s.count(ctx, cache.FollowingCountKey(id), func() (int64, error) {
		return s.store.CountFollowing(ctx, id)
	})
}

// FriendsCount returns the cached friend count.
func (s *Service) FriendsCount(ctx context.Context, id string) int64 {
	return s.count(ctx, cache.FriendsCountKey(id), func() (int64, error) {
		return s.store.CountFriends(ctx, id)
	})
}

func (s *Service) count(ctx context.Context, key string, scan func() (int64, error)) int64 {
	if n, ok := s.cache.GetCount(ctx, key); ok {
		return n
	}
	n, err := scan()
	if err != nil {
		s.logger.Warn("counter scan failed", "key", key, "error", err)
		return 0
	}
	s.cache.SetCount(ctx, key, n)
	return n
}

// IsFollowing reports whether user follows other.
func (s *Service) IsFollowing(ctx context.Context, user, other string) (bool, error) {
	ok, err := s.store.FollowExists(ctx, user, other)
	if err != nil {
		return false, apierror.Wrap(apierror.Other, err)
	}
	return ok, nil
}

// ListFollowers returns follower ids, paginated.
func (s *Service) ListFollowers(ctx context.Context, id string, limit, offset int) ([]string, error) {
	ids, err := s.store.ListFollowers(ctx, id, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return ids, nil
}

// ListFollowing returns followed ids, paginated.
func (s *Service) ListFollowing(ctx context.Context, id string, limit, offset int) ([]string, error) {
	ids, err := s.store.ListFollowing(ctx, id, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return ids, nil
}

// ToggleFollow flips the follow edge from actor to the profile named
// by otherID. Creating the edge notifies the followed user; removing
// it only adjusts counters.
func (s *Service) ToggleFollow(ctx context.Context, actor *profile.Profile, otherID string) error {
	other, err := s.profiles.GetProfile(ctx, otherID)
	if err != nil {
		return err
	}

	if actor.ID == other.ID {
		return apierror.New(apierror.Other)
	}

	// blocked users cannot follow the people who blocked them
	rel, err := s.GetRelationship(ctx, actor.ID, other.ID)
	if err != nil {
		return err
	}
	if rel.Status == StatusBlocked {
		return apierror.New(apierror.NotAllowed)
	}

	exists, err := s.store.FollowExists(ctx, actor.ID, other.ID)
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	if exists {
		if err := s.store.DeleteFollow(ctx, actor.ID, other.ID); err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
		s.cache.Decr(ctx, cache.FollowingCountKey(actor.ID))
		s.cache.Decr(ctx, cache.FollowersCountKey(other.ID))
		return nil
	}

	if err := s.store.InsertFollow(ctx, actor.ID, other.ID); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.cache.Incr(ctx, cache.FollowingCountKey(actor.ID))
	s.cache.Incr(ctx, cache.FollowersCountKey(other.ID))

	if err := s.notify.CreateNotification(ctx, notify.CreateParams{
		Title:     fmt.Sprintf("[@%s](/+u/%s) followed you!", actor.Username, actor.ID),
		Address:   "/+u/" + actor.ID,
		Recipient: other.ID,
	}); err != nil {
		return err
	}
	return nil
}

// ForceRemoveFollow removes the follow edge without toggling; used
// when establishing a block. Removing a non-existent edge is a no-op.
func (s *Service) ForceRemoveFollow(ctx context.Context, user, following string) error {
	if user == following {
		return apierror.New(apierror.Other)
	}

	exists, err := s.store.FollowExists(ctx, user, following)
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	if !exists {
		return nil
	}

	if err := s.store.DeleteFollow(ctx, user, following); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.cache.Decr(ctx, cache.FollowingCountKey(user))
	s.cache.Decr(ctx, cache.FollowersCountKey(following))
	return nil
}

// GetRelationship returns the relationship of the unordered pair
// {a, b}; absence reads as (Unknown, a, b). The returned One/Two tell
// callers who blocked whom and who requested.
func (s *Service) GetRelationship(ctx context.Context, a, b string) (Relationship, error) {
	rel, err := s.store.GetRelationship(ctx, a, b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Relationship{One: a, Two: b, Status: StatusUnknown}, nil
		}
		return Relationship{}, apierror.Wrap(apierror.Other, err)
	}
	return rel, nil
}

// ListRelationships returns relationships the user participates in
// with the given status, paginated.
func (s *Service) ListRelationships(ctx context.Context, id string, status Status, limit, offset int) ([]Relationship, error) {
	rels, err := s.store.ListByStatus(ctx, id, status, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return rels, nil
}

// SetStatus drives the relationship machine for caller against other.
// Anyone blocked by the pair's One cannot mutate the relationship.
func (s *Service) SetStatus(ctx context.Context, caller, other string, status Status, disableNotifications bool) error {
	rel, err := s.GetRelationship(ctx, caller, other)
	if err != nil {
		return err
	}

	if rel.Status == StatusBlocked && caller != rel.One {
		return apierror.New(apierror.NotAllowed)
	}
	if rel.Status == status {
		return nil
	}

	uone, err := s.profiles.GetProfile(ctx, rel.One)
	if err != nil {
		return err
	}
	utwo, err := s.profiles.GetProfile(ctx, rel.Two)
	if err != nil {
		return err
	}

	switch status {
	case StatusBlocked:
		return s.block(ctx, caller, other, rel, uone, utwo)
	case StatusPending:
		return s.request(ctx, rel, uone, utwo, disableNotifications)
	case StatusFriends:
		return s.accept(ctx, rel, uone, utwo, disableNotifications)
	default:
		return s.remove(ctx, rel, uone, utwo)
	}
}

// block makes caller the blocker. If a row exists with the other user
// as One it is deleted first so the new row's ordering names the
// blocker; leaving Friends decrements the counters. Both follow edges
// are force-removed.
func (s *Service) block(ctx context.Context, caller, other string, rel Relationship, uone, utwo *profile.Profile) error {
	if rel.Status != StatusUnknown && uone.ID != caller {
		if err := s.store.DeleteRelationship(ctx, uone.ID, utwo.ID); err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
		if rel.Status == StatusFriends {
			s.cache.Decr(ctx, cache.FriendsCountKey(uone.ID))
			s.cache.Decr(ctx, cache.FriendsCountKey(utwo.ID))
		}
		rel.Status = StatusUnknown
		uone, utwo = utwo, uone // caller becomes One
	}

	if rel.Status != StatusUnknown {
		if rel.Status == StatusFriends {
			s.cache.Decr(ctx, cache.FriendsCountKey(uone.ID))
			s.cache.Decr(ctx, cache.FriendsCountKey(utwo.ID))
		}
		if err := s.store.UpdateRelationshipStatus(ctx, uone.ID, utwo.ID, StatusBlocked); err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
	} else {
		if err := s.store.InsertRelationship(ctx, Relationship{
			One:       caller,
			Two:       other,
			Status:    StatusBlocked,
			Timestamp: s.now(),
		}); err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
	}

	// blocking severs the follow graph in both directions
	if err := s.ForceRemoveFollow(ctx, caller, other); err != nil {
		return err
	}
	if err := s.ForceRemoveFollow(ctx, other, caller); err != nil {
		return err
	}
	return nil
}

// request moves an absent relationship to Pending. Recipients with
// limited friend requests only accept requests from users they follow.
func (s *Service) request(ctx context.Context, rel Relationship, uone, utwo *profile.Profile, disableNotifications bool) error {
	if utwo.Metadata.IsTrue("sparkler:limited_friend_requests") {
		following, err := s.store.FollowExists(ctx, utwo.ID, uone.ID)
		if err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
		if !following {
			return apierror.New(apierror.NotAllowed)
		}
	}

	if err := s.store.InsertRelationship(ctx, Relationship{
		One:       uone.ID,
		Two:       utwo.ID,
		Status:    StatusPending,
		Timestamp: s.now(),
	}); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	if !disableNotifications {
		if err := s.notify.CreateNotification(ctx, notify.CreateParams{
			Title:     fmt.Sprintf("[@%s](/+u/%s) has sent you a friend request!", uone.Username, uone.ID),
			Content:   fmt.Sprintf("%s wants to be your friend.", uone.Username),
			Address:   fmt.Sprintf("/@%s/relationship/friend_accept", uone.ID),
			Recipient: utwo.ID,
		}); err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
	}
	return nil
}

// accept moves Pending to Friends and bumps both counters.
func (s *Service) accept(ctx context.Context, rel Relationship, uone, utwo *profile.Profile, disableNotifications bool) error {
	if rel.Status != StatusPending {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.UpdateRelationshipStatus(ctx, uone.ID, utwo.ID, StatusFriends); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.cache.Incr(ctx, cache.FriendsCountKey(uone.ID))
	s.cache.Incr(ctx, cache.FriendsCountKey(utwo.ID))

	if !disableNotifications {
		if err := s.notify.CreateNotification(ctx, notify.CreateParams{
			Title:     "Your friend request has been accepted!",
			Content:   fmt.Sprintf("[@%s](/@%s) has accepted your friend request.", utwo.Username, utwo.Username),
			Recipient: uone.ID,
		}); err != nil {
			return apierror.Wrap(apierror.Other, err)
		}
	}
	return nil
}

// remove deletes the row; leaving Friends decrements counters.
func (s *Service) remove(ctx context.Context, rel Relationship, uone, utwo *profile.Profile) error {
	if err := s.store.DeleteRelationship(ctx, uone.ID, utwo.ID); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	if rel.Status == StatusFriends {
		s.cache.Decr(ctx, cache.FriendsCountKey(uone.ID))
		s.cache.Decr(ctx, cache.FriendsCountKey(utwo.ID))
	}
	return nil
}
