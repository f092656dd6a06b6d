package notify

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
	"github.com/rbeam/rbeam/pkg/profile"
)

// Storage is the store interface the service depends on; *Store
// implements it.
type Storage interface {
	GetNotification(ctx context.Context, id string) (Notification, error)
	InsertNotification(ctx context.Context, n Notification) error
	DeleteNotification(ctx context.Context, id string) error
	DeleteNotificationsByRecipient(ctx context.Context, recipient string) error
	ListNotificationsByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Notification, error)
	CountNotificationsByRecipient(ctx context.Context, recipient string) (int64, error)
	GetWarning(ctx context.Context, id string) (Warning, error)
	InsertWarning(ctx context.Context, w Warning) error
	DeleteWarning(ctx context.Context, id string) error
	ListWarningsByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Warning, error)
}

// GroupDirectory resolves permission groups for moderation checks.
type GroupDirectory interface {
	GetGroupByID(ctx context.Context, id int32) (profile.Group, error)
}

// Service encapsulates notification and warning business logic.
type Service struct {
	store  Storage
	cache  cache.Cache
	groups GroupDirectory
	logger *slog.Logger
	now    func() uint64
}

// NewService creates a notify Service.
func NewService(store Storage, c cache.Cache, groups GroupDirectory, logger *slog.Logger, now func() uint64) *Service {
	return &Service{store: store, cache: c, groups: groups, logger: logger, now: now}
}

// hasPermission reports whether the profile's group holds the
// permission.
func (s *Service) hasPermission(ctx context.Context, p *profile.Profile, perm profile.GroupPermission) bool {
	group, err := s.groups.GetGroupByID(ctx, p.Group)
	if err != nil {
		s.logger.Warn("group lookup failed", "gid", p.Group, "error", err)
		return false
	}
	return group.Has(perm)
}

// CreateNotification persists a notification and bumps the recipient's
// counter.
func (s *Service) CreateNotification(ctx context.Context, params CreateParams) error {
	n := Notification{
		ID:        idgen.RandomID(),
		Title:     params.Title,
		Content:   params.Content,
		Address:   params.Address,
		Timestamp: s.now(),
		Recipient: params.Recipient,
	}

	if err := s.store.InsertNotification(ctx, n); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Incr(ctx, cache.NotificationCountKey(n.Recipient))
	telemetry.NotificationsCreatedTotal.Inc()
	return nil
}

// Audit writes an audit entry for a privileged moderation action.
// The ipban service calls it for ban creation and for removing another
// user's ban or IP block; warning, label and item moderation write no
// audit entry.
func (s *Service) Audit(ctx context.Context, actorID, content string) error {
	err := s.CreateNotification(ctx, CreateParams{
		Title:     fmt.Sprintf("[%s](/+u/%s)", actorID, actorID),
		Content:   content,
		Address:   "/+u/" + actorID,
		Recipient: RecipientAudit,
	})
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	return nil
}

// GetNotification returns one notification, cache-aside.
func (s *Service) GetNotification(ctx context.Context, id string) (Notification, error) {
	key := cache.NotificationKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err == nil {
			return n, nil
		}
		s.cache.Remove(ctx, key)
	}

	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, apierror.New(apierror.NotFound)
		}
		return Notification{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(n)
	s.cache.Set(ctx, key, string(raw))
	return n, nil
}

// ListNotifications returns a recipient's notifications.
func (s *Service) ListNotifications(ctx context.Context, recipient string, limit, offset int) ([]Notification, error) {
	items, err := s.store.ListNotificationsByRecipient(ctx, recipient, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

// NotificationCount returns the cached per-recipient count, priming on
// miss.
func (s *Service) NotificationCount(ctx context.Context, recipient string) int64 {
	key := cache.NotificationCountKey(recipient)
	if n, ok := s.cache.GetCount(ctx, key); ok {
		return n
	}
	n, err := s.store.CountNotificationsByRecipient(ctx, recipient)
	if err != nil {
		s.logger.Warn("notification count scan failed", "recipient", recipient, "error", err)
		return 0
	}
	s.cache.SetCount(ctx, key, n)
	return n
}

// DeleteNotification removes a notification. Allowed for the recipient
// or a Helper.
func (s *Service) DeleteNotification(ctx context.Context, id string, actor *profile.Profile) error {
	n, err := s.GetNotification(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != n.Recipient && !s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.DeleteNotification(ctx, id); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Decr(ctx, cache.NotificationCountKey(n.Recipient))
	s.cache.Remove(ctx, cache.NotificationKey(id))
	return nil
}

// DeleteNotificationsByRecipient clears an inbox. Allowed for the
// recipient or a Helper.
func (s *Service) DeleteNotificationsByRecipient(ctx context.Context, recipient string, actor *profile.Profile) error {
	if actor.ID != recipient && !s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	notifications, err := s.store.ListNotificationsByRecipient(ctx, recipient, 10000, 0)
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	if err := s.store.DeleteNotificationsByRecipient(ctx, recipient); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.NotificationCountKey(recipient))
	for _, n := range notifications {
		s.cache.Remove(ctx, cache.NotificationKey(n.ID))
	}
	return nil
}

// CreateWarning is Helper-only; it always emits a parallel notification
// to the recipient.
func (s *Service) CreateWarning(ctx context.Context, params WarningCreateParams, moderator *profile.Profile) error {
	if !s.hasPermission(ctx, moderator, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	w := Warning{
		ID:          idgen.RandomID(),
		Content:     params.Content,
		Timestamp:   s.now(),
		Recipient:   params.Recipient,
		ModeratorID: moderator.ID,
	}

	if err := s.store.InsertWarning(ctx, w); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	return s.CreateNotification(ctx, CreateParams{
		Title:     "You have received an account warning!",
		Content:   w.Content,
		Recipient: w.Recipient,
	})
}

// GetWarning returns one warning, cache-aside.
func (s *Service) GetWarning(ctx context.Context, id string) (Warning, error) {
	key := cache.WarningKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var w Warning
		if err := json.Unmarshal([]byte(raw), &w); err == nil {
			return w, nil
		}
		s.cache.Remove(ctx, key)
	}

	w, err := s.store.GetWarning(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warning{}, apierror.New(apierror.NotFound)
		}
		return Warning{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(w)
	s.cache.Set(ctx, key, string(raw))
	return w, nil
}

// ListWarnings returns a recipient's warnings; Helper-only.
func (s *Service) ListWarnings(ctx context.Context, recipient string, actor *profile.Profile, limit, offset int) ([]Warning, error) {
	if !s.hasPermission(ctx, actor, profile.PermHelper) {
		return nil, apierror.New(apierror.NotAllowed)
	}

	items, err := s.store.ListWarningsByRecipient(ctx, recipient, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

// DeleteWarning removes a warning. Allowed for its moderator; others
// need Manager.
func (s *Service) DeleteWarning(ctx context.Context, id string, actor *profile.Profile) error {
	w, err := s.GetWarning(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != w.ModeratorID && !s.hasPermission(ctx, actor, profile.PermManager) {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.DeleteWarning(ctx, id); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.WarningKey(id))
	return nil
}
