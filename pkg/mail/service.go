package mail

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
	"github.com/rbeam/rbeam/internal/markdown"
	"github.com/rbeam/rbeam/internal/telemetry"
	"github.com/rbeam/rbeam/pkg/notify"
	"github.com/rbeam/rbeam/pkg/profile"
	"github.com/rbeam/rbeam/pkg/relation"
	"github.com/rbeam/rbeam/pkg/remote"
)

const (
	minTitleLen   = 2
	maxTitleLen   = 64 * 4
	minContentLen = 2
	maxContentLen = 64 * 8
)

// Storage is the store interface the service depends on; *Store
// implements it.
type Storage interface {
	Get(ctx context.Context, id string) (Mail, error)
	Insert(ctx context.Context, m Mail) error
	UpdateState(ctx context.Context, id string, state State) error
	Delete(ctx context.Context, id string) error
	ListByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Mail, error)
	ListByAuthor(ctx context.Context, author string, limit, offset int) ([]Mail, error)
}

// ProfileDirectory resolves profiles by any id form.
type ProfileDirectory interface {
	GetProfile(ctx context.Context, id string) (*profile.Profile, error)
	GetGroupByID(ctx context.Context, id int32) (profile.Group, error)
}

// RelationshipChecker reads the relationship of a pair; blocked
// recipients are silently skipped.
type RelationshipChecker interface {
	GetRelationship(ctx context.Context, a, b string) (relation.Relationship, error)
}

// Notifier creates the per-recipient delivery notifications.
type Notifier interface {
	CreateNotification(ctx context.Context, params notify.CreateParams) error
}

// RemoteMailer delivers single-recipient copies to peer servers.
type RemoteMailer interface {
	VerifyMailSchema(ctx context.Context, server string) error
	SendMail(ctx context.Context, server, title, content, recipient string) error
}

// Service encapsulates mail business logic.
type Service struct {
	store     Storage
	cache     cache.Cache
	profiles  ProfileDirectory
	relations RelationshipChecker
	notify    Notifier
	remote    RemoteMailer
	citrusID  string
	logger    *slog.Logger
	now       func() uint64
}

// NewService creates a mail Service. remote may be nil when federation
// is disabled.
func NewService(store Storage, c cache.Cache, profiles ProfileDirectory, relations RelationshipChecker, notifier Notifier, remoteMailer RemoteMailer, citrusID string, logger *slog.Logger, now func() uint64) *Service {
	return &Service{
		store:     store,
		cache:     c,
		profiles:  profiles,
		relations: relations,
		notify:    notifier,
		remote:    remoteMailer,
		citrusID:  citrusID,
		logger:    logger,
		now:       now,
	}
}

// Create validates, filters the recipient list, delivers remote copies
// and stores one row holding the full list. Each local recipient gets
// a notification.
func (s *Service) Create(ctx context.Context, params CreateParams, authorID string) (Mail, error) {
	if len(params.Title) > maxTitleLen || len(params.Content) > maxContentLen {
		return Mail{}, apierror.New(apierror.TooLong)
	}
	if len(params.Title) < minTitleLen || len(params.Content) < minContentLen {
		return Mail{}, apierror.New(apierror.ValueError)
	}
	if markdown.RenderText(params.Content) == "" {
		return Mail{}, apierror.New(apierror.ValueError)
	}

	author, err := s.profiles.GetProfile(ctx, authorID)
	if err != nil {
		return Mail{}, err
	}

	// Filter: recipients with a disabled mailbox or a block against the
	// author are skipped silently, never erroring the whole send.
	var recipients []string
	for _, recipientID := range params.Recipient {
		if recipientID == "" {
			continue
		}

		recipient, err := s.profiles.GetProfile(ctx, recipientID)
		if err != nil {
			return Mail{}, err
		}
		if recipient.Metadata.IsTrue("sparkler:disable_mailbox") {
			continue
		}

		rel, err := s.relations.GetRelationship(ctx, recipient.ID, author.ID)
		if err != nil {
			return Mail{}, err
		}
		if rel.Status == relation.StatusBlocked {
			continue
		}

		// remote recipients keep their qualified id so the stored list
		// and the delivery loop both know the server
		if remote.CitrusID(recipientID).IsRemote(s.citrusID) {
			recipients = append(recipients, recipientID)
		} else {
			recipients = append(recipients, recipient.ID)
		}
	}

	if len(recipients) == 0 {
		return Mail{}, apierror.New(apierror.ValueError)
	}

	if err := s.deliverRemote(ctx, params, recipients); err != nil {
		return Mail{}, err
	}

	m := Mail{
		ID:        idgen.RandomID(),
		Title:     params.Title,
		Content:   params.Content,
		Timestamp: s.now(),
		State:     StateUnread,
		Author:    author.ID,
		Recipient: recipients,
	}

	if err := s.store.Insert(ctx, m); err != nil {
		return Mail{}, apierror.Wrap(apierror.Other, err)
	}
	telemetry.MailSentTotal.Inc()

	for _, recipientID := range recipients {
		if remote.CitrusID(recipientID).IsRemote(s.citrusID) {
			continue
		}
		if err := s.notify.CreateNotification(ctx, notify.CreateParams{
			Title:     fmt.Sprintf("[@%s](/+u/%s) sent you new mail!", author.Username, author.ID),
			Address:   "/inbox/mail/letter/" + m.ID,
			Recipient: recipientID,
		}); err != nil {
			return Mail{}, err
		}
	}

	return m, nil
}

// deliverRemote posts one single-recipient copy per federated
// recipient, contacting each unique server once for schema
// verification. There is no retry queue; a failed delivery fails the
// send.
func (s *Service) deliverRemote(ctx context.Context, params CreateParams, recipients []string) error {
	seenServers := map[string]struct{}{}

	for _, recipientID := range recipients {
		cid := remote.CitrusID(recipientID)
		if !cid.IsRemote(s.citrusID) {
			continue
		}
		if s.remote == nil {
			return apierror.New(apierror.Other)
		}

		server, _ := cid.Fields()
		if _, seen := seenServers[server]; !seen {
			seenServers[server] = struct{}{}
			if err := s.remote.VerifyMailSchema(ctx, server); err != nil {
				telemetry.MailRemoteDeliveriesTotal.WithLabelValues("schema_rejected").Inc()
				return apierror.New(apierror.Other)
			}
		}

		if err := s.remote.SendMail(ctx, server, params.Title, params.Content, recipientID); err != nil {
			telemetry.MailRemoteDeliveriesTotal.WithLabelValues("failed").Inc()
			return apierror.New(apierror.Other)
		}
		telemetry.MailRemoteDeliveriesTotal.WithLabelValues("ok").Inc()
	}
	return nil
}

// Get returns one mail, cache-aside.
func (s *Service) Get(ctx context.Context, id string) (Mail, error) {
	key := cache.MailKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var m Mail
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			return m, nil
		}
		s.cache.Remove(ctx, key)
	}

	m, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Mail{}, apierror.New(apierror.NotFound)
		}
		return Mail{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(m)
	s.cache.Set(ctx, key, string(raw))
	return m, nil
}

// ListInbox returns mail addressed to the user.
func (s *Service) ListInbox(ctx context.Context, userID string, limit, offset int) ([]Mail, error) {
	items, err := s.store.ListByRecipient(ctx, userID, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

// ListSent returns mail the user authored.
func (s *Service) ListSent(ctx context.Context, userID string, limit, offset int) ([]Mail, error) {
	items, err := s.store.ListByAuthor(ctx, userID, limit, offset)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return items, nil
}

func (s *Service) hasPermission(ctx context.Context, p *profile.Profile, perm profile.GroupPermission) bool {
	group, err := s.profiles.GetGroupByID(ctx, p.Group)
	if err != nil {
		s.logger.Warn("group lookup failed", "gid", p.Group, "error", err)
		return false
	}
	return group.Has(perm)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// UpdateState changes the read state. Allowed for the author, any
// recipient, or a Helper.
func (s *Service) UpdateState(ctx context.Context, id string, state State, actor *profile.Profile) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != m.Author && !contains(m.Recipient, actor.ID) &&
		!s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.UpdateState(ctx, id, state); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.MailKey(id))
	return nil
}

// Delete removes a mail. Allowed for a recipient, the author, or a
// Helper.
func (s *Service) Delete(ctx context.Context, id string, actor *profile.Profile) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if !contains(m.Recipient, actor.ID) && actor.ID != m.Author &&
		!s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.MailKey(id))
	return nil
}
