package ipban

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/internal/idgen"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Storage is the store interface the service depends on; *Store
// implements it.
type Storage interface {
	GetBan(ctx context.Context, id string) (Ban, error)
	GetBanByIP(ctx context.Context, ip string) (Ban, error)
	ListBans(ctx context.Context) ([]Ban, error)
	InsertBan(ctx context.Context, b Ban) error
	DeleteBan(ctx context.Context, id string) error
	GetBlock(ctx context.Context, id string) (Block, error)
	GetBlockByIP(ctx context.Context, ip, user string) (Block, error)
	ListBlocksByUser(ctx context.Context, user string) ([]Block, error)
	InsertBlock(ctx context.Context, b Block) error
	DeleteBlock(ctx context.Context, id string) error
}

// GroupDirectory resolves permission groups for moderation checks.
type GroupDirectory interface {
	GetGroupByID(ctx context.Context, id int32) (profile.Group, error)
}

// Auditor records privileged moderation actions.
type Auditor interface {
	Audit(ctx context.Context, actorID, content string) error
}

// Service encapsulates ban and block business logic.
type Service struct {
	store  Storage
	cache  cache.Cache
	groups GroupDirectory
	audit  Auditor
	logger *slog.Logger
	now    func() uint64
}

// NewService creates an ipban Service.
func NewService(store Storage, c cache.Cache, groups GroupDirectory, audit Auditor, logger *slog.Logger, now func() uint64) *Service {
	return &Service{store: store, cache: c, groups: groups, audit: audit, logger: logger, now: now}
}

func (s *Service) hasPermission(ctx context.Context, p *profile.Profile, perm profile.GroupPermission) bool {
	group, err := s.groups.GetGroupByID(ctx, p.Group)
	if err != nil {
		s.logger.Warn("group lookup failed", "gid", p.Group, "error", err)
		return false
	}
	return group.Has(perm)
}

// IsBanned reports whether the source IP carries a global ban. Empty
// IPs (no real-IP header configured) are never banned.
func (s *Service) IsBanned(ctx context.Context, ip string) bool {
	if ip == "" {
		return false
	}
	_, err := s.GetBanByIP(ctx, ip)
	return err == nil
}

// GetBan returns one ban, cache-aside.
func (s *Service) GetBan(ctx context.Context, id string) (Ban, error) {
	key := cache.IpBanKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var b Ban
		if err := json.Unmarshal([]byte(raw), &b); err == nil {
			return b, nil
		}
		s.cache.Remove(ctx, key)
	}

	b, err := s.store.GetBan(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ban{}, apierror.New(apierror.NotFound)
		}
		return Ban{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(b)
	s.cache.Set(ctx, key, string(raw))
	return b, nil
}

// GetBanByIP returns the ban covering an IP, or NotFound.
func (s *Service) GetBanByIP(ctx context.Context, ip string) (Ban, error) {
	b, err := s.store.GetBanByIP(ctx, ip)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ban{}, apierror.New(apierror.NotFound)
		}
		return Ban{}, apierror.Wrap(apierror.Other, err)
	}
	return b, nil
}

// ListBans is Helper-only.
func (s *Service) ListBans(ctx context.Context, actor *profile.Profile) ([]Ban, error) {
	if !s.hasPermission(ctx, actor, profile.PermHelper) {
		return nil, apierror.New(apierror.NotAllowed)
	}
	bans, err := s.store.ListBans(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return bans, nil
}

// CreateBan is Helper-only, unique per IP, and audited.
func (s *Service) CreateBan(ctx context.Context, params BanCreateParams, moderator *profile.Profile) error {
	if !s.hasPermission(ctx, moderator, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}
	if err := s.audit.Audit(ctx, moderator.ID, "Banned an IP: "+params.IP); err != nil {
		return err
	}

	if _, err := s.GetBanByIP(ctx, params.IP); err == nil {
		return apierror.New(apierror.MustBeUnique)
	}

	ban := Ban{
		ID:          idgen.RandomID(),
		IP:          params.IP,
		Reason:      params.Reason,
		ModeratorID: moderator.ID,
		Timestamp:   s.now(),
	}
	if err := s.store.InsertBan(ctx, ban); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	return nil
}

// DeleteBan is allowed for the ban's creator; deleting another
// moderator's ban needs Manager and is audited.
func (s *Service) DeleteBan(ctx context.Context, id string, actor *profile.Profile) error {
	ban, err := s.GetBan(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != ban.ModeratorID {
		if !s.hasPermission(ctx, actor, profile.PermManager) {
			return apierror.New(apierror.NotAllowed)
		}
		if err := s.audit.Audit(ctx, actor.ID, "Unbanned an IP: "+ban.IP); err != nil {
			return err
		}
	}

	if err := s.store.DeleteBan(ctx, id); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.IpBanKey(id))
	return nil
}

// GetBlock returns one block, cache-aside.
func (s *Service) GetBlock(ctx context.Context, id string) (Block, error) {
	key := cache.IpBlockKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var b Block
		if err := json.Unmarshal([]byte(raw), &b); err == nil {
			return b, nil
		}
		s.cache.Remove(ctx, key)
	}

	b, err := s.store.GetBlock(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Block{}, apierror.New(apierror.NotFound)
		}
		return Block{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(b)
	s.cache.Set(ctx, key, string(raw))
	return b, nil
}

// ListBlocks returns the actor's own blocks.
func (s *Service) ListBlocks(ctx context.Context, actor *profile.Profile) ([]Block, error) {
	blocks, err := s.store.ListBlocksByUser(ctx, actor.ID)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return blocks, nil
}

// CreateBlock adds a personal IP block; the (user, ip) pair is unique.
func (s *Service) CreateBlock(ctx context.Context, params BlockCreateParams, actor *profile.Profile) error {
	if _, err := s.store.GetBlockByIP(ctx, params.IP, actor.ID); err == nil {
		return apierror.New(apierror.MustBeUnique)
	}

	block := Block{
		ID:        idgen.RandomID(),
		IP:        params.IP,
		User:      actor.ID,
		Context:   params.Context,
		Timestamp: s.now(),
	}
	if err := s.store.InsertBlock(ctx, block); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	return nil
}

// DeleteBlock is allowed for the block's owner; others need Manager
// and the deletion is audited.
func (s *Service) DeleteBlock(ctx context.Context, id string, actor *profile.Profile) error {
	block, err := s.GetBlock(ctx, id)
	if err != nil {
		return err
	}

	if actor.ID != block.User {
		if !s.hasPermission(ctx, actor, profile.PermManager) {
			return apierror.New(apierror.NotAllowed)
		}
		if err := s.audit.Audit(ctx, actor.ID, "Removed an IP block: "+block.IP); err != nil {
			return err
		}
	}

	if err := s.store.DeleteBlock(ctx, id); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.IpBlockKey(id))
	return nil
}
