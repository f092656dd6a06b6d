package label

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
	Get(ctx context.Context, id string) (Label, error)
	Insert(ctx context.Context, l Label) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Label, error)
}

// GroupDirectory resolves permission groups for moderation checks.
type GroupDirectory interface {
	GetGroupByID(ctx context.Context, id int32) (profile.Group, error)
}

// Service encapsulates label business logic.
type Service struct {
	store  Storage
	cache  cache.Cache
	groups GroupDirectory
	logger *slog.Logger
	now    func() uint64
}

// NewService creates a label Service.
func NewService(store Storage, c cache.Cache, groups GroupDirectory, logger *slog.Logger, now func() uint64) *Service {
	return &Service{store: store, cache: c, groups: groups, logger: logger, now: now}
}

func (s *Service) hasPermission(ctx context.Context, p *profile.Profile, perm profile.GroupPermission) bool {
	group, err := s.groups.GetGroupByID(ctx, p.Group)
	if err != nil {
		s.logger.Warn("group lookup failed", "gid", p.Group, "error", err)
		return false
	}
	return group.Has(perm)
}

// Get returns one label, cache-aside.
func (s *Service) Get(ctx context.Context, id string) (Label, error) {
	key := cache.LabelKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var l Label
		if err := json.Unmarshal([]byte(raw), &l); err == nil {
			return l, nil
		}
		s.cache.Remove(ctx, key)
	}

	l, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Label{}, apierror.New(apierror.NotFound)
		}
		return Label{}, apierror.Wrap(apierror.Other, err)
	}

	raw, _ := json.Marshal(l)
	s.cache.Set(ctx, key, string(raw))
	return l, nil
}

// List returns the whole pool.
func (s *Service) List(ctx context.Context) ([]Label, error) {
	labels, err := s.store.List(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return labels, nil
}

// Create adds a label to the pool; Helper-only, name 2..32.
func (s *Service) Create(ctx context.Context, params CreateParams, actor *profile.Profile) (Label, error) {
	if !s.hasPermission(ctx, actor, profile.PermHelper) {
		return Label{}, apierror.New(apierror.NotAllowed)
	}
	if len(params.Name) < 2 || len(params.Name) > 32 {
		return Label{}, apierror.New(apierror.ValueError)
	}

	l := Label{
		ID:        idgen.RandomID(),
		Name:      params.Name,
		Timestamp: s.now(),
		Creator:   actor.ID,
	}
	if err := s.store.Insert(ctx, l); err != nil {
		return Label{}, apierror.Wrap(apierror.Other, err)
	}
	return l, nil
}

// Delete removes a label from the pool; Helper-only.
func (s *Service) Delete(ctx context.Context, id string, actor *profile.Profile) error {
	if !s.hasPermission(ctx, actor, profile.PermHelper) {
		return apierror.New(apierror.NotAllowed)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	s.cache.Remove(ctx, cache.LabelKey(id))
	return nil
}
