package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/internal/captcha"
	"github.com/rbeam/rbeam/internal/idgen"
	"github.com/rbeam/rbeam/internal/telemetry"
	"github.com/rbeam/rbeam/internal/totp"
)

// Storage is the store interface the service depends on; *Store
// implements it.
type Storage interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	GetByUsername(ctx context.Context, username string) (*Profile, error)
	GetByTokenHash(ctx context.Context, hash string) (*Profile, error)
	GetByIP(ctx context.Context, ip string) (*Profile, error)
	Insert(ctx context.Context, p *Profile) error
	UpdateTokens(ctx context.Context, id string, tokens, ips []string, contexts []TokenContext) error
	UpdateMetadata(ctx context.Context, id string, m Metadata) error
	UpdateBadges(ctx context.Context, id string, badges []Badge) error
	UpdateLabels(ctx context.Context, id string, labels []string) error
	UpdateTier(ctx context.Context, id string, tier int32) error
	UpdateGroup(ctx context.Context, id string, group int32) error
	SetCoins(ctx context.Context, id string, coins int32) error
	UpdatePassword(ctx context.Context, id, hash, salt string) error
	UpdateUsername(ctx context.Context, id, username string) error
	GetGroup(ctx context.Context, id int32) (Group, error)
}

// RemoteFetcher resolves profiles that live on peer servers.
type RemoteFetcher interface {
	FetchProfile(ctx context.Context, server, id string) (*Profile, error)
}

// IPBanChecker reports whether a source IP is banned. Registration and
// login short-circuit on a banned IP.
type IPBanChecker interface {
	IsBanned(ctx context.Context, ip string) bool
}

// Deleter cascades a profile deletion through every table and cache
// key. Implemented by the cascade package.
type Deleter interface {
	DeleteProfile(ctx context.Context, id, username string) error
}

// ServiceConfig carries the identity-relevant configuration.
type ServiceConfig struct {
	RegistrationEnabled bool
	CitrusID            string
}

// Service encapsulates identity business logic.
type Service struct {
	store   Storage
	cache   cache.Cache
	captcha captcha.Verifier
	remote  RemoteFetcher
	bans    IPBanChecker
	deleter Deleter
	cfg     ServiceConfig
	logger  *slog.Logger
}

// NewService creates an identity Service. The ban checker and deleter
// are attached after construction to break the dependency cycle with
// moderation and cascade.
func NewService(store Storage, c cache.Cache, verifier captcha.Verifier, remote RemoteFetcher, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		cache:   c,
		captcha: verifier,
		remote:  remote,
		cfg:     cfg,
		logger:  logger,
	}
}

// SetBanChecker attaches the IP ban lookup.
func (s *Service) SetBanChecker(bans IPBanChecker) { s.bans = bans }

// SetDeleter attaches the cascade deleter.
func (s *Service) SetDeleter(d Deleter) { s.deleter = d }

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// GetProfile fetches a profile by any id form: virtual ids, federated
// citrus ids, legacy circle-tagged ids and usernames (length <= 32).
func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	// the ANSWERED prefix marks answered questions in inboxes; it never
	// names a different profile
	id = strings.TrimPrefix(id, "ANSWERED:")

	switch {
	case id == "@":
		return Global(), nil
	case id == "0" || id == "system":
		return System(), nil
	}
	if anon, _ := AnonymousTag(id); anon || id == "#" {
		return Anonymous(id), nil
	}

	// federated ids resolve against the peer server
	if server, local, ok := strings.Cut(id, "@"); ok && server != "" && server != s.cfg.CitrusID {
		if s.remote == nil {
			return nil, apierror.New(apierror.Other)
		}
		return s.remote.FetchProfile(ctx, server, local)
	}

	// legacy circle tag
	if i := strings.Index(id, "%"); i >= 0 {
		id = id[:i]
	}

	// ids and short usernames share the 32-character length bound, so
	// the username lookup runs first with an id fallback
	if len(id) <= 32 {
		if p, err := s.GetProfileByUsername(ctx, id); err == nil {
			return p, nil
		}
		return s.GetProfileByID(ctx, id)
	}
	return s.GetProfileByID(ctx, id)
}

// GetProfileByUsername returns a profile by username, cache-aside.
func (s *Service) GetProfileByUsername(ctx context.Context, username string) (*Profile, error) {
	username = strings.ToLower(username)
	return s.cachedProfile(ctx, username, func(ctx context.Context) (*Profile, error) {
		return s.store.GetByUsername(ctx, username)
	})
}

// GetProfileByID returns a profile by id, cache-aside.
func (s *Service) GetProfileByID(ctx context.Context, id string) (*Profile, error) {
	id = strings.ToLower(id)
	return s.cachedProfile(ctx, id, func(ctx context.Context) (*Profile, error) {
		return s.store.GetByID(ctx, id)
	})
}

// cachedProfile implements the cache-aside read: on a corrupt cached
// value, evict and fall through to the store.
func (s *Service) cachedProfile(ctx context.Context, key string, load func(context.Context) (*Profile, error)) (*Profile, error) {
	cacheKey := cache.ProfileKey(key)
	if raw, ok := s.cache.Get(ctx, cacheKey); ok {
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return &p, nil
		}
		s.cache.Remove(ctx, cacheKey)
	}

	p, err := load(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierror.New(apierror.NotFound)
		}
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	s.cache.Set(ctx, cacheKey, mustJSON(p))
	return p, nil
}

// GetProfileByUnhashed returns the profile owning the unhashed session
// token.
func (s *Service) GetProfileByUnhashed(ctx context.Context, token string) (*Profile, error) {
	return s.GetProfileByHashed(ctx, idgen.HashToken(token))
}

// GetProfileByHashed returns the profile owning the hashed token.
func (s *Service) GetProfileByHashed(ctx context.Context, hash string) (*Profile, error) {
	p, err := s.store.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierror.New(apierror.NotFound)
		}
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return p, nil
}

// GetProfileByIP returns a profile that has logged in from the IP.
func (s *Service) GetProfileByIP(ctx context.Context, ip string) (*Profile, error) {
	p, err := s.store.GetByIP(ctx, ip)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierror.New(apierror.NotFound)
		}
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return p, nil
}

// CreateParams is the input for CreateProfile.
type CreateParams struct {
	Username      string
	Password      string
	PolicyConsent bool
	CaptchaToken  string
}

// CreateProfile registers a new account and returns the unhashed
// session token. Only the token's hash is persisted.
func (s *Service) CreateProfile(ctx context.Context, params CreateParams, ip string) (string, error) {
	if !s.cfg.RegistrationEnabled {
		return "", apierror.New(apierror.NotAllowed)
	}
	if !params.PolicyConsent {
		return "", apierror.New(apierror.NotAllowed)
	}
	if !s.captcha.Verify(ctx, params.CaptchaToken, ip) {
		return "", apierror.New(apierror.NotAllowed)
	}
	if s.bans != nil && s.bans.IsBanned(ctx, ip) {
		return "", apierror.New(apierror.NotAllowed)
	}

	username := strings.ToLower(strings.TrimSpace(params.Username))
	password := strings.TrimSpace(params.Password)

	if _, err := s.GetProfileByUsername(ctx, username); err == nil {
		return "", apierror.New(apierror.MustBeUnique)
	}
	if err := ValidateUsername(username); err != nil {
		return "", err
	}

	token := idgen.RandomID()
	salt := idgen.Salt()

	p := &Profile{
		ID:           idgen.RandomID(),
		Username:     username,
		Password:     idgen.HashPassword(password, salt),
		Salt:         salt,
		Tokens:       []string{idgen.HashToken(token)},
		IPs:          []string{ip},
		TokenContext: []TokenContext{{Timestamp: nowMillis()}},
		Metadata:     defaultMetadata(),
		Badges:       []Badge{},
		Joined:       nowMillis(),
		Coins:        100,
	}

	if err := s.store.Insert(ctx, p); err != nil {
		return "", apierror.Wrap(apierror.Other, err)
	}

	telemetry.RegistrationsTotal.Inc()
	return token, nil
}

// LoginParams is the input for Login.
type LoginParams struct {
	Username     string
	Password     string
	CaptchaToken string
	TOTP         string
}

// Login authenticates and issues a fresh session token by pushing one
// (hash, ip, context) triple onto the parallel arrays.
func (s *Service) Login(ctx context.Context, params LoginParams, ip string) (string, error) {
	if !s.captcha.Verify(ctx, params.CaptchaToken, ip) {
		telemetry.LoginsTotal.WithLabelValues("captcha_failed").Inc()
		return "", apierror.New(apierror.NotAllowed)
	}
	if s.bans != nil && s.bans.IsBanned(ctx, ip) {
		telemetry.LoginsTotal.WithLabelValues("ip_banned").Inc()
		return "", apierror.New(apierror.NotAllowed)
	}

	p, err := s.GetProfileByUsername(ctx, params.Username)
	if err != nil {
		telemetry.LoginsTotal.WithLabelValues("unknown_user").Inc()
		return "", err
	}

	if !idgen.VerifyPassword(params.Password, p.Salt, p.Password) {
		telemetry.LoginsTotal.WithLabelValues("bad_password").Inc()
		return "", apierror.New(apierror.NotAllowed)
	}

	if !totp.Check(p.Metadata.SoftGet("rbeam:totp_secret"), params.TOTP) {
		telemetry.LoginsTotal.WithLabelValues("bad_totp").Inc()
		return "", apierror.New(apierror.NotAllowed)
	}

	token := idgen.RandomID()
	tokens := append(p.Tokens, idgen.HashToken(token))
	ips := append(p.IPs, ip)
	contexts := append(p.TokenContext, TokenContext{Timestamp: nowMillis()})

	if err := s.store.UpdateTokens(ctx, p.ID, tokens, ips, contexts); err != nil {
		return "", apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)

	telemetry.LoginsTotal.WithLabelValues("ok").Inc()
	return token, nil
}

// GenerateToken issues a scoped token for an app. The requested
// permission set must be a subset of the calling token's set.
func (s *Service) GenerateToken(ctx context.Context, p *Profile, callerToken string, reqCtx TokenContext) (string, error) {
	callerCtx := p.TokenContextFromToken(callerToken)
	if !reqCtx.IsSubsetOf(callerCtx) {
		return "", apierror.New(apierror.OutOfScope)
	}

	reqCtx.Timestamp = nowMillis()

	token := idgen.RandomID()
	tokens := append(p.Tokens, idgen.HashToken(token))
	// generated tokens have no source IP on purpose: they belong to the
	// app, not to a login
	ips := append(p.IPs, "")
	contexts := append(p.TokenContext, reqCtx)

	if err := s.store.UpdateTokens(ctx, p.ID, tokens, ips, contexts); err != nil {
		return "", apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)

	return token, nil
}

// UpdateProfileTokens revokes sessions: keep is the desired remaining
// set of *hashed* tokens; everything else is removed from all three
// parallel arrays in place.
func (s *Service) UpdateProfileTokens(ctx context.Context, p *Profile, keep []string) error {
	keepSet := make(map[string]struct{}, len(keep))
	for _, t := range keep {
		keepSet[t] = struct{}{}
	}

	tokens := make([]string, 0, len(p.Tokens))
	ips := make([]string, 0, len(p.Tokens))
	contexts := make([]TokenContext, 0, len(p.Tokens))
	for i, t := range p.Tokens {
		if _, ok := keepSet[t]; !ok {
			continue
		}
		tokens = append(tokens, t)
		ips = append(ips, p.IPs[i])
		contexts = append(contexts, p.TokenContext[i])
	}

	if err := s.store.UpdateTokens(ctx, p.ID, tokens, ips, contexts); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// UpdateMetadata filters the kv allow-list and persists.
func (s *Service) UpdateMetadata(ctx context.Context, id string, m Metadata) error {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}

	filtered, err := FilterMetadata(m)
	if err != nil {
		return err
	}

	if err := s.store.UpdateMetadata(ctx, p.ID, filtered); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// UpdateBadges replaces profile badges.
func (s *Service) UpdateBadges(ctx context.Context, id string, badges []Badge) error {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateBadges(ctx, p.ID, badges); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// UpdateLabels replaces the labels assigned to the profile.
func (s *Service) UpdateLabels(ctx context.Context, id string, labels []string) error {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateLabels(ctx, p.ID, labels); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// UpdateTier sets the paid tier.
func (s *Service) UpdateTier(ctx context.Context, id string, tier int32) error {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateTier(ctx, p.ID, tier); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// UpdateGroup moves the profile to another permission group.
func (s *Service) UpdateGroup(ctx context.Context, id string, group int32) error {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateGroup(ctx, p.ID, group); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// AddCoins adjusts the balance by delta (may be negative) and returns
// the new balance.
func (s *Service) AddCoins(ctx context.Context, id string, delta int32) (int32, error) {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return 0, err
	}

	balance := p.Coins + delta
	if err := s.store.SetCoins(ctx, p.ID, balance); err != nil {
		return 0, apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return balance, nil
}

// UpdatePassword re-salts and rewrites the credential. When doCheck is
// set the current password must verify first.
func (s *Service) UpdatePassword(ctx context.Context, id, current, newPassword string, doCheck bool) error {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}

	if doCheck && !idgen.VerifyPassword(current, p.Salt, p.Password) {
		return apierror.New(apierror.NotAllowed)
	}

	salt := idgen.Salt()
	if err := s.store.UpdatePassword(ctx, p.ID, idgen.HashPassword(newPassword, salt), salt); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// UpdateUsername renames the account after a password check.
func (s *Service) UpdateUsername(ctx context.Context, id, password, newName string) error {
	newName = strings.ToLower(newName)

	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.GetProfileByUsername(ctx, newName); err == nil {
		return apierror.New(apierror.MustBeUnique)
	}
	if err := ValidateUsername(newName); err != nil {
		return err
	}
	if !idgen.VerifyPassword(password, p.Salt, p.Password) {
		return apierror.New(apierror.NotAllowed)
	}

	if err := s.store.UpdateUsername(ctx, p.ID, newName); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	s.evictProfile(ctx, p)
	return nil
}

// DeleteProfile removes an account. Self-service deletion requires the
// correct password; moderation deletes pass force. Profiles whose group
// holds Manager cannot be deleted.
func (s *Service) DeleteProfile(ctx context.Context, id, password string, force bool) error {
	p, err := s.GetProfileByID(ctx, id)
	if err != nil {
		return err
	}

	if !force && !idgen.VerifyPassword(password, p.Salt, p.Password) {
		return apierror.New(apierror.NotAllowed)
	}

	group, err := s.GetGroupByID(ctx, p.Group)
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	if group.Has(PermManager) {
		return apierror.New(apierror.NotAllowed)
	}

	if s.deleter == nil {
		return apierror.New(apierror.Other)
	}
	if err := s.deleter.DeleteProfile(ctx, p.ID, p.Username); err != nil {
		return err
	}

	telemetry.ProfilesDeletedTotal.Inc()
	return nil
}

// GetGroupByID returns the group, cached indefinitely. A missing row
// yields the zero-permission default rather than an error.
func (s *Service) GetGroupByID(ctx context.Context, id int32) (Group, error) {
	key := cache.GroupKey(id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var g Group
		if err := json.Unmarshal([]byte(raw), &g); err == nil {
			return g, nil
		}
		s.cache.Remove(ctx, key)
	}

	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultGroup(), nil
		}
		return Group{}, fmt.Errorf("loading group: %w", err)
	}

	s.cache.Set(ctx, key, mustJSON(g))
	return g, nil
}

// evictProfile removes both cache forms after any mutation.
func (s *Service) evictProfile(ctx context.Context, p *Profile) {
	s.cache.Remove(ctx, cache.ProfileKey(p.ID), cache.ProfileKey(p.Username))
}
