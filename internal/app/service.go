package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"terravest/api/internal/auth"
	"terravest/api/internal/authpw"
	"terravest/api/internal/cache"
	"terravest/api/internal/config"
	"terravest/api/internal/metrics"
	"terravest/api/internal/search"
	"terravest/api/internal/session"
	"terravest/api/internal/store"
	"terravest/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	JTI          string
	ExpiresAt    time.Time
	DevBypass    bool
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	EnsureUserByEmail(context.Context, string, string, string) (store.User, error)
	GetProfile(context.Context, string) (store.Profile, error)
	CountCompanies(context.Context) (int, error)
	InsertCompany(context.Context, store.Company) error
	InsertCommunity(context.Context, store.Community) error
	SetMemberRole(context.Context, string, string, string) error
	ListCompanies(context.Context) ([]store.Company, error)
	SearchCompanies(context.Context, store.CompanySearch) ([]store.Company, error)
	GetCompany(context.Context, string) (store.Company, error)
	CompanyExists(context.Context, string) (bool, error)
	ListSavedCompanies(context.Context, string) ([]store.SavedCompanyWithCompany, error)
	SavedCompanyIDs(context.Context, string) ([]string, error)
	FindSavedCompany(context.Context, string, string) (*store.SavedCompany, error)
	InsertSavedCompany(context.Context, store.SavedCompany) (store.SavedCompany, error)
	DeleteSavedCompany(context.Context, string, string) (bool, error)
	ListCommunitiesWithCompanies(context.Context) ([]store.CommunityWithCompany, error)
	ListCommunities(context.Context) ([]store.Community, error)
	GetCommunity(context.Context, string) (store.Community, error)
	ListJoinedCommunities(context.Context, string) ([]store.Community, error)
	ListMembershipCommunityIDs(context.Context, string, []string) ([]string, error)
	ListAmbassadors(context.Context, []string) ([]store.CommunityMember, error)
	ListRecentMembers(context.Context, []string, int) ([]store.CommunityMember, error)
	GetMemberRole(context.Context, string, string) (string, error)
	JoinCommunity(context.Context, string, string) error
	LeaveCommunity(context.Context, string, string) (bool, error)
	ListRecentPostsWithAuthors(context.Context, []string, int) ([]store.CommunityPost, error)
	ListRecentPosts(context.Context, []string, int) ([]store.CommunityPost, error)
	CountPostsByAuthor(context.Context, string) (int, error)
	InsertPost(context.Context, store.CommunityPost) (store.CommunityPost, error)
	GetPost(context.Context, string, string) (store.CommunityPost, error)
	DeletePost(context.Context, string, string) error
	Ping(ctx context.Context) error
}

// sessionStore is satisfied by both session.RedisStore and store.PostgresStore.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type passwordAuth interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, string, string) (store.User, error)
}

type companySearcher interface {
	Search(context.Context, search.Query) ([]store.Company, error)
}

type logoSigner interface {
	LogoURL(context.Context, string) (string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	cache     cache.Cache
	search    companySearcher
	logos     logoSigner
	passwords passwordAuth
	logger    zerolog.Logger
	devUser   *store.User
}

type Option func(*Service)

func WithSessionStore(sessions sessionStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithSearch(searcher companySearcher) Option {
	return func(s *Service) { s.search = searcher }
}

func WithLogoSigner(signer logoSigner) Option {
	return func(s *Service) { s.logos = signer }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New wires the service on top of the Postgres store. Without options,
// sessions live in Postgres and caches in process memory.
func New(cfg config.Config, dataStore *store.PostgresStore, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		cache:     cache.NewMemory(),
		passwords: authpw.NewService(dataStore),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap seeds demo companies on an empty database and provisions the
// development bypass user when enabled.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountCompanies(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		if err := s.seedCatalog(ctx); err != nil {
			return err
		}
		s.logger.Info().Int("companies", len(seedCompanies)).Msg("seeded demo catalog")
	}

	if !s.cfg.DevBypassActive() {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(s.cfg.DevBypassEmail))
	user, err := s.store.EnsureUserByEmail(ctx, util.NewID(""), email, "Dev User")
	if err != nil {
		return err
	}
	s.devUser = &user
	s.logger.Warn().Str("email", email).Msg("development auth bypass active")
	return nil
}

var seedCompanies = []store.Company{
	{ID: "solaris-grid", Name: "Solaris Grid", Description: "Community-owned solar microgrids.", Mission: "Bring clean power to every rooftop.", Sector: "Renewable Energy", Country: "DE", Score: 92, FinancialMetrics: map[string]float64{"revenue_growth": 18.4, "margin": 12.1}, SustainabilityMetrics: map[string]float64{"co2_avoided_kt": 340, "renewable_share": 100}},
	{ID: "aqua-loop", Name: "AquaLoop", Description: "Closed-loop water recycling for factories.", Mission: "Zero industrial water waste.", Sector: "Water", Country: "NL", Score: 84, FinancialMetrics: map[string]float64{"revenue_growth": 9.7, "margin": 15.3}, SustainabilityMetrics: map[string]float64{"water_saved_ml": 1200}},
	{ID: "terra-harvest", Name: "Terra Harvest", Description: "Regenerative agriculture platform.", Mission: "Restore soil while feeding cities.", Sector: "Agriculture", Country: "US", Score: 77, FinancialMetrics: map[string]float64{"revenue_growth": 22.0, "margin": 6.5}, SustainabilityMetrics: map[string]float64{"soil_carbon_t": 54000}},
	{ID: "volt-cycle", Name: "VoltCycle", Description: "Battery recovery and second-life storage.", Mission: "Close the loop on lithium.", Sector: "Circular Economy", Country: "SE", Score: 88, FinancialMetrics: map[string]float64{"revenue_growth": 31.2, "margin": 4.8}, SustainabilityMetrics: map[string]float64{"batteries_recovered_t": 820}},
}

func (s *Service) seedCatalog(ctx context.Context) error {
	for _, company := range seedCompanies {
		if err := s.store.InsertCompany(ctx, company); err != nil {
			return err
		}
	}
	communities := []store.Community{
		{ID: "solar-circle", Name: "Solar Circle", Description: "Investors backing distributed solar.", CompanyID: "solaris-grid"},
		{ID: "water-works", Name: "Water Works", Description: "Clean water innovation discussion.", CompanyID: "aqua-loop"},
		{ID: "soil-first", Name: "Soil First", Description: "Regenerative farming investors.", CompanyID: "terra-harvest"},
	}
	for _, community := range communities {
		if err := s.store.InsertCommunity(ctx, community); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, authpw.ErrEmailTaken) {
		return store.User{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	}
	var verr *authpw.ValidationError
	if errors.As(err, &verr) {
		return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", verr.Message, map[string]any{"field": verr.Field})
	}
	return store.User{}, err
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, errUnauthorized()
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return Session{}, errUnauthorized()
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ResolveSession authenticates a bearer token. Without a token, the
// development bypass user is returned when configured.
func (s *Service) ResolveSession(ctx context.Context, token string) (Session, error) {
	if token == "" {
		if s.devUser != nil && s.cfg.DevBypassActive() {
			return Session{UserID: s.devUser.ID, Email: s.devUser.Email, DevBypass: true}, nil
		}
		return Session{}, errUnauthorized()
	}
	sess, err := s.SessionFromToken(ctx, token)
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return Session{}, errUnauthorized()
	}
	return sess, err
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			s.logger.Warn().Err(err).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn().Err(err).Msg("revoke refresh session")
		}
	}
	return nil
}

// Profile returns the user's profile, served from cache when possible.
func (s *Service) Profile(ctx context.Context, userID string) (ProfileView, error) {
	var view ProfileView
	if s.cacheLookup(ctx, "profile", cache.ProfileKey(userID), &view) {
		return view, nil
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileView{}, errNotFound("Profile not found")
	}
	if err != nil {
		return ProfileView{}, err
	}
	view = profileView(profile)
	s.cacheStore(ctx, cache.ProfileKey(userID), view, s.cfg.ProfileCacheTTL)
	return view, nil
}

func (s *Service) DashboardProfile(ctx context.Context, userID string) (DashboardProfile, error) {
	var result DashboardProfile
	if s.cacheLookup(ctx, "dashboard_profile", cache.DashboardProfileKey(userID), &result) {
		return result, nil
	}

	var (
		profile ProfileView
		saved   []string
		joined  []store.Community
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = s.Profile(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		saved, err = s.store.SavedCompanyIDs(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		joined, err = s.store.ListJoinedCommunities(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardProfile{}, err
	}

	result = DashboardProfile{
		Profile:           profile,
		SavedCompanyIDs:   saved,
		WatchlistCount:    len(saved),
		CommunitiesJoined: len(joined),
	}
	s.cacheStore(ctx, cache.DashboardProfileKey(userID), result, s.cfg.DashboardCacheTTL)
	return result, nil
}

// ListCompanies returns the catalogue with each entry's saved flag. Any
// filter routes the request through search.
func (s *Service) ListCompanies(ctx context.Context, userID string, q search.Query) ([]CompanyView, error) {
	var (
		companies []store.Company
		err       error
	)
	filtered := strings.TrimSpace(q.Text) != "" || strings.TrimSpace(q.Sector) != "" || q.MinScore > 0
	switch {
	case filtered && s.search != nil:
		companies, err = s.search.Search(ctx, q)
	case filtered:
		companies, err = s.store.SearchCompanies(ctx, q.StoreSearch())
	default:
		companies, err = s.store.ListCompanies(ctx)
	}
	if err != nil {
		return nil, errBackend("COMPANIES_FAILED", "Failed to load companies", err)
	}

	savedIDs, err := s.store.SavedCompanyIDs(ctx, userID)
	if err != nil {
		return nil, errBackend("COMPANIES_FAILED", "Failed to load saved companies", err)
	}
	saved := make(map[string]struct{}, len(savedIDs))
	for _, id := range savedIDs {
		saved[id] = struct{}{}
	}

	views := make([]CompanyView, 0, len(companies))
	for _, company := range companies {
		_, isSaved := saved[company.ID]
		views = append(views, s.companyView(ctx, company, isSaved))
	}
	return views, nil
}

func (s *Service) GetCompany(ctx context.Context, userID, companyID string) (CompanyView, error) {
	company, err := s.store.GetCompany(ctx, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return CompanyView{}, errNotFound("Company does not exist")
	}
	if err != nil {
		return CompanyView{}, err
	}
	saved, err := s.store.FindSavedCompany(ctx, userID, companyID)
	if err != nil {
		return CompanyView{}, err
	}
	return s.companyView(ctx, company, saved != nil), nil
}

func (s *Service) companyView(ctx context.Context, c store.Company, saved bool) CompanyView {
	view := CompanyView{
		ID:                    c.ID,
		Name:                  c.Name,
		Description:           c.Description,
		Mission:               c.Mission,
		Sector:                c.Sector,
		Country:               c.Country,
		Score:                 c.Score,
		FinancialMetrics:      c.FinancialMetrics,
		SustainabilityMetrics: c.SustainabilityMetrics,
		CreatedAt:             c.CreatedAt,
		Saved:                 saved,
	}
	if view.FinancialMetrics == nil {
		view.FinancialMetrics = map[string]float64{}
	}
	if view.SustainabilityMetrics == nil {
		view.SustainabilityMetrics = map[string]float64{}
	}
	if s.logos != nil && c.LogoKey != "" {
		url, err := s.logos.LogoURL(ctx, c.LogoKey)
		if err != nil {
			s.logger.Debug().Err(err).Str("company_id", c.ID).Msg("sign logo url")
		}
		view.LogoURL = url
	}
	return view
}

// placeholderCompany stands in for a community's company when it cannot be
// loaded.
func placeholderCompany(companyID string) store.Company {
	return store.Company{
		ID:                    companyID,
		Name:                  "Unknown Company",
		Score:                 0,
		Sector:                "Unknown",
		FinancialMetrics:      map[string]float64{},
		SustainabilityMetrics: map[string]float64{},
	}
}

func (s *Service) cacheLookup(ctx context.Context, name, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	err := cache.GetJSON(ctx, s.cache, key, dst)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	metrics.ObserveCache(name, err == nil)
	return err == nil
}

func (s *Service) cacheStore(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, value, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidate failed")
	}
}
