package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"terravest/api/internal/authpw"
	"terravest/api/internal/cache"
	"terravest/api/internal/config"
	"terravest/api/internal/store"
)

type fakeStore struct {
	getUserByEmailFn               func(context.Context, string) (store.User, error)
	createUserFn                   func(context.Context, store.User, store.Profile) error
	getUserByIDFn                  func(context.Context, string) (store.User, error)
	ensureUserByEmailFn            func(context.Context, string, string, string) (store.User, error)
	getProfileFn                   func(context.Context, string) (store.Profile, error)
	countCompaniesFn               func(context.Context) (int, error)
	insertCompanyFn                func(context.Context, store.Company) error
	insertCommunityFn              func(context.Context, store.Community) error
	listCompaniesFn                func(context.Context) ([]store.Company, error)
	searchCompaniesFn              func(context.Context, store.CompanySearch) ([]store.Company, error)
	getCompanyFn                   func(context.Context, string) (store.Company, error)
	companyExistsFn                func(context.Context, string) (bool, error)
	listSavedCompaniesFn           func(context.Context, string) ([]store.SavedCompanyWithCompany, error)
	savedCompanyIDsFn              func(context.Context, string) ([]string, error)
	findSavedCompanyFn             func(context.Context, string, string) (*store.SavedCompany, error)
	insertSavedCompanyFn           func(context.Context, store.SavedCompany) (store.SavedCompany, error)
	deleteSavedCompanyFn           func(context.Context, string, string) (bool, error)
	listCommunitiesWithCompaniesFn func(context.Context) ([]store.CommunityWithCompany, error)
	listCommunitiesFn              func(context.Context) ([]store.Community, error)
	getCommunityFn                 func(context.Context, string) (store.Community, error)
	listJoinedCommunitiesFn        func(context.Context, string) ([]store.Community, error)
	listMembershipCommunityIDsFn   func(context.Context, string, []string) ([]string, error)
	listAmbassadorsFn              func(context.Context, []string) ([]store.CommunityMember, error)
	listRecentMembersFn            func(context.Context, []string, int) ([]store.CommunityMember, error)
	getMemberRoleFn                func(context.Context, string, string) (string, error)
	joinCommunityFn                func(context.Context, string, string) error
	leaveCommunityFn               func(context.Context, string, string) (bool, error)
	listRecentPostsWithAuthorsFn   func(context.Context, []string, int) ([]store.CommunityPost, error)
	listRecentPostsFn              func(context.Context, []string, int) ([]store.CommunityPost, error)
	countPostsByAuthorFn           func(context.Context, string) (int, error)
	insertPostFn                   func(context.Context, store.CommunityPost) (store.CommunityPost, error)
	getPostFn                      func(context.Context, string, string) (store.CommunityPost, error)
	deletePostFn                   func(context.Context, string, string) error
	pingFn                         func(context.Context) error
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User, profile store.Profile) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user, profile)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Email: userID + "@example.com"}, nil
}
func (f *fakeStore) EnsureUserByEmail(ctx context.Context, id, email, displayName string) (store.User, error) {
	if f.ensureUserByEmailFn != nil {
		return f.ensureUserByEmailFn(ctx, id, email, displayName)
	}
	return store.User{ID: id, Email: email}, nil
}
func (f *fakeStore) GetProfile(ctx context.Context, userID string) (store.Profile, error) {
	if f.getProfileFn != nil {
		return f.getProfileFn(ctx, userID)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) CountCompanies(ctx context.Context) (int, error) {
	if f.countCompaniesFn != nil {
		return f.countCompaniesFn(ctx)
	}
	return 1, nil
}
func (f *fakeStore) InsertCompany(ctx context.Context, company store.Company) error {
	if f.insertCompanyFn != nil {
		return f.insertCompanyFn(ctx, company)
	}
	return nil
}
func (f *fakeStore) InsertCommunity(ctx context.Context, community store.Community) error {
	if f.insertCommunityFn != nil {
		return f.insertCommunityFn(ctx, community)
	}
	return nil
}
func (f *fakeStore) SetMemberRole(context.Context, string, string, string) error { return nil }
func (f *fakeStore) ListCompanies(ctx context.Context) ([]store.Company, error) {
	if f.listCompaniesFn != nil {
		return f.listCompaniesFn(ctx)
	}
	return []store.Company{}, nil
}
func (f *fakeStore) SearchCompanies(ctx context.Context, search store.CompanySearch) ([]store.Company, error) {
	if f.searchCompaniesFn != nil {
		return f.searchCompaniesFn(ctx, search)
	}
	return []store.Company{}, nil
}
func (f *fakeStore) GetCompany(ctx context.Context, companyID string) (store.Company, error) {
	if f.getCompanyFn != nil {
		return f.getCompanyFn(ctx, companyID)
	}
	return store.Company{}, sql.ErrNoRows
}
func (f *fakeStore) CompanyExists(ctx context.Context, companyID string) (bool, error) {
	if f.companyExistsFn != nil {
		return f.companyExistsFn(ctx, companyID)
	}
	return false, nil
}
func (f *fakeStore) ListSavedCompanies(ctx context.Context, userID string) ([]store.SavedCompanyWithCompany, error) {
	if f.listSavedCompaniesFn != nil {
		return f.listSavedCompaniesFn(ctx, userID)
	}
	return []store.SavedCompanyWithCompany{}, nil
}
func (f *fakeStore) SavedCompanyIDs(ctx context.Context, userID string) ([]string, error) {
	if f.savedCompanyIDsFn != nil {
		return f.savedCompanyIDsFn(ctx, userID)
	}
	return []string{}, nil
}
func (f *fakeStore) FindSavedCompany(ctx context.Context, userID, companyID string) (*store.SavedCompany, error) {
	if f.findSavedCompanyFn != nil {
		return f.findSavedCompanyFn(ctx, userID, companyID)
	}
	return nil, nil
}
func (f *fakeStore) InsertSavedCompany(ctx context.Context, saved store.SavedCompany) (store.SavedCompany, error) {
	if f.insertSavedCompanyFn != nil {
		return f.insertSavedCompanyFn(ctx, saved)
	}
	saved.CreatedAt = time.Now()
	return saved, nil
}
func (f *fakeStore) DeleteSavedCompany(ctx context.Context, userID, companyID string) (bool, error) {
	if f.deleteSavedCompanyFn != nil {
		return f.deleteSavedCompanyFn(ctx, userID, companyID)
	}
	return false, nil
}
func (f *fakeStore) ListCommunitiesWithCompanies(ctx context.Context) ([]store.CommunityWithCompany, error) {
	if f.listCommunitiesWithCompaniesFn != nil {
		return f.listCommunitiesWithCompaniesFn(ctx)
	}
	return []store.CommunityWithCompany{}, nil
}
func (f *fakeStore) ListCommunities(ctx context.Context) ([]store.Community, error) {
	if f.listCommunitiesFn != nil {
		return f.listCommunitiesFn(ctx)
	}
	return []store.Community{}, nil
}
func (f *fakeStore) GetCommunity(ctx context.Context, communityID string) (store.Community, error) {
	if f.getCommunityFn != nil {
		return f.getCommunityFn(ctx, communityID)
	}
	return store.Community{}, sql.ErrNoRows
}
func (f *fakeStore) ListJoinedCommunities(ctx context.Context, userID string) ([]store.Community, error) {
	if f.listJoinedCommunitiesFn != nil {
		return f.listJoinedCommunitiesFn(ctx, userID)
	}
	return []store.Community{}, nil
}
func (f *fakeStore) ListMembershipCommunityIDs(ctx context.Context, userID string, ids []string) ([]string, error) {
	if f.listMembershipCommunityIDsFn != nil {
		return f.listMembershipCommunityIDsFn(ctx, userID, ids)
	}
	return []string{}, nil
}
func (f *fakeStore) ListAmbassadors(ctx context.Context, ids []string) ([]store.CommunityMember, error) {
	if f.listAmbassadorsFn != nil {
		return f.listAmbassadorsFn(ctx, ids)
	}
	return []store.CommunityMember{}, nil
}
func (f *fakeStore) ListRecentMembers(ctx context.Context, ids []string, limit int) ([]store.CommunityMember, error) {
	if f.listRecentMembersFn != nil {
		return f.listRecentMembersFn(ctx, ids, limit)
	}
	return []store.CommunityMember{}, nil
}
func (f *fakeStore) GetMemberRole(ctx context.Context, communityID, userID string) (string, error) {
	if f.getMemberRoleFn != nil {
		return f.getMemberRoleFn(ctx, communityID, userID)
	}
	return "", nil
}
func (f *fakeStore) JoinCommunity(ctx context.Context, communityID, userID string) error {
	if f.joinCommunityFn != nil {
		return f.joinCommunityFn(ctx, communityID, userID)
	}
	return nil
}
func (f *fakeStore) LeaveCommunity(ctx context.Context, communityID, userID string) (bool, error) {
	if f.leaveCommunityFn != nil {
		return f.leaveCommunityFn(ctx, communityID, userID)
	}
	return false, nil
}
func (f *fakeStore) ListRecentPostsWithAuthors(ctx context.Context, ids []string, limit int) ([]store.CommunityPost, error) {
	if f.listRecentPostsWithAuthorsFn != nil {
		return f.listRecentPostsWithAuthorsFn(ctx, ids, limit)
	}
	return []store.CommunityPost{}, nil
}
func (f *fakeStore) ListRecentPosts(ctx context.Context, ids []string, limit int) ([]store.CommunityPost, error) {
	if f.listRecentPostsFn != nil {
		return f.listRecentPostsFn(ctx, ids, limit)
	}
	return []store.CommunityPost{}, nil
}
func (f *fakeStore) CountPostsByAuthor(ctx context.Context, authorID string) (int, error) {
	if f.countPostsByAuthorFn != nil {
		return f.countPostsByAuthorFn(ctx, authorID)
	}
	return 0, nil
}
func (f *fakeStore) InsertPost(ctx context.Context, post store.CommunityPost) (store.CommunityPost, error) {
	if f.insertPostFn != nil {
		return f.insertPostFn(ctx, post)
	}
	post.CreatedAt = time.Now()
	return post, nil
}
func (f *fakeStore) GetPost(ctx context.Context, communityID, postID string) (store.CommunityPost, error) {
	if f.getPostFn != nil {
		return f.getPostFn(ctx, communityID, postID)
	}
	return store.CommunityPost{}, sql.ErrNoRows
}
func (f *fakeStore) DeletePost(ctx context.Context, communityID, postID string) error {
	if f.deletePostFn != nil {
		return f.deletePostFn(ctx, communityID, postID)
	}
	return nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// fakeSessions keeps refresh sessions and revoked JTIs in maps.
type fakeSessions struct {
	refresh map[string]store.User
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]store.User{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash string, user store.User, _ time.Time) error {
	f.refresh[hash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	user, ok := f.refresh[hash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	delete(f.refresh, hash)
	return nil
}
func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.revoked[jti] = true
	return nil
}
func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:         "test-secret",
			AccessTTL:         time.Hour,
			RefreshTTL:        24 * time.Hour,
			AuthEnabled:       true,
			ProfileCacheTTL:   time.Minute,
			DashboardCacheTTL: time.Minute,
		},
		store:     fs,
		sessions:  newFakeSessions(),
		cache:     cache.NewMemory(),
		passwords: authpw.NewService(fs),
		logger:    zerolog.Nop(),
	}
}
