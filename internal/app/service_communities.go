package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"terravest/api/internal/cache"
	"terravest/api/internal/metrics"
	"terravest/api/internal/rbac"
	"terravest/api/internal/store"
	"terravest/api/internal/util"
)

const (
	feedLimit     = 30
	unknownAuthor = "Unknown"
)

// ListCommunities returns every community with its company, the caller's
// membership and the ambassador aggregate. Related rows are resolved with a
// fixed number of queries regardless of list size.
func (s *Service) ListCommunities(ctx context.Context, userID string) ([]CommunityView, error) {
	rows, err := s.store.ListCommunitiesWithCompanies(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("communities join query failed, using per-row lookups")
		metrics.IncFallback("communities")
		rows, err = s.communitiesFallback(ctx)
		if err != nil {
			return nil, errBackend("COMMUNITIES_FAILED", "Failed to load communities", err)
		}
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var (
		memberOf    []string
		ambassadors []store.CommunityMember
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		memberOf, err = s.store.ListMembershipCommunityIDs(gctx, userID, ids)
		return err
	})
	g.Go(func() error {
		var err error
		ambassadors, err = s.store.ListAmbassadors(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errBackend("COMMUNITIES_FAILED", "Failed to load community members", err)
	}

	membership := make(map[string]bool, len(memberOf))
	for _, id := range memberOf {
		membership[id] = true
	}
	ambassadorCount := make(map[string]int)
	featured := make(map[string]store.CommunityMember)
	for _, member := range ambassadors {
		ambassadorCount[member.CommunityID]++
		current, ok := featured[member.CommunityID]
		if !ok || member.CreatedAt.Before(current.CreatedAt) {
			featured[member.CommunityID] = member
		}
	}

	views := make([]CommunityView, 0, len(rows))
	for _, row := range rows {
		company := row.Company
		if !row.HasCompany {
			company = placeholderCompany(row.CompanyID)
		}
		view := CommunityView{
			ID:              row.ID,
			Name:            row.Name,
			Description:     row.Description,
			CompanyID:       row.CompanyID,
			CreatedAt:       row.CreatedAt,
			Company:         s.companyView(ctx, company, false),
			IsMember:        membership[row.ID],
			AmbassadorCount: ambassadorCount[row.ID],
		}
		if member, ok := featured[row.ID]; ok {
			view.FeaturedAmbassador = &MemberView{
				UserID:      member.UserID,
				DisplayName: member.DisplayName,
				Role:        member.Role,
				CreatedAt:   member.CreatedAt,
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// communitiesFallback loads each community's company individually. A failed
// lookup yields the placeholder company; the row is never dropped.
func (s *Service) communitiesFallback(ctx context.Context) ([]store.CommunityWithCompany, error) {
	communities, err := s.store.ListCommunities(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]store.CommunityWithCompany, 0, len(communities))
	for _, community := range communities {
		row := store.CommunityWithCompany{Community: community}
		company, err := s.store.GetCompany(ctx, community.CompanyID)
		if err != nil {
			s.logger.Debug().Err(err).Str("community_id", community.ID).Msg("company lookup failed")
			row.Company = placeholderCompany(community.CompanyID)
		} else {
			row.Company = company
			row.HasCompany = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CommunityFeed merges recent posts and new members across the user's
// communities, newest first, capped at 30 items.
func (s *Service) CommunityFeed(ctx context.Context, userID string) (CommunityFeed, error) {
	joined, err := s.store.ListJoinedCommunities(ctx, userID)
	if err != nil {
		return CommunityFeed{}, errBackend("FEED_FAILED", "Failed to load joined communities", err)
	}
	ids := make([]string, 0, len(joined))
	names := make(map[string]string, len(joined))
	for _, community := range joined {
		ids = append(ids, community.ID)
		names[community.ID] = community.Name
	}

	var (
		posts        []store.CommunityPost
		members      []store.CommunityMember
		postsCreated int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = s.recentPosts(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		members, err = s.store.ListRecentMembers(gctx, ids, feedLimit)
		return err
	})
	g.Go(func() error {
		var err error
		postsCreated, err = s.store.CountPostsByAuthor(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return CommunityFeed{}, errBackend("FEED_FAILED", "Failed to load community feed", err)
	}

	activity := make([]ActivityItem, 0, len(posts)+len(members))
	for _, post := range posts {
		activity = append(activity, ActivityItem{
			ID:            post.ID,
			Type:          ActivityPost,
			Title:         post.Title,
			Content:       post.Content,
			CreatedAt:     post.CreatedAt,
			CommunityID:   post.CommunityID,
			CommunityName: names[post.CommunityID],
			AuthorID:      post.AuthorID,
			AuthorName:    displayNameOrUnknown(post.AuthorName),
		})
	}
	for _, member := range members {
		name := displayNameOrUnknown(member.DisplayName)
		activity = append(activity, ActivityItem{
			ID:            "member-" + member.CommunityID + "-" + member.UserID,
			Type:          ActivityNewMember,
			Title:         fmt.Sprintf("%s joined %s", name, names[member.CommunityID]),
			Content:       "New " + member.Role + " in the community",
			CreatedAt:     member.CreatedAt,
			CommunityID:   member.CommunityID,
			CommunityName: names[member.CommunityID],
			AuthorID:      member.UserID,
			AuthorName:    name,
		})
	}

	return CommunityFeed{
		RecentActivity: mergeActivity(activity, feedLimit),
		Stats: FeedStats{
			CommunitiesJoined: len(joined),
			PostsCreated:      postsCreated,
		},
	}, nil
}

// recentPosts prefers the joined author query and falls back to per-author
// profile lookups.
func (s *Service) recentPosts(ctx context.Context, ids []string) ([]store.CommunityPost, error) {
	posts, err := s.store.ListRecentPostsWithAuthors(ctx, ids, feedLimit)
	if err == nil {
		return posts, nil
	}
	s.logger.Warn().Err(err).Msg("feed author join failed, using per-author lookups")
	metrics.IncFallback("community-feed")

	posts, err = s.store.ListRecentPosts(ctx, ids, feedLimit)
	if err != nil {
		return nil, err
	}
	authors := make(map[string]string)
	for i := range posts {
		name, ok := authors[posts[i].AuthorID]
		if !ok {
			name = unknownAuthor
			if profile, err := s.store.GetProfile(ctx, posts[i].AuthorID); err == nil {
				name = displayNameOrUnknown(profile.DisplayName)
			}
			authors[posts[i].AuthorID] = name
		}
		posts[i].AuthorName = name
	}
	return posts, nil
}

// mergeActivity sorts newest first, breaking timestamp ties by id, and
// truncates to limit.
func mergeActivity(items []ActivityItem, limit int) []ActivityItem {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func displayNameOrUnknown(name string) string {
	if strings.TrimSpace(name) == "" {
		return unknownAuthor
	}
	return name
}

func (s *Service) requireCommunity(ctx context.Context, communityID string) (store.Community, error) {
	community, err := s.store.GetCommunity(ctx, communityID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Community{}, errNotFound("Community not found")
	}
	return community, err
}

func (s *Service) JoinCommunity(ctx context.Context, userID, communityID string) error {
	if _, err := s.requireCommunity(ctx, communityID); err != nil {
		return err
	}
	if err := s.store.JoinCommunity(ctx, communityID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.DashboardProfileKey(userID))
	return nil
}

func (s *Service) LeaveCommunity(ctx context.Context, userID, communityID string) (bool, error) {
	if _, err := s.requireCommunity(ctx, communityID); err != nil {
		return false, err
	}
	left, err := s.store.LeaveCommunity(ctx, communityID, userID)
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, cache.DashboardProfileKey(userID))
	return left, nil
}

type CreatePostInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Service) CreatePost(ctx context.Context, userID, communityID string, input CreatePostInput) (PostView, error) {
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" || content == "" {
		return PostView{}, errValidation("Title and content are required")
	}
	if _, err := s.requireCommunity(ctx, communityID); err != nil {
		return PostView{}, err
	}
	role, err := s.store.GetMemberRole(ctx, communityID, userID)
	if err != nil {
		return PostView{}, err
	}
	if !rbac.Can(rbac.Normalize(role), rbac.ActionPost) {
		return PostView{}, errForbidden("Join the community to post")
	}
	post, err := s.store.InsertPost(ctx, store.CommunityPost{
		ID:          util.NewID(""),
		CommunityID: communityID,
		AuthorID:    userID,
		Title:       title,
		Content:     content,
	})
	if err != nil {
		return PostView{}, err
	}
	return postView(post), nil
}

func (s *Service) DeletePost(ctx context.Context, userID, communityID, postID string) error {
	post, err := s.store.GetPost(ctx, communityID, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Post not found")
	}
	if err != nil {
		return err
	}
	role, err := s.store.GetMemberRole(ctx, communityID, userID)
	if err != nil {
		return err
	}
	if !rbac.CanDeletePost(rbac.Normalize(role), post.AuthorID == userID) {
		return errForbidden("Only the author or an ambassador can delete this post")
	}
	return s.store.DeletePost(ctx, communityID, postID)
}
