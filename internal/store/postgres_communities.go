package store

import (
	"context"
	"fmt"
)

// ListCommunitiesWithCompanies loads every community with its company in a
// single round trip. HasCompany is false when the company row is missing.
func (s *PostgresStore) ListCommunitiesWithCompanies(ctx context.Context) ([]CommunityWithCompany, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.company_id, c.created_at,
			co.id IS NOT NULL,
			COALESCE(co.name, ''), COALESCE(co.description, ''), COALESCE(co.mission, ''),
			COALESCE(co.sector, ''), COALESCE(co.country, ''), COALESCE(co.logo_key, ''),
			COALESCE(co.score, 0), COALESCE(co.financial_metrics, '{}'::jsonb),
			COALESCE(co.sustainability_metrics, '{}'::jsonb), COALESCE(co.created_at, c.created_at)
		FROM communities c
		LEFT JOIN companies co ON co.id = c.company_id
		ORDER BY c.created_at ASC, c.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list communities with companies: %w", err)
	}
	defer rows.Close()

	items := make([]CommunityWithCompany, 0)
	for rows.Next() {
		var (
			item           CommunityWithCompany
			financial      []byte
			sustainability []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Description,
			&item.CompanyID,
			&item.CreatedAt,
			&item.HasCompany,
			&item.Company.Name,
			&item.Company.Description,
			&item.Company.Mission,
			&item.Company.Sector,
			&item.Company.Country,
			&item.Company.LogoKey,
			&item.Company.Score,
			&financial,
			&sustainability,
			&item.Company.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		item.Company.ID = item.CompanyID
		if item.Company.FinancialMetrics, err = decodeMetrics(financial); err != nil {
			return nil, fmt.Errorf("decode financial metrics: %w", err)
		}
		if item.Company.SustainabilityMetrics, err = decodeMetrics(sustainability); err != nil {
			return nil, fmt.Errorf("decode sustainability metrics: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communities: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCommunities(ctx context.Context) ([]Community, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, company_id, created_at
		FROM communities
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	defer rows.Close()
	return scanCommunities(rows)
}

func (s *PostgresStore) GetCommunity(ctx context.Context, communityID string) (Community, error) {
	var item Community
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, company_id, created_at FROM communities WHERE id = $1
	`, communityID).Scan(&item.ID, &item.Name, &item.Description, &item.CompanyID, &item.CreatedAt)
	if err != nil {
		return Community{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListJoinedCommunities(ctx context.Context, userID string) ([]Community, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.company_id, c.created_at
		FROM communities c
		JOIN community_members m ON m.community_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list joined communities: %w", err)
	}
	defer rows.Close()
	return scanCommunities(rows)
}

type communityRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCommunities(rows communityRows) ([]Community, error) {
	items := make([]Community, 0)
	for rows.Next() {
		var item Community
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CompanyID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communities: %w", err)
	}
	return items, nil
}

// ListMembershipCommunityIDs returns the subset of communityIDs userID belongs to.
func (s *PostgresStore) ListMembershipCommunityIDs(ctx context.Context, userID string, communityIDs []string) ([]string, error) {
	if len(communityIDs) == 0 {
		return []string{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT community_id FROM community_members
		WHERE user_id = $1 AND community_id = ANY($2)
	`, userID, communityIDs)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return ids, nil
}

// ListAmbassadors returns ambassadors for the given communities ordered by
// creation time, earliest first.
func (s *PostgresStore) ListAmbassadors(ctx context.Context, communityIDs []string) ([]CommunityMember, error) {
	if len(communityIDs) == 0 {
		return []CommunityMember{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.community_id, m.user_id, COALESCE(p.display_name, ''), m.role, m.created_at
		FROM community_members m
		LEFT JOIN profiles p ON p.user_id = m.user_id
		WHERE m.role = 'ambassador' AND m.community_id = ANY($1)
		ORDER BY m.created_at ASC
	`, communityIDs)
	if err != nil {
		return nil, fmt.Errorf("list ambassadors: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

// ListRecentMembers returns the newest memberships across communityIDs.
func (s *PostgresStore) ListRecentMembers(ctx context.Context, communityIDs []string, limit int) ([]CommunityMember, error) {
	if len(communityIDs) == 0 {
		return []CommunityMember{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.community_id, m.user_id, COALESCE(p.display_name, ''), m.role, m.created_at
		FROM community_members m
		LEFT JOIN profiles p ON p.user_id = m.user_id
		WHERE m.community_id = ANY($1)
		ORDER BY m.created_at DESC
		LIMIT $2
	`, communityIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func scanMembers(rows communityRows) ([]CommunityMember, error) {
	items := make([]CommunityMember, 0)
	for rows.Next() {
		var item CommunityMember
		if err := rows.Scan(&item.CommunityID, &item.UserID, &item.DisplayName, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

// GetMemberRole returns "" when userID is not a member of the community.
func (s *PostgresStore) GetMemberRole(ctx context.Context, communityID, userID string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role FROM community_members WHERE community_id = $1 AND user_id = $2
	`, communityID, userID)
	if err != nil {
		return "", fmt.Errorf("read member role: %w", err)
	}
	defer rows.Close()
	role := ""
	if rows.Next() {
		if err := rows.Scan(&role); err != nil {
			return "", fmt.Errorf("scan member role: %w", err)
		}
	}
	return role, rows.Err()
}

func (s *PostgresStore) JoinCommunity(ctx context.Context, communityID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO community_members (community_id, user_id, role)
		VALUES ($1, $2, 'member')
		ON CONFLICT (community_id, user_id) DO NOTHING
	`, communityID, userID)
	if err != nil {
		return fmt.Errorf("join community: %w", err)
	}
	return nil
}

func (s *PostgresStore) LeaveCommunity(ctx context.Context, communityID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM community_members WHERE community_id = $1 AND user_id = $2
	`, communityID, userID)
	if err != nil {
		return false, fmt.Errorf("leave community: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("leave community rows: %w", err)
	}
	return affected > 0, nil
}

// ListRecentPostsWithAuthors joins author display names in one query.
func (s *PostgresStore) ListRecentPostsWithAuthors(ctx context.Context, communityIDs []string, limit int) ([]CommunityPost, error) {
	if len(communityIDs) == 0 {
		return []CommunityPost{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT cp.id, cp.community_id, cp.author_id, COALESCE(p.display_name, ''), cp.title, cp.content, cp.created_at
		FROM community_posts cp
		LEFT JOIN profiles p ON p.user_id = cp.author_id
		WHERE cp.community_id = ANY($1)
		ORDER BY cp.created_at DESC
		LIMIT $2
	`, communityIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts with authors: %w", err)
	}
	defer rows.Close()

	items := make([]CommunityPost, 0)
	for rows.Next() {
		var item CommunityPost
		if err := rows.Scan(&item.ID, &item.CommunityID, &item.AuthorID, &item.AuthorName, &item.Title, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

// ListRecentPosts is the join-free variant; AuthorName is left empty.
func (s *PostgresStore) ListRecentPosts(ctx context.Context, communityIDs []string, limit int) ([]CommunityPost, error) {
	if len(communityIDs) == 0 {
		return []CommunityPost{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, author_id, title, content, created_at
		FROM community_posts
		WHERE community_id = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`, communityIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]CommunityPost, 0)
	for rows.Next() {
		var item CommunityPost
		if err := rows.Scan(&item.ID, &item.CommunityID, &item.AuthorID, &item.Title, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountPostsByAuthor(ctx context.Context, authorID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM community_posts WHERE author_id = $1`, authorID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, post CommunityPost) (CommunityPost, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO community_posts (id, community_id, author_id, title, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, post.ID, post.CommunityID, post.AuthorID, post.Title, post.Content).Scan(&post.CreatedAt)
	if err != nil {
		return CommunityPost{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, communityID, postID string) (CommunityPost, error) {
	var item CommunityPost
	err := s.db.QueryRowContext(ctx, `
		SELECT id, community_id, author_id, title, content, created_at
		FROM community_posts
		WHERE community_id = $1 AND id = $2
	`, communityID, postID).Scan(&item.ID, &item.CommunityID, &item.AuthorID, &item.Title, &item.Content, &item.CreatedAt)
	if err != nil {
		return CommunityPost{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, communityID, postID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM community_posts WHERE community_id = $1 AND id = $2`, communityID, postID); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertCommunity(ctx context.Context, community Community) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO communities (id, name, description, company_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, community.ID, community.Name, community.Description, community.CompanyID)
	if err != nil {
		return fmt.Errorf("insert community: %w", err)
	}
	return nil
}

// SetMemberRole upserts a membership with the given role.
func (s *PostgresStore) SetMemberRole(ctx context.Context, communityID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO community_members (community_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (community_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, communityID, userID, role)
	if err != nil {
		return fmt.Errorf("set member role: %w", err)
	}
	return nil
}
