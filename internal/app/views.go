package app

import (
	"time"

	"terravest/api/internal/store"
)

type ProfileView struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	Tier          string    `json:"tier"`
	TotalInvested float64   `json:"total_invested"`
	ImpactScore   float64   `json:"impact_score"`
	Interests     []string  `json:"interests"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func profileView(p store.Profile) ProfileView {
	interests := p.Interests
	if interests == nil {
		interests = []string{}
	}
	return ProfileView{
		ID:            p.UserID,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		Tier:          p.Tier,
		TotalInvested: p.TotalInvested,
		ImpactScore:   p.ImpactScore,
		Interests:     interests,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type CompanyView struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	Description           string             `json:"description"`
	Mission               string             `json:"mission"`
	Sector                string             `json:"sector"`
	Country               string             `json:"country"`
	LogoURL               string             `json:"logo_url,omitempty"`
	Score                 float64            `json:"score"`
	FinancialMetrics      map[string]float64 `json:"financial_metrics"`
	SustainabilityMetrics map[string]float64 `json:"sustainability_metrics"`
	CreatedAt             time.Time          `json:"created_at"`
	Saved                 bool               `json:"saved"`
}

type WatchlistEntry struct {
	ID        string      `json:"id"`
	CompanyID string      `json:"company_id"`
	CreatedAt time.Time   `json:"created_at"`
	Company   CompanyView `json:"companies"`
}

type MemberView struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type CommunityView struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	CompanyID          string      `json:"company_id"`
	CreatedAt          time.Time   `json:"created_at"`
	Company            CompanyView `json:"company"`
	IsMember           bool        `json:"is_member"`
	AmbassadorCount    int         `json:"ambassador_count"`
	FeaturedAmbassador *MemberView `json:"featured_ambassador"`
}

const (
	ActivityPost      = "post"
	ActivityNewMember = "new_member"
)

type ActivityItem struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	CommunityID   string    `json:"community_id"`
	CommunityName string    `json:"community_name"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
}

type FeedStats struct {
	CommunitiesJoined int `json:"communitiesJoined"`
	PostsCreated      int `json:"postsCreated"`
}

type CommunityFeed struct {
	RecentActivity []ActivityItem `json:"recentActivity"`
	Stats          FeedStats      `json:"stats"`
}

type PostView struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"community_id"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

func postView(p store.CommunityPost) PostView {
	return PostView{
		ID:          p.ID,
		CommunityID: p.CommunityID,
		AuthorID:    p.AuthorID,
		Title:       p.Title,
		Content:     p.Content,
		CreatedAt:   p.CreatedAt,
	}
}

// DashboardProfile is the aggregate behind the dashboard header.
type DashboardProfile struct {
	Profile           ProfileView `json:"profile"`
	SavedCompanyIDs   []string    `json:"saved_company_ids"`
	WatchlistCount    int         `json:"watchlist_count"`
	CommunitiesJoined int         `json:"communities_joined"`
}
