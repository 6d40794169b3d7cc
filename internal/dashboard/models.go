package dashboard

import "time"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"-"`
	DevBypass    bool      `json:"devBypass,omitempty"`
}

type Profile struct {
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

type Company struct {
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
	Saved                 bool               `json:"saved"`
}

type Ambassador struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type Community struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	CompanyID          string      `json:"company_id"`
	Company            Company     `json:"company"`
	IsMember           bool        `json:"is_member"`
	AmbassadorCount    int         `json:"ambassador_count"`
	FeaturedAmbassador *Ambassador `json:"featured_ambassador"`
}

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

type WatchlistEntry struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
	Company   Company   `json:"companies"`
}
