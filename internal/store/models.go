package store

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Profile struct {
	UserID        string
	Email         string
	DisplayName   string
	Tier          string
	TotalInvested float64
	ImpactScore   float64
	Interests     []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Company struct {
	ID                    string
	Name                  string
	Description           string
	Mission               string
	Sector                string
	Country               string
	LogoKey               string
	Score                 float64
	FinancialMetrics      map[string]float64
	SustainabilityMetrics map[string]float64
	CreatedAt             time.Time
}

// CompanySearch narrows SearchCompanies. Zero-valued fields do not filter.
type CompanySearch struct {
	Text     string
	Sector   string
	MinScore float64
	Limit    int
}

type SavedCompany struct {
	ID        string
	UserID    string
	CompanyID string
	CreatedAt time.Time
}

// SavedCompanyWithCompany is a watchlist row joined with its company.
type SavedCompanyWithCompany struct {
	SavedCompany
	Company Company
}

type Community struct {
	ID          string
	Name        string
	Description string
	CompanyID   string
	CreatedAt   time.Time
}

type CommunityWithCompany struct {
	Community
	Company    Company
	HasCompany bool
}

type CommunityMember struct {
	CommunityID string
	UserID      string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

type CommunityPost struct {
	ID          string
	CommunityID string
	AuthorID    string
	AuthorName  string
	Title       string
	Content     string
	CreatedAt   time.Time
}

const (
	MemberRoleMember     = "member"
	MemberRoleAmbassador = "ambassador"
)
