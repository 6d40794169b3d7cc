package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const companyColumns = `co.id, co.name, co.description, co.mission, co.sector, co.country, co.logo_key,
	co.score, co.financial_metrics, co.sustainability_metrics, co.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner, extra ...any) (Company, error) {
	var (
		item           Company
		financial      []byte
		sustainability []byte
	)
	dest := append([]any{
		&item.ID,
		&item.Name,
		&item.Description,
		&item.Mission,
		&item.Sector,
		&item.Country,
		&item.LogoKey,
		&item.Score,
		&financial,
		&sustainability,
		&item.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Company{}, err
	}
	var err error
	if item.FinancialMetrics, err = decodeMetrics(financial); err != nil {
		return Company{}, fmt.Errorf("decode financial metrics: %w", err)
	}
	if item.SustainabilityMetrics, err = decodeMetrics(sustainability); err != nil {
		return Company{}, fmt.Errorf("decode sustainability metrics: %w", err)
	}
	return item, nil
}

func decodeMetrics(raw []byte) (map[string]float64, error) {
	metrics := map[string]float64{}
	if len(raw) == 0 {
		return metrics, nil
	}
	if err := json.Unmarshal(raw, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies co ORDER BY co.score DESC, co.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0)
	for rows.Next() {
		item, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

// SearchCompanies matches the text case-insensitively against name,
// description, mission and sector. Sector and score filters apply before
// the limit.
func (s *PostgresStore) SearchCompanies(ctx context.Context, search CompanySearch) ([]Company, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(search.Text)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies co
		WHERE (LOWER(co.name) LIKE $1
				OR LOWER(co.description) LIKE $1
				OR LOWER(co.mission) LIKE $1
				OR LOWER(co.sector) LIKE $1)
			AND ($2 = '' OR LOWER(co.sector) = $2)
			AND co.score >= $3
		ORDER BY co.score DESC, co.name ASC
		LIMIT $4
	`, pattern, strings.ToLower(strings.TrimSpace(search.Sector)), search.MinScore, limit)
	if err != nil {
		return nil, fmt.Errorf("search companies: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0)
	for rows.Next() {
		item, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies co WHERE co.id = $1`, companyID)
	return scanCompany(row)
}

func (s *PostgresStore) CompanyExists(ctx context.Context, companyID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM companies WHERE id=$1)`, companyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check company: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListSavedCompanies(ctx context.Context, userID string) ([]SavedCompanyWithCompany, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+`, sc.id, sc.user_id, sc.company_id, sc.created_at
		FROM saved_companies sc
		JOIN companies co ON co.id = sc.company_id
		WHERE sc.user_id = $1
		ORDER BY sc.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved companies: %w", err)
	}
	defer rows.Close()

	items := make([]SavedCompanyWithCompany, 0)
	for rows.Next() {
		var saved SavedCompany
		company, err := scanCompany(rows, &saved.ID, &saved.UserID, &saved.CompanyID, &saved.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan saved company: %w", err)
		}
		items = append(items, SavedCompanyWithCompany{SavedCompany: saved, Company: company})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved companies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SavedCompanyIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT company_id FROM saved_companies WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved company ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan saved company id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved company ids: %w", err)
	}
	return ids, nil
}

// FindSavedCompany returns nil when the user has not saved the company.
func (s *PostgresStore) FindSavedCompany(ctx context.Context, userID, companyID string) (*SavedCompany, error) {
	var saved SavedCompany
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, company_id, created_at
		FROM saved_companies
		WHERE user_id = $1 AND company_id = $2
	`, userID, companyID).Scan(&saved.ID, &saved.UserID, &saved.CompanyID, &saved.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find saved company: %w", err)
	}
	return &saved, nil
}

// InsertSavedCompany stores the entry and returns the persisted row. A
// concurrent duplicate resolves to the existing row.
func (s *PostgresStore) InsertSavedCompany(ctx context.Context, saved SavedCompany) (SavedCompany, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO saved_companies (id, user_id, company_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, company_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, company_id, created_at
	`, saved.ID, saved.UserID, saved.CompanyID).Scan(&saved.ID, &saved.UserID, &saved.CompanyID, &saved.CreatedAt)
	if err != nil {
		return SavedCompany{}, fmt.Errorf("insert saved company: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) DeleteSavedCompany(ctx context.Context, userID, companyID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM saved_companies WHERE user_id = $1 AND company_id = $2`, userID, companyID)
	if err != nil {
		return false, fmt.Errorf("delete saved company: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete saved company rows: %w", err)
	}
	return affected > 0, nil
}

// ListCompaniesByIDs loads the given companies. Order is not preserved.
func (s *PostgresStore) ListCompaniesByIDs(ctx context.Context, ids []string) ([]Company, error) {
	if len(ids) == 0 {
		return []Company{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies co WHERE co.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list companies by id: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0, len(ids))
	for rows.Next() {
		item, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountCompanies(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count companies: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertCompany(ctx context.Context, company Company) error {
	financial, err := json.Marshal(nonNilMetrics(company.FinancialMetrics))
	if err != nil {
		return fmt.Errorf("marshal financial metrics: %w", err)
	}
	sustainability, err := json.Marshal(nonNilMetrics(company.SustainabilityMetrics))
	if err != nil {
		return fmt.Errorf("marshal sustainability metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, description, mission, sector, country, logo_key, score,
			financial_metrics, sustainability_metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, company.ID, company.Name, company.Description, company.Mission, company.Sector, company.Country,
		company.LogoKey, company.Score, financial, sustainability)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func nonNilMetrics(metrics map[string]float64) map[string]float64 {
	if metrics == nil {
		return map[string]float64{}
	}
	return metrics
}
