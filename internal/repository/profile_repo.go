package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/user/llm-proxy-go/internal/models"
)

// ProfileRepositoryImpl implements ProfileRepository against SQLite.
type ProfileRepositoryImpl struct {
	db *sql.DB
}

// NewProfileRepositoryImpl creates a new ProfileRepositoryImpl.
func NewProfileRepositoryImpl(db *sql.DB) *ProfileRepositoryImpl {
	return &ProfileRepositoryImpl{db: db}
}

func (r *ProfileRepositoryImpl) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx, selectProfileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadMappings(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProfileRepositoryImpl) FindAll(ctx context.Context) ([]*models.Profile, error) {
	rows, err := r.db.QueryContext(ctx, selectProfileColumns+` FROM profiles ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if err := r.loadMappings(ctx, p); err != nil {
			return nil, err
		}
	}
	return profiles, nil
}

func (r *ProfileRepositoryImpl) FindActive(ctx context.Context) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx, selectProfileColumns+` FROM profiles WHERE is_active = 1`)
	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadMappings(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProfileRepositoryImpl) Insert(ctx context.Context, p *models.Profile) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, api_base_url, api_key, is_active, model_mapping_mode, override_model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.APIBaseURL, p.APIKey, boolToInt(p.IsActive), string(p.ModelMappingMode), p.OverrideModel,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return r.ReplaceMappings(ctx, p.ID, p.ModelMappings)
}

func (r *ProfileRepositoryImpl) Update(ctx context.Context, p *models.Profile) error {
	now := time.Now().UTC()
	p.UpdatedAt = now
	result, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET name = ?, api_base_url = ?, api_key = ?, model_mapping_mode = ?, override_model = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.APIBaseURL, p.APIKey, string(p.ModelMappingMode), p.OverrideModel, now.Format(timeLayout), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return r.ReplaceMappings(ctx, p.ID, p.ModelMappings)
}

func (r *ProfileRepositoryImpl) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Activate flips is_active off for every profile and on for id inside a
// single transaction, preserving the at-most-one-active invariant even
// under a mid-transaction crash (SQLite rolls the whole thing back).
func (r *ProfileRepositoryImpl) Activate(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET is_active = 0`); err != nil {
		return fmt.Errorf("failed to clear active profile: %w", err)
	}
	result, err := tx.ExecContext(ctx, `UPDATE profiles SET is_active = 1, updated_at = ? WHERE id = ?`, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to set active profile: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (r *ProfileRepositoryImpl) ReplaceMappings(ctx context.Context, profileID string, rules []models.MappingRule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_mappings WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("failed to clear model mappings: %w", err)
	}
	for i, rule := range rules {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_mappings (profile_id, pattern, target, use_regex, rule_order) VALUES (?, ?, ?, ?, ?)
		`, profileID, rule.Pattern, rule.Target, boolToInt(rule.UseRegex), i); err != nil {
			return fmt.Errorf("failed to insert model mapping: %w", err)
		}
	}
	return tx.Commit()
}

func (r *ProfileRepositoryImpl) loadMappings(ctx context.Context, p *models.Profile) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pattern, target, use_regex, rule_order FROM model_mappings WHERE profile_id = ? ORDER BY rule_order ASC
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load model mappings: %w", err)
	}
	defer rows.Close()

	var rules []models.MappingRule
	for rows.Next() {
		var rule models.MappingRule
		var useRegex int
		if err := rows.Scan(&rule.ID, &rule.Pattern, &rule.Target, &useRegex, &rule.Order); err != nil {
			return fmt.Errorf("failed to scan model mapping: %w", err)
		}
		rule.UseRegex = useRegex == 1
		rules = append(rules, rule)
	}
	p.ModelMappings = rules
	return rows.Err()
}

const selectProfileColumns = `SELECT id, name, api_base_url, api_key, is_active, model_mapping_mode, override_model, created_at, updated_at`

func scanProfile(s rowScanner) (*models.Profile, error) {
	var p models.Profile
	var isActive int
	var mode string
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &p.Name, &p.APIBaseURL, &p.APIKey, &isActive, &mode, &p.OverrideModel, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	p.IsActive = isActive == 1
	p.ModelMappingMode = models.ModelMappingMode(mode)
	p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &p, nil
}
