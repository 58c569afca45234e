package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of *pgxpool.Pool the repository uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores lead profiles in the lead_profiles table.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by a pgx pool.
func NewPostgresRepository(db querier) *PostgresRepository {
	if db == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

const profileColumns = `conversation_id, name, family_name, phone, whatsapp,
	country_prefix, country_name, country_code, country_flag,
	custom_fields, phase, language, intake_complete, declined_selection,
	created_at, updated_at`

// Upsert writes the cumulative profile. created_at is set once.
func (r *PostgresRepository) Upsert(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	custom, err := json.Marshal(p.CustomFields)
	if err != nil {
		return fmt.Errorf("leads: encode custom fields: %w", err)
	}
	if p.CustomFields == nil {
		custom = []byte("{}")
	}

	query := `
		INSERT INTO lead_profiles (
			conversation_id, name, family_name, phone, whatsapp,
			country_prefix, country_name, country_code, country_flag,
			custom_fields, phase, language, intake_complete, declined_selection,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		ON CONFLICT (conversation_id) DO UPDATE SET
			name = EXCLUDED.name,
			family_name = EXCLUDED.family_name,
			phone = EXCLUDED.phone,
			whatsapp = EXCLUDED.whatsapp,
			country_prefix = EXCLUDED.country_prefix,
			country_name = EXCLUDED.country_name,
			country_code = EXCLUDED.country_code,
			country_flag = EXCLUDED.country_flag,
			custom_fields = EXCLUDED.custom_fields,
			phase = EXCLUDED.phase,
			language = EXCLUDED.language,
			intake_complete = EXCLUDED.intake_complete,
			declined_selection = EXCLUDED.declined_selection,
			updated_at = NOW()
	`
	c := p.Contact
	if _, err := r.db.Exec(ctx, query,
		p.ConversationID, c.Name, c.FamilyName, c.Phone, c.WhatsApp,
		c.CountryPrefix, c.CountryName, c.CountryCode, c.CountryFlag,
		custom, p.Phase, p.Language, p.IntakeComplete, p.DeclinedSelection,
	); err != nil {
		return fmt.Errorf("leads: upsert failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, conversationID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM lead_profiles WHERE conversation_id = $1`
	profile, err := scanProfile(r.db.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return profile, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Profile, error) {
	var (
		where []string
		args  []any
	)
	if filter.CompleteOnly {
		where = append(where, "intake_complete = TRUE")
	}
	if filter.CountryCode != "" {
		args = append(args, strings.ToUpper(filter.CountryCode))
		where = append(where, fmt.Sprintf("country_code = $%d", len(args)))
	}
	query := `SELECT ` + profileColumns + ` FROM lead_profiles`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, conversation_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	profiles := make([]*Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	return profiles, nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var (
		p      Profile
		custom []byte
	)
	c := &p.Contact
	if err := row.Scan(
		&p.ConversationID, &c.Name, &c.FamilyName, &c.Phone, &c.WhatsApp,
		&c.CountryPrefix, &c.CountryName, &c.CountryCode, &c.CountryFlag,
		&custom, &p.Phase, &p.Language, &p.IntakeComplete, &p.DeclinedSelection,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &p.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return &p, nil
}
