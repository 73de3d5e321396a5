package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkforty/linkforty/internal/models"
)

const uniqueViolationCode = "23505"

// PostgresLinkRepo implements LinkRepo using PostgreSQL.
type PostgresLinkRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkRepo(pool *pgxpool.Pool) *PostgresLinkRepo {
	return &PostgresLinkRepo{pool: pool}
}

const linkColumns = `
	l.id, l.short_code, l.template_id, t.slug, l.user_id, l.original_url,
	l.ios_app_store_url, l.android_play_store_url, l.web_fallback_url,
	l.ios_universal_link, l.android_app_link,
	l.app_scheme, l.deep_link_path, l.deep_link_parameters,
	l.og_title, l.og_description, l.og_image_url,
	l.utm_parameters, l.targeting_rules,
	l.attribution_window_hours, l.is_active, l.expires_at,
	l.created_at, l.updated_at`

func (r *PostgresLinkRepo) Create(ctx context.Context, link *models.Link) error {
	deepParams, utm, targeting, err := marshalLinkJSON(link)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO links (
			id, short_code, template_id, user_id, original_url,
			ios_app_store_url, android_play_store_url, web_fallback_url,
			ios_universal_link, android_app_link,
			app_scheme, deep_link_path, deep_link_parameters,
			og_title, og_description, og_image_url,
			utm_parameters, targeting_rules,
			attribution_window_hours, is_active, expires_at,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		link.ID, link.ShortCode, link.TemplateID, link.UserID, link.OriginalURL,
		link.IOSAppStoreURL, link.AndroidPlayStoreURL, link.WebFallbackURL,
		link.IOSUniversalLink, link.AndroidAppLink,
		link.AppScheme, link.DeepLinkPath, deepParams,
		link.OGTitle, link.OGDescription, link.OGImageURL,
		utm, targeting,
		link.AttributionWindowHours, link.IsActive, link.ExpiresAt,
		link.CreatedAt, link.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateShortCode
		}
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

func (r *PostgresLinkRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM links l
		LEFT JOIN templates t ON t.id = l.template_id
		WHERE l.id = $1
	`, id)
	return scanLink(row)
}

func (r *PostgresLinkRepo) GetByShortCode(ctx context.Context, code string) (*models.Link, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM links l
		LEFT JOIN templates t ON t.id = l.template_id
		WHERE l.short_code = $1
		  AND l.is_active
		  AND (l.expires_at IS NULL OR l.expires_at > now())
	`, code)
	return scanLink(row)
}

func (r *PostgresLinkRepo) GetBySlugAndCode(ctx context.Context, slug, code string) (*models.Link, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM links l
		JOIN templates t ON t.id = l.template_id
		WHERE l.short_code = $1
		  AND t.slug = $2
		  AND l.is_active
		  AND (l.expires_at IS NULL OR l.expires_at > now())
	`, code, slug)
	return scanLink(row)
}

func (r *PostgresLinkRepo) Update(ctx context.Context, link *models.Link) error {
	deepParams, utm, targeting, err := marshalLinkJSON(link)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE links SET
			original_url = $2,
			ios_app_store_url = $3, android_play_store_url = $4, web_fallback_url = $5,
			ios_universal_link = $6, android_app_link = $7,
			app_scheme = $8, deep_link_path = $9, deep_link_parameters = $10,
			og_title = $11, og_description = $12, og_image_url = $13,
			utm_parameters = $14, targeting_rules = $15,
			attribution_window_hours = $16, is_active = $17, expires_at = $18,
			updated_at = now()
		WHERE id = $1
	`,
		link.ID,
		link.OriginalURL,
		link.IOSAppStoreURL, link.AndroidPlayStoreURL, link.WebFallbackURL,
		link.IOSUniversalLink, link.AndroidAppLink,
		link.AppScheme, link.DeepLinkPath, deepParams,
		link.OGTitle, link.OGDescription, link.OGImageURL,
		utm, targeting,
		link.AttributionWindowHours, link.IsActive, link.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresLinkRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalLinkJSON(link *models.Link) (deepParams, utm, targeting []byte, err error) {
	if link.DeepLinkParameters != nil {
		deepParams, err = json.Marshal(link.DeepLinkParameters)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal deep link parameters: %w", err)
		}
	}
	if link.UTMParameters != nil {
		utm, err = json.Marshal(link.UTMParameters)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal utm parameters: %w", err)
		}
	}
	if link.Targeting != nil {
		targeting, err = json.Marshal(link.Targeting)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal targeting rules: %w", err)
		}
	}
	return deepParams, utm, targeting, nil
}

func scanLink(row pgx.Row) (*models.Link, error) {
	var l models.Link
	var deepParams, utm, targeting []byte

	err := row.Scan(
		&l.ID, &l.ShortCode, &l.TemplateID, &l.TemplateSlug, &l.UserID, &l.OriginalURL,
		&l.IOSAppStoreURL, &l.AndroidPlayStoreURL, &l.WebFallbackURL,
		&l.IOSUniversalLink, &l.AndroidAppLink,
		&l.AppScheme, &l.DeepLinkPath, &deepParams,
		&l.OGTitle, &l.OGDescription, &l.OGImageURL,
		&utm, &targeting,
		&l.AttributionWindowHours, &l.IsActive, &l.ExpiresAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}

	if len(deepParams) > 0 {
		if err := json.Unmarshal(deepParams, &l.DeepLinkParameters); err != nil {
			return nil, fmt.Errorf("failed to parse deep link parameters: %w", err)
		}
	}
	if len(utm) > 0 {
		l.UTMParameters = &models.UTMParameters{}
		if err := json.Unmarshal(utm, l.UTMParameters); err != nil {
			return nil, fmt.Errorf("failed to parse utm parameters: %w", err)
		}
	}
	if len(targeting) > 0 {
		l.Targeting = &models.TargetingRules{}
		if err := json.Unmarshal(targeting, l.Targeting); err != nil {
			return nil, fmt.Errorf("failed to parse targeting rules: %w", err)
		}
	}
	return &l, nil
}

// PostgresTemplateRepo implements TemplateRepo using PostgreSQL.
type PostgresTemplateRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTemplateRepo(pool *pgxpool.Pool) *PostgresTemplateRepo {
	return &PostgresTemplateRepo{pool: pool}
}

func (r *PostgresTemplateRepo) Create(ctx context.Context, tpl *models.Template) error {
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO templates (id, slug, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, tpl.ID, tpl.Slug, tpl.Name, tpl.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

func (r *PostgresTemplateRepo) GetBySlug(ctx context.Context, slug string) (*models.Template, error) {
	var tpl models.Template
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, created_at FROM templates WHERE slug = $1
	`, slug).Scan(&tpl.ID, &tpl.Slug, &tpl.Name, &tpl.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}
