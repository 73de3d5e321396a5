package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkforty/linkforty/internal/models"
)

// PostgresClickRepo implements ClickRepo using PostgreSQL.
type PostgresClickRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresClickRepo(pool *pgxpool.Pool) *PostgresClickRepo {
	return &PostgresClickRepo{pool: pool}
}

func (r *PostgresClickRepo) InsertClick(ctx context.Context, click *models.ClickEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO click_events (
			id, link_id, clicked_at,
			ip_address, user_agent, referer, language,
			device_type, platform, platform_version, browser,
			country_code, country_name, region, city, latitude, longitude, timezone,
			utm_source, utm_medium, utm_campaign,
			redirect_url, reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		click.ID, click.LinkID, click.ClickedAt,
		click.IPAddress, click.UserAgent, click.Referer, click.Language,
		click.DeviceType, click.Platform, click.PlatformVersion, click.Browser,
		click.CountryCode, click.CountryName, click.Region, click.City,
		click.Latitude, click.Longitude, click.Timezone,
		click.UTMSource, click.UTMMedium, click.UTMCampaign,
		click.RedirectURL, click.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert click event: %w", err)
	}
	return nil
}

func (r *PostgresClickRepo) InsertFingerprint(ctx context.Context, fp *models.DeviceFingerprint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO device_fingerprints (
			id, click_id, fingerprint_hash,
			ip_address, user_agent, timezone, language,
			screen_width, screen_height, platform, platform_version,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		fp.ID, fp.ClickID, fp.FingerprintHash,
		fp.IPAddress, fp.UserAgent, fp.Timezone, fp.Language,
		fp.ScreenWidth, fp.ScreenHeight, fp.Platform, fp.PlatformVersion,
		fp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device fingerprint: %w", err)
	}
	return nil
}

func (r *PostgresClickRepo) GetClick(ctx context.Context, id uuid.UUID) (*models.ClickEvent, error) {
	var c models.ClickEvent
	err := r.pool.QueryRow(ctx, `
		SELECT id, link_id, clicked_at,
			   ip_address, user_agent, referer, language,
			   device_type, platform, platform_version, browser,
			   country_code, country_name, region, city, latitude, longitude, timezone,
			   utm_source, utm_medium, utm_campaign,
			   redirect_url, reason
		FROM click_events WHERE id = $1
	`, id).Scan(
		&c.ID, &c.LinkID, &c.ClickedAt,
		&c.IPAddress, &c.UserAgent, &c.Referer, &c.Language,
		&c.DeviceType, &c.Platform, &c.PlatformVersion, &c.Browser,
		&c.CountryCode, &c.CountryName, &c.Region, &c.City,
		&c.Latitude, &c.Longitude, &c.Timezone,
		&c.UTMSource, &c.UTMMedium, &c.UTMCampaign,
		&c.RedirectURL, &c.Reason,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get click event: %w", err)
	}
	return &c, nil
}

func (r *PostgresClickRepo) RecentCandidates(ctx context.Context, since time.Time, limit int) ([]AttributionCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.link_id, l.user_id, c.clicked_at, l.attribution_window_hours,
			   f.ip_address, f.user_agent, f.timezone, f.language,
			   f.screen_width, f.screen_height, f.platform, f.platform_version
		FROM click_events c
		JOIN device_fingerprints f ON f.click_id = c.id
		JOIN links l ON l.id = c.link_id
		WHERE c.clicked_at > $1
		ORDER BY c.clicked_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attribution candidates: %w", err)
	}
	defer rows.Close()

	var candidates []AttributionCandidate
	for rows.Next() {
		var c AttributionCandidate
		if err := rows.Scan(
			&c.ClickID, &c.LinkID, &c.OwnerID, &c.ClickedAt, &c.WindowHours,
			&c.Signals.IPAddress, &c.Signals.UserAgent, &c.Signals.Timezone, &c.Signals.Language,
			&c.Signals.ScreenWidth, &c.Signals.ScreenHeight, &c.Signals.Platform, &c.Signals.PlatformVersion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attribution candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
