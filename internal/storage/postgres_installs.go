package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkforty/linkforty/internal/models"
)

// PostgresInstallRepo implements InstallRepo using PostgreSQL.
type PostgresInstallRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresInstallRepo(pool *pgxpool.Pool) *PostgresInstallRepo {
	return &PostgresInstallRepo{pool: pool}
}

const installColumns = `
	id, link_id, click_id, fingerprint_hash, confidence_score,
	installed_at, first_opened_at, attribution_window_hours,
	ip_address, user_agent, timezone, language,
	screen_width, screen_height, platform, platform_version,
	device_id, deep_link_data, retrieved`

func (r *PostgresInstallRepo) Insert(ctx context.Context, install *models.InstallEvent) error {
	data, err := json.Marshal(install.DeepLinkData)
	if err != nil {
		return fmt.Errorf("failed to marshal deep link data: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO install_events (`+installColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		install.ID, install.LinkID, install.ClickID, install.FingerprintHash, install.ConfidenceScore,
		install.InstalledAt, install.FirstOpenedAt, install.AttributionWindowHours,
		install.IPAddress, install.UserAgent, install.Timezone, install.Language,
		install.ScreenWidth, install.ScreenHeight, install.Platform, install.PlatformVersion,
		install.DeviceID, data, install.Retrieved,
	)
	if err != nil {
		return fmt.Errorf("failed to insert install event: %w", err)
	}
	return nil
}

func (r *PostgresInstallRepo) SetDeepLinkData(ctx context.Context, id uuid.UUID, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal deep link data: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE install_events SET deep_link_data = $2, retrieved = true WHERE id = $1
	`, id, payload)
	if err != nil {
		return fmt.Errorf("failed to update install event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresInstallRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.InstallEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+installColumns+` FROM install_events WHERE id = $1
	`, id)
	return scanInstall(row)
}

func (r *PostgresInstallRepo) GetByFingerprint(ctx context.Context, hash string) (*models.InstallEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+installColumns+` FROM install_events
		WHERE fingerprint_hash = $1
		ORDER BY installed_at DESC
		LIMIT 1
	`, hash)
	return scanInstall(row)
}

func (r *PostgresInstallRepo) InsertInAppEvent(ctx context.Context, event *models.InAppEvent) error {
	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal event properties: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO in_app_events (id, install_id, event_name, properties, event_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.InstallID, event.EventName, props, event.EventTime, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert in-app event: %w", err)
	}
	return nil
}

func scanInstall(row pgx.Row) (*models.InstallEvent, error) {
	var e models.InstallEvent
	var data []byte

	err := row.Scan(
		&e.ID, &e.LinkID, &e.ClickID, &e.FingerprintHash, &e.ConfidenceScore,
		&e.InstalledAt, &e.FirstOpenedAt, &e.AttributionWindowHours,
		&e.IPAddress, &e.UserAgent, &e.Timezone, &e.Language,
		&e.ScreenWidth, &e.ScreenHeight, &e.Platform, &e.PlatformVersion,
		&e.DeviceID, &data, &e.Retrieved,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan install event: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.DeepLinkData); err != nil {
			return nil, fmt.Errorf("failed to parse deep link data: %w", err)
		}
	}
	if e.DeepLinkData == nil {
		e.DeepLinkData = map[string]any{}
	}
	return &e, nil
}
