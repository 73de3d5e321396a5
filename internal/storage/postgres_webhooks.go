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

// PostgresWebhookRepo implements WebhookRepo using PostgreSQL.
type PostgresWebhookRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresWebhookRepo(pool *pgxpool.Pool) *PostgresWebhookRepo {
	return &PostgresWebhookRepo{pool: pool}
}

const webhookColumns = `
	id, user_id, name, url, secret, events, is_active,
	max_attempts, timeout_ms, headers, created_at, updated_at`

func (r *PostgresWebhookRepo) Create(ctx context.Context, wh *models.Webhook) error {
	headers, err := marshalHeaders(wh.Headers)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		wh.ID, wh.UserID, wh.Name, wh.URL, wh.Secret, wh.Events, wh.IsActive,
		wh.MaxAttempts, wh.TimeoutMs, headers, wh.CreatedAt, wh.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook: %w", err)
	}
	return nil
}

func (r *PostgresWebhookRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row)
}

func (r *PostgresWebhookRepo) Update(ctx context.Context, wh *models.Webhook) error {
	headers, err := marshalHeaders(wh.Headers)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE webhooks SET
			name = $2, url = $3, secret = $4, events = $5, is_active = $6,
			max_attempts = $7, timeout_ms = $8, headers = $9, updated_at = now()
		WHERE id = $1
	`, wh.ID, wh.Name, wh.URL, wh.Secret, wh.Events, wh.IsActive,
		wh.MaxAttempts, wh.TimeoutMs, headers)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresWebhookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresWebhookRepo) ListActiveForEvent(ctx context.Context, ownerID uuid.UUID, event string) ([]*models.Webhook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE user_id = $1 AND is_active AND $2 = ANY(events)
	`, ownerID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (r *PostgresWebhookRepo) InsertDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (
			id, webhook_id, event_type, event_id,
			attempt, success, response_status, response_body, error, delivered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		d.ID, d.WebhookID, d.EventType, d.EventID,
		d.Attempt, d.Success, d.ResponseStatus, d.ResponseBody, d.Error, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook delivery: %w", err)
	}
	return nil
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook headers: %w", err)
	}
	return b, nil
}

func scanWebhook(row pgx.Row) (*models.Webhook, error) {
	var wh models.Webhook
	var headers []byte

	err := row.Scan(
		&wh.ID, &wh.UserID, &wh.Name, &wh.URL, &wh.Secret, &wh.Events, &wh.IsActive,
		&wh.MaxAttempts, &wh.TimeoutMs, &headers, &wh.CreatedAt, &wh.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}

	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &wh.Headers); err != nil {
			return nil, fmt.Errorf("failed to parse webhook headers: %w", err)
		}
	}
	return &wh, nil
}
