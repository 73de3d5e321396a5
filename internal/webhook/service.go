package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/storage"
	"go.uber.org/zap"
)

// secretBytes is the length of a webhook signing secret before hex encoding.
const secretBytes = 32

// Service manages webhook configurations.
type Service struct {
	repo   storage.WebhookRepo
	logger *zap.Logger
}

// NewService creates a webhook management service.
func NewService(repo storage.WebhookRepo, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create stores a new webhook with a freshly generated signing secret.
// The secret is returned exactly once in CreateResult and never re-exposed.
func (s *Service) Create(ctx context.Context, req *models.CreateWebhookRequest) (*CreateResult, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	now := time.Now().UTC()
	wh := &models.Webhook{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Name:        req.Name,
		URL:         req.URL,
		Secret:      secret,
		Events:      req.Events,
		IsActive:    true,
		MaxAttempts: models.WebhookMaxAttemptsDefault,
		TimeoutMs:   models.WebhookTimeoutMsDefault,
		Headers:     req.Headers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.MaxAttempts != nil {
		wh.MaxAttempts = *req.MaxAttempts
	}
	if req.TimeoutMs != nil {
		wh.TimeoutMs = *req.TimeoutMs
	}

	if err := wh.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, wh); err != nil {
		return nil, err
	}

	s.logger.Info("webhook created",
		zap.String("webhook_id", wh.ID.String()),
		zap.String("url", wh.URL),
		zap.Strings("events", wh.Events))

	return &CreateResult{Webhook: wh, Secret: secret}, nil
}

// CreateResult carries the one-time secret alongside the stored webhook.
type CreateResult struct {
	Webhook *models.Webhook
	Secret  string
}

// Get returns a webhook by ID. The secret is excluded from JSON encoding.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	return s.repo.GetByID(ctx, id)
}

// Update applies mutable fields and persists the webhook. The secret is
// not updatable through this path; use RotateSecret.
func (s *Service) Update(ctx context.Context, wh *models.Webhook) error {
	if err := wh.Validate(); err != nil {
		return err
	}
	wh.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, wh)
}

// Delete removes a webhook.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// RotateSecret replaces the webhook's signing secret and returns the new
// secret. This is the only way to obtain a secret after creation.
func (s *Service) RotateSecret(ctx context.Context, id uuid.UUID) (string, error) {
	wh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	secret, err := newSecret()
	if err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	wh.Secret = secret
	wh.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, wh); err != nil {
		return "", err
	}

	s.logger.Info("webhook secret rotated", zap.String("webhook_id", id.String()))
	return secret, nil
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
