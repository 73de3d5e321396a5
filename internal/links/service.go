package links

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/cache"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/storage"
	"go.uber.org/zap"
)

// createAttempts bounds the retry loop against short-code collisions when
// generating random codes.
const createAttempts = 10

// Service manages link configuration. Every mutation invalidates the
// resolver's cache entries for the link.
type Service struct {
	links     storage.LinkRepo
	templates storage.TemplateRepo
	cache     *cache.LinkCache
	logger    *zap.Logger
}

// NewService creates a link management service.
func NewService(links storage.LinkRepo, templates storage.TemplateRepo, c *cache.LinkCache, logger *zap.Logger) *Service {
	return &Service{
		links:     links,
		templates: templates,
		cache:     c,
		logger:    logger,
	}
}

// Create stores a new link. When the request carries no short code, random
// codes are generated and retried against the unique index.
func (s *Service) Create(ctx context.Context, req *models.CreateLinkRequest) (*models.Link, error) {
	link, err := s.buildLink(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.ShortCode != "" {
		link.ShortCode = req.ShortCode
		if err := link.Validate(); err != nil {
			return nil, err
		}
		if err := s.links.Create(ctx, link); err != nil {
			return nil, err
		}
		s.logger.Info("link created",
			zap.String("link_id", link.ID.String()),
			zap.String("short_code", link.ShortCode))
		return link, nil
	}

	for attempt := 1; attempt <= createAttempts; attempt++ {
		code, err := NewShortCode()
		if err != nil {
			return nil, err
		}
		link.ShortCode = code
		if err := link.Validate(); err != nil {
			return nil, err
		}
		err = s.links.Create(ctx, link)
		if err == nil {
			s.logger.Info("link created",
				zap.String("link_id", link.ID.String()),
				zap.String("short_code", link.ShortCode),
				zap.Int("attempt", attempt))
			return link, nil
		}
		if !errors.Is(err, storage.ErrDuplicateShortCode) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to generate a unique short code after %d attempts", createAttempts)
}

func (s *Service) buildLink(ctx context.Context, req *models.CreateLinkRequest) (*models.Link, error) {
	now := time.Now().UTC()
	link := &models.Link{
		ID:     uuid.New(),
		UserID: req.UserID,

		OriginalURL: req.OriginalURL,

		IOSAppStoreURL:      req.IOSAppStoreURL,
		AndroidPlayStoreURL: req.AndroidPlayStoreURL,
		WebFallbackURL:      req.WebFallbackURL,
		IOSUniversalLink:    req.IOSUniversalLink,
		AndroidAppLink:      req.AndroidAppLink,

		AppScheme:          req.AppScheme,
		DeepLinkPath:       req.DeepLinkPath,
		DeepLinkParameters: req.DeepLinkParameters,

		OGTitle:       req.OGTitle,
		OGDescription: req.OGDescription,
		OGImageURL:    req.OGImageURL,

		UTMParameters: req.UTMParameters,
		Targeting:     req.Targeting,

		AttributionWindowHours: models.AttributionWindowDefault,
		IsActive:               true,
		ExpiresAt:              req.ExpiresAt,

		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.AttributionWindowHours != nil {
		link.AttributionWindowHours = *req.AttributionWindowHours
	}

	if req.TemplateSlug != nil && *req.TemplateSlug != "" {
		tpl, err := s.templates.GetBySlug(ctx, *req.TemplateSlug)
		if err != nil {
			return nil, err
		}
		link.TemplateID = &tpl.ID
		link.TemplateSlug = &tpl.Slug
	}

	return link, nil
}

// Get returns a link by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	return s.links.GetByID(ctx, id)
}

// Update persists the link and invalidates its cache entries so resolvers
// never serve a stale row beyond this point.
func (s *Service) Update(ctx context.Context, link *models.Link) error {
	if err := link.Validate(); err != nil {
		return err
	}
	link.UpdatedAt = time.Now().UTC()
	if err := s.links.Update(ctx, link); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, link)
	return nil
}

// Delete removes the link and invalidates its cache entries.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.links.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, link)
	return nil
}

// CreateTemplate stores a new short-code namespace.
func (s *Service) CreateTemplate(ctx context.Context, slug, name string) (*models.Template, error) {
	tpl := &models.Template{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}
