package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linkforty/linkforty/internal/models"
)

// ErrNotFound is returned when a requested row does not exist, is inactive,
// or is expired. Callers translate it to a uniform 404.
var ErrNotFound = errors.New("not found")

// ErrDuplicateShortCode is returned when a link insert collides with the
// unique short-code index. Link creation retries with a fresh random code.
var ErrDuplicateShortCode = errors.New("short code already exists")

// ErrDuplicateSlug is returned when a template insert collides with the
// unique slug index.
var ErrDuplicateSlug = errors.New("template slug already exists")

// LinkRepo persists links and serves the resolver's hot-path lookups.
type LinkRepo interface {
	Create(ctx context.Context, link *models.Link) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Link, error)

	// GetByShortCode returns only active, unexpired links; anything else
	// is ErrNotFound.
	GetByShortCode(ctx context.Context, code string) (*models.Link, error)

	// GetBySlugAndCode additionally verifies the link's template slug.
	GetBySlugAndCode(ctx context.Context, slug, code string) (*models.Link, error)

	Update(ctx context.Context, link *models.Link) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TemplateRepo persists short-code namespaces.
type TemplateRepo interface {
	Create(ctx context.Context, tpl *models.Template) error
	GetBySlug(ctx context.Context, slug string) (*models.Template, error)
}

// AttributionCandidate is one recent click joined to its fingerprint and
// its link's attribution window, as scanned by the attribution engine.
type AttributionCandidate struct {
	ClickID     uuid.UUID
	LinkID      uuid.UUID
	OwnerID     *uuid.UUID
	ClickedAt   time.Time
	WindowHours int
	Signals     models.FingerprintSignals
}

// ClickRepo persists click events and their fingerprints, and serves the
// attribution engine's candidate scan.
type ClickRepo interface {
	InsertClick(ctx context.Context, click *models.ClickEvent) error
	InsertFingerprint(ctx context.Context, fp *models.DeviceFingerprint) error
	GetClick(ctx context.Context, id uuid.UUID) (*models.ClickEvent, error)

	// RecentCandidates returns clicks joined to fingerprints and links,
	// newest first, clicked after since, at most limit rows.
	RecentCandidates(ctx context.Context, since time.Time, limit int) ([]AttributionCandidate, error)
}

// InstallRepo persists install events and their in-app events.
type InstallRepo interface {
	Insert(ctx context.Context, install *models.InstallEvent) error

	// SetDeepLinkData attaches the deep-link payload and marks the
	// install retrieved. The single permitted mutation.
	SetDeepLinkData(ctx context.Context, id uuid.UUID, data map[string]any) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.InstallEvent, error)

	// GetByFingerprint returns the most recent install for a fingerprint hash.
	GetByFingerprint(ctx context.Context, hash string) (*models.InstallEvent, error)

	InsertInAppEvent(ctx context.Context, event *models.InAppEvent) error
}

// WebhookRepo persists webhook configurations and delivery logs.
type WebhookRepo interface {
	Create(ctx context.Context, wh *models.Webhook) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Webhook, error)
	Update(ctx context.Context, wh *models.Webhook) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListActiveForEvent returns active webhooks owned by ownerID that
	// subscribe to the given event type.
	ListActiveForEvent(ctx context.Context, ownerID uuid.UUID, event string) ([]*models.Webhook, error)

	InsertDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// Store bundles the repositories sharing one connection pool.
type Store struct {
	Links     LinkRepo
	Templates TemplateRepo
	Clicks    ClickRepo
	Installs  InstallRepo
	Webhooks  WebhookRepo
}

// NewPostgresStore creates the Postgres-backed repository bundle.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Links:     NewPostgresLinkRepo(pool),
		Templates: NewPostgresTemplateRepo(pool),
		Clicks:    NewPostgresClickRepo(pool),
		Installs:  NewPostgresInstallRepo(pool),
		Webhooks:  NewPostgresWebhookRepo(pool),
	}
}
