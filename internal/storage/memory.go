package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/models"
)

// In-memory repositories back the store when PostgreSQL is unavailable
// (development mode) and serve as fakes in tests.

// NewMemoryStore bundles fresh in-memory repositories.
func NewMemoryStore() *Store {
	links := NewMemoryLinkRepo()
	clicks := NewMemoryClickRepo()
	clicks.BindLinks(links)
	return &Store{
		Links:     links,
		Templates: NewMemoryTemplateRepo(),
		Clicks:    clicks,
		Installs:  NewMemoryInstallRepo(),
		Webhooks:  NewMemoryWebhookRepo(),
	}
}

// MemoryLinkRepo provides in-memory storage for links.
type MemoryLinkRepo struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*models.Link
	byCode map[string]uuid.UUID
}

func NewMemoryLinkRepo() *MemoryLinkRepo {
	return &MemoryLinkRepo{
		byID:   make(map[uuid.UUID]*models.Link),
		byCode: make(map[string]uuid.UUID),
	}
}

func (r *MemoryLinkRepo) Create(_ context.Context, link *models.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[link.ShortCode]; exists {
		return ErrDuplicateShortCode
	}
	cp := *link
	r.byID[link.ID] = &cp
	r.byCode[link.ShortCode] = link.ID
	return nil
}

func (r *MemoryLinkRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (r *MemoryLinkRepo) GetByShortCode(_ context.Context, code string) (*models.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupResolvable(code, nil)
}

func (r *MemoryLinkRepo) GetBySlugAndCode(_ context.Context, slug, code string) (*models.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupResolvable(code, &slug)
}

func (r *MemoryLinkRepo) lookupResolvable(code string, slug *string) (*models.Link, error) {
	id, ok := r.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	link := r.byID[id]
	if !link.Resolvable(time.Now()) {
		return nil, ErrNotFound
	}
	if slug != nil && (link.TemplateSlug == nil || *link.TemplateSlug != *slug) {
		return nil, ErrNotFound
	}
	cp := *link
	return &cp, nil
}

// attributionMeta returns the attribution window and owner for a link
// under the repo's own lock; candidate scans from the click repo must not
// touch byID directly.
func (r *MemoryLinkRepo) attributionMeta(id uuid.UUID) (windowHours int, owner *uuid.UUID, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.byID[id]
	if !ok {
		return 0, nil, false
	}
	return link.AttributionWindowHours, link.UserID, true
}

func (r *MemoryLinkRepo) Update(_ context.Context, link *models.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[link.ID]; !ok {
		return ErrNotFound
	}
	cp := *link
	cp.UpdatedAt = time.Now().UTC()
	r.byID[link.ID] = &cp
	return nil
}

func (r *MemoryLinkRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byCode, link.ShortCode)
	delete(r.byID, id)
	return nil
}

// MemoryTemplateRepo provides in-memory storage for templates.
type MemoryTemplateRepo struct {
	mu     sync.RWMutex
	bySlug map[string]*models.Template
}

func NewMemoryTemplateRepo() *MemoryTemplateRepo {
	return &MemoryTemplateRepo{bySlug: make(map[string]*models.Template)}
}

func (r *MemoryTemplateRepo) Create(_ context.Context, tpl *models.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySlug[tpl.Slug]; exists {
		return ErrDuplicateSlug
	}
	cp := *tpl
	r.bySlug[tpl.Slug] = &cp
	return nil
}

func (r *MemoryTemplateRepo) GetBySlug(_ context.Context, slug string) (*models.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.bySlug[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tpl
	return &cp, nil
}

// MemoryClickRepo provides in-memory storage for click events and
// fingerprints. Candidate scans need link metadata, so the repo holds a
// reference to the link repo it was created with.
type MemoryClickRepo struct {
	mu           sync.RWMutex
	clicks       map[uuid.UUID]*models.ClickEvent
	fingerprints map[uuid.UUID]*models.DeviceFingerprint // keyed by click id
	links        *MemoryLinkRepo
}

func NewMemoryClickRepo() *MemoryClickRepo {
	return &MemoryClickRepo{
		clicks:       make(map[uuid.UUID]*models.ClickEvent),
		fingerprints: make(map[uuid.UUID]*models.DeviceFingerprint),
	}
}

// BindLinks attaches the link repo used to resolve attribution windows
// during candidate scans.
func (r *MemoryClickRepo) BindLinks(links *MemoryLinkRepo) {
	r.links = links
}

func (r *MemoryClickRepo) InsertClick(_ context.Context, click *models.ClickEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *click
	r.clicks[click.ID] = &cp
	return nil
}

func (r *MemoryClickRepo) InsertFingerprint(_ context.Context, fp *models.DeviceFingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *fp
	r.fingerprints[fp.ClickID] = &cp
	return nil
}

func (r *MemoryClickRepo) GetClick(_ context.Context, id uuid.UUID) (*models.ClickEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	click, ok := r.clicks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *click
	return &cp, nil
}

func (r *MemoryClickRepo) RecentCandidates(_ context.Context, since time.Time, limit int) ([]AttributionCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []AttributionCandidate
	for id, click := range r.clicks {
		if !click.ClickedAt.After(since) {
			continue
		}
		fp, ok := r.fingerprints[id]
		if !ok {
			continue
		}
		c := AttributionCandidate{
			ClickID:     click.ID,
			LinkID:      click.LinkID,
			ClickedAt:   click.ClickedAt,
			WindowHours: models.AttributionWindowDefault,
			Signals:     fp.FingerprintSignals,
		}
		if r.links != nil {
			if window, owner, ok := r.links.attributionMeta(click.LinkID); ok {
				c.WindowHours = window
				c.OwnerID = owner
			}
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ClickedAt.After(candidates[j].ClickedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// MemoryInstallRepo provides in-memory storage for install events.
type MemoryInstallRepo struct {
	mu       sync.RWMutex
	installs map[uuid.UUID]*models.InstallEvent
	events   map[uuid.UUID][]*models.InAppEvent // keyed by install id
}

func NewMemoryInstallRepo() *MemoryInstallRepo {
	return &MemoryInstallRepo{
		installs: make(map[uuid.UUID]*models.InstallEvent),
		events:   make(map[uuid.UUID][]*models.InAppEvent),
	}
}

func (r *MemoryInstallRepo) Insert(_ context.Context, install *models.InstallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *install
	r.installs[install.ID] = &cp
	return nil
}

func (r *MemoryInstallRepo) SetDeepLinkData(_ context.Context, id uuid.UUID, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	install, ok := r.installs[id]
	if !ok {
		return ErrNotFound
	}
	install.DeepLinkData = data
	install.Retrieved = true
	return nil
}

func (r *MemoryInstallRepo) GetByID(_ context.Context, id uuid.UUID) (*models.InstallEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	install, ok := r.installs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *install
	return &cp, nil
}

func (r *MemoryInstallRepo) GetByFingerprint(_ context.Context, hash string) (*models.InstallEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.InstallEvent
	for _, install := range r.installs {
		if install.FingerprintHash != hash {
			continue
		}
		if latest == nil || install.InstalledAt.After(latest.InstalledAt) {
			latest = install
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryInstallRepo) InsertInAppEvent(_ context.Context, event *models.InAppEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *event
	r.events[event.InstallID] = append(r.events[event.InstallID], &cp)
	return nil
}

// MemoryWebhookRepo provides in-memory storage for webhooks and their
// delivery logs.
type MemoryWebhookRepo struct {
	mu         sync.RWMutex
	webhooks   map[uuid.UUID]*models.Webhook
	deliveries []*models.WebhookDelivery
}

func NewMemoryWebhookRepo() *MemoryWebhookRepo {
	return &MemoryWebhookRepo{webhooks: make(map[uuid.UUID]*models.Webhook)}
}

func (r *MemoryWebhookRepo) Create(_ context.Context, wh *models.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *wh
	r.webhooks[wh.ID] = &cp
	return nil
}

func (r *MemoryWebhookRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wh, ok := r.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wh
	return &cp, nil
}

func (r *MemoryWebhookRepo) Update(_ context.Context, wh *models.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.webhooks[wh.ID]; !ok {
		return ErrNotFound
	}
	cp := *wh
	cp.UpdatedAt = time.Now().UTC()
	r.webhooks[wh.ID] = &cp
	return nil
}

func (r *MemoryWebhookRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(r.webhooks, id)
	return nil
}

func (r *MemoryWebhookRepo) ListActiveForEvent(_ context.Context, ownerID uuid.UUID, event string) ([]*models.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Webhook
	for _, wh := range r.webhooks {
		if !wh.IsActive || wh.UserID == nil || *wh.UserID != ownerID {
			continue
		}
		if wh.SubscribedTo(event) {
			cp := *wh
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryWebhookRepo) InsertDelivery(_ context.Context, d *models.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *d
	r.deliveries = append(r.deliveries, &cp)
	return nil
}

// Deliveries returns a snapshot of the delivery log, newest last.
func (r *MemoryWebhookRepo) Deliveries() []*models.WebhookDelivery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.WebhookDelivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}
