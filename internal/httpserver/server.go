// Package httpserver wires the public redirect surface, the SDK API, and
// the thin management API onto one router.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/attribution"
	"github.com/linkforty/linkforty/internal/cache"
	"github.com/linkforty/linkforty/internal/clicks"
	"github.com/linkforty/linkforty/internal/config"
	"github.com/linkforty/linkforty/internal/database"
	"github.com/linkforty/linkforty/internal/eventbus"
	"github.com/linkforty/linkforty/internal/geo"
	"github.com/linkforty/linkforty/internal/links"
	"github.com/linkforty/linkforty/internal/metrics"
	"github.com/linkforty/linkforty/internal/middleware"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/resolver"
	"github.com/linkforty/linkforty/internal/storage"
	"github.com/linkforty/linkforty/internal/useragent"
	"github.com/linkforty/linkforty/internal/webhook"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	// Ctx is the process lifetime context bounding background work.
	Ctx     context.Context
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server holds the handlers' shared services.
type Server struct {
	resolver       *resolver.Resolver
	recorder       *clicks.Recorder
	engine         *attribution.Engine
	linkService    *links.Service
	webhookService *webhook.Service
	dispatcher     *webhook.Dispatcher
	bus            *eventbus.Bus
	db             *database.PostgresDB
	logger         *zap.Logger
	config         *config.Config
	metrics        *metrics.Metrics
}

// NewServer constructs an http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	ctx := deps.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var store *storage.Store
	if deps.DB != nil {
		store = storage.NewPostgresStore(deps.DB.Pool)
	} else {
		store = storage.NewMemoryStore()
	}

	linkCache := cache.NewLinkCache(nil, deps.Logger)
	if deps.Redis != nil {
		linkCache = cache.NewLinkCache(deps.Redis.Client, deps.Logger)
	}

	var geoProvider geo.Provider = geo.NoopProvider{}
	if deps.Config.Geo.Enabled {
		p, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider, lookups disabled", zap.Error(err))
		} else {
			geoProvider = p
		}
	}

	bus := eventbus.NewBus(deps.Logger)
	if m := deps.Metrics; m != nil {
		bus.OnDrop(func() { m.BusDroppedEvents.Inc() })
		bus.OnSubscriberChange(func(n int) { m.BusSubscribers.Set(float64(n)) })
	}

	dispatcher := webhook.NewDispatcher(ctx, store.Webhooks, deps.Logger, deps.Metrics)

	s := &Server{
		resolver:       resolver.NewResolver(store.Links, linkCache, geoProvider, deps.Logger, deps.Metrics),
		recorder:       clicks.NewRecorder(ctx, store.Clicks, bus, dispatcher, deps.Logger, deps.Metrics),
		engine:         attribution.NewEngine(store.Clicks, store.Installs, store.Links, dispatcher, deps.Logger, deps.Metrics),
		linkService:    links.NewService(store.Links, store.Templates, linkCache, deps.Logger),
		webhookService: webhook.NewService(store.Webhooks, deps.Logger),
		dispatcher:     dispatcher,
		bus:            bus,
		db:             deps.DB,
		logger:         deps.Logger,
		config:         deps.Config,
		metrics:        deps.Metrics,
	}

	r := chi.NewRouter()

	recovery := middleware.NewRecoveryMiddleware(deps.Logger)
	logging := middleware.NewLoggingMiddleware(deps.Logger)
	rateLimit := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger)
	r.Use(recovery.Handler, logging.Handler, rateLimit.Handler)

	r.Get("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		r.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/links", s.handleCreateLink)
		r.Get("/links/{id}", s.handleGetLink)
		r.Put("/links/{id}", s.handleUpdateLink)
		r.Delete("/links/{id}", s.handleDeleteLink)
		r.Post("/templates", s.handleCreateTemplate)

		r.Post("/webhooks", s.handleCreateWebhook)
		r.Get("/webhooks/{id}", s.handleGetWebhook)
		r.Delete("/webhooks/{id}", s.handleDeleteWebhook)
		r.Post("/webhooks/{id}/rotate-secret", s.handleRotateWebhookSecret)
		r.Post("/webhooks/{id}/test", s.handleTestWebhook)
	})

	r.Route("/api/sdk/v1", func(r chi.Router) {
		r.Post("/install", s.handleInstall)
		r.Get("/attribution/{fingerprint}", s.handleAttribution)
		r.Post("/event", s.handleInAppEvent)
		r.Get("/resolve/{code}", s.handleSDKResolve)
		r.Get("/resolve/{slug}/{code}", s.handleSDKResolve)
	})

	r.Get("/api/debug/live", s.handleLiveStream)

	r.Get("/{code}/preview", s.handlePreview)
	r.Get("/{code}", s.handleRedirect)
	r.Get("/{slug}/{code}", s.handleRedirect)

	return r
}

// ---- Health ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.db != nil {
		if err := s.db.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		}
	}
	s.jsonResponse(w, http.StatusOK, status)
}

// ---- Public resolution ----

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	req := s.resolveRequest(r)

	// Scrapers get preview HTML and leave no click behind.
	if useragent.IsSocialScraper(req.UserAgent) {
		link, err := s.resolver.Lookup(r.Context(), req.Slug, req.Code)
		if err != nil {
			s.resolveError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := resolver.RenderOG(w, resolver.NewOGData(link)); err != nil {
			s.logger.Error("failed to render scraper page", zap.Error(err))
		}
		return
	}

	dec, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		s.resolveError(w, err)
		return
	}

	if dec.Interstitial != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := resolver.RenderInterstitial(w, dec.Interstitial); err != nil {
			s.logger.Error("failed to render interstitial", zap.Error(err))
		}
	} else {
		http.Redirect(w, r, dec.URL, http.StatusFound)
	}

	s.recorder.Record(dec, req)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req := s.resolveRequest(r)

	link, err := s.resolver.Lookup(r.Context(), req.Slug, req.Code)
	if err != nil {
		s.resolveError(w, err)
		return
	}

	og := resolver.NewOGData(link)
	og.RefreshURL, _ = resolver.SelectDestination(link, models.DeviceWeb)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resolver.RenderOG(w, og); err != nil {
		s.logger.Error("failed to render preview page", zap.Error(err))
	}
}

func (s *Server) handleSDKResolve(w http.ResponseWriter, r *http.Request) {
	req := s.resolveRequest(r)

	dec, payload, err := s.resolver.ResolveSDK(r.Context(), req)
	if err != nil {
		s.resolveError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, payload)
	s.recorder.Record(dec, req)
}

func (s *Server) resolveRequest(r *http.Request) *resolver.Request {
	return &resolver.Request{
		Code:           chi.URLParam(r, "code"),
		Slug:           chi.URLParam(r, "slug"),
		IPAddress:      middleware.ClientIP(r),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Referer:        r.Referer(),
		Query:          r.URL.Query(),
	}
}

func (s *Server) resolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, resolver.ErrNotFound) {
		s.errorResponse(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error("resolution failed", zap.Error(err))
	s.errorResponse(w, "internal error", http.StatusInternalServerError)
}

// ---- SDK attribution ----

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req models.InstallRequest
	if err := models.DecodeAndValidate(r.Body, &req); err != nil {
		s.validationError(w, err)
		return
	}

	resp, err := s.engine.RecordInstall(r.Context(), &req, middleware.ClientIP(r))
	if err != nil {
		s.logger.Error("failed to record install", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleAttribution(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "fingerprint")

	install, err := s.engine.GetAttribution(r.Context(), hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorResponse(w, "not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to fetch attribution", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusOK, install)
}

func (s *Server) handleInAppEvent(w http.ResponseWriter, r *http.Request) {
	var req models.InAppEventRequest
	if err := models.DecodeAndValidate(r.Body, &req); err != nil {
		s.validationError(w, err)
		return
	}

	event, err := s.engine.RecordInAppEvent(r.Context(), &req)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorResponse(w, "install not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to record in-app event", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusOK, event)
}

// ---- Link management ----

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req models.CreateLinkRequest
	if err := models.DecodeAndValidate(r.Body, &req); err != nil {
		s.validationError(w, err)
		return
	}

	link, err := s.linkService.Create(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateShortCode):
			s.errorResponse(w, "short code already exists", http.StatusConflict)
		case errors.Is(err, storage.ErrNotFound):
			s.errorResponse(w, "template not found", http.StatusBadRequest)
		default:
			s.logger.Error("failed to create link", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	s.jsonResponse(w, http.StatusCreated, link)
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	link, err := s.linkService.Get(r.Context(), id)
	if err != nil {
		s.storageError(w, err, "failed to get link")
		return
	}
	s.jsonResponse(w, http.StatusOK, link)
}

func (s *Server) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	link, err := s.linkService.Get(r.Context(), id)
	if err != nil {
		s.storageError(w, err, "failed to get link")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(link); err != nil {
		s.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	link.ID = id

	if err := s.linkService.Update(r.Context(), link); err != nil {
		s.storageError(w, err, "failed to update link")
		return
	}
	s.jsonResponse(w, http.StatusOK, link)
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := s.linkService.Delete(r.Context(), id); err != nil {
		s.storageError(w, err, "failed to delete link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		s.errorResponse(w, "slug is required", http.StatusBadRequest)
		return
	}

	tpl, err := s.linkService.CreateTemplate(r.Context(), req.Slug, req.Name)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateSlug) {
			s.errorResponse(w, "slug already exists", http.StatusConflict)
			return
		}
		s.logger.Error("failed to create template", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusCreated, tpl)
}

// ---- Webhook management ----

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWebhookRequest
	if err := models.DecodeAndValidate(r.Body, &req); err != nil {
		s.validationError(w, err)
		return
	}

	result, err := s.webhookService.Create(r.Context(), &req)
	if err != nil {
		s.logger.Error("failed to create webhook", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The secret is exposed exactly once, here.
	s.jsonResponse(w, http.StatusCreated, map[string]any{
		"webhook": result.Webhook,
		"secret":  result.Secret,
	})
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	wh, err := s.webhookService.Get(r.Context(), id)
	if err != nil {
		s.storageError(w, err, "failed to get webhook")
		return
	}
	s.jsonResponse(w, http.StatusOK, wh)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := s.webhookService.Delete(r.Context(), id); err != nil {
		s.storageError(w, err, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	secret, err := s.webhookService.RotateSecret(r.Context(), id)
	if err != nil {
		s.storageError(w, err, "failed to rotate webhook secret")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"secret": secret})
}

func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	wh, err := s.webhookService.Get(r.Context(), id)
	if err != nil {
		s.storageError(w, err, "failed to get webhook")
		return
	}

	delivery, err := s.dispatcher.TestDelivery(r.Context(), wh)
	if err != nil {
		s.logger.Error("webhook test delivery failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusOK, delivery)
}

// ---- Helpers ----

func (s *Server) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.errorResponse(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) storageError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, storage.ErrNotFound) {
		s.errorResponse(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error(msg, zap.Error(err))
	s.errorResponse(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) validationError(w http.ResponseWriter, err error) {
	var ve models.ValidationErrors
	if errors.As(err, &ve) {
		s.jsonResponse(w, http.StatusBadRequest, ve)
		return
	}
	s.errorResponse(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
