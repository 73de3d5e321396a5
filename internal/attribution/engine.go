package attribution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/metrics"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/storage"
	"github.com/linkforty/linkforty/internal/webhook"
	"go.uber.org/zap"
)

// candidateLimit bounds the number of recent clicks scored per install
// report.
const candidateLimit = 1000

// Engine matches install reports to recent clicks and records conversion
// events.
type Engine struct {
	clicks     storage.ClickRepo
	installs   storage.InstallRepo
	links      storage.LinkRepo
	dispatcher *webhook.Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewEngine creates an attribution engine.
func NewEngine(clicks storage.ClickRepo, installs storage.InstallRepo, links storage.LinkRepo, dispatcher *webhook.Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		clicks:     clicks,
		installs:   installs,
		links:      links,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
	}
}

// RecordInstall matches the reported device signals against recent clicks
// and persists the install, attributed or organic.
func (e *Engine) RecordInstall(ctx context.Context, req *models.InstallRequest, remoteIP string) (*models.InstallResponse, error) {
	signals := req.Signals()
	if signals.IPAddress == "" {
		signals.IPAddress = remoteIP
	}

	window := models.AttributionWindowDefault
	if req.AttributionWindowHours != nil {
		window = *req.AttributionWindowHours
	}

	now := time.Now().UTC()
	since := now.Add(-time.Duration(models.AttributionWindowMax) * time.Hour)
	candidates, err := e.clicks.RecentCandidates(ctx, since, candidateLimit)
	if err != nil {
		return nil, err
	}

	best, bestScore := e.selectCandidate(candidates, signals, window, now)

	install := &models.InstallEvent{
		ID:                     uuid.New(),
		FingerprintHash:        HashSignals(signals),
		InstalledAt:            now,
		FirstOpenedAt:          now,
		AttributionWindowHours: window,
		FingerprintSignals:     signals,
		DeviceID:               req.DeviceID,
		DeepLinkData:           map[string]any{},
	}

	resp := &models.InstallResponse{
		InstallID:      install.ID,
		MatchedFactors: []string{},
		DeepLinkData:   map[string]any{},
	}

	if best != nil {
		install.LinkID = &best.LinkID
		install.ClickID = &best.ClickID
		install.ConfidenceScore = &bestScore
		resp.Attributed = true
		resp.ConfidenceScore = bestScore
		resp.MatchedFactors = MatchedFactors(signals, best.Signals)
	}

	if err := e.installs.Insert(ctx, install); err != nil {
		return nil, err
	}
	e.metrics.RecordInstall(resp.Attributed, bestScore)

	if best == nil {
		e.logger.Info("organic install recorded",
			zap.String("install_id", install.ID.String()))
		return resp, nil
	}

	e.logger.Info("install attributed",
		zap.String("install_id", install.ID.String()),
		zap.String("link_id", best.LinkID.String()),
		zap.String("click_id", best.ClickID.String()),
		zap.Float64("score", bestScore))

	link, err := e.links.GetByID(ctx, best.LinkID)
	if err != nil {
		// Attribution stands even if the link row has since vanished.
		e.logger.Warn("failed to load link for deep-link payload",
			zap.String("link_id", best.LinkID.String()), zap.Error(err))
		return resp, nil
	}

	payload := deepLinkPayload(link)
	if err := e.installs.SetDeepLinkData(ctx, install.ID, payload); err != nil {
		e.logger.Error("failed to attach deep-link payload",
			zap.String("install_id", install.ID.String()), zap.Error(err))
	} else {
		install.DeepLinkData = payload
		install.Retrieved = true
		resp.DeepLinkData = payload
	}

	if link.UserID != nil {
		e.dispatcher.Dispatch(*link.UserID, models.EventInstall, install.ID, install)
	}

	return resp, nil
}

// selectCandidate scores candidates against the install signals and returns
// the best match clearing the threshold. Candidates arrive newest first, so
// a strict comparison also implements most-recent tie breaking.
func (e *Engine) selectCandidate(candidates []storage.AttributionCandidate, signals models.FingerprintSignals, window int, now time.Time) (*storage.AttributionCandidate, float64) {
	var best *storage.AttributionCandidate
	var bestScore float64

	for i := range candidates {
		c := &candidates[i]
		age := now.Sub(c.ClickedAt)
		if age > time.Duration(c.WindowHours)*time.Hour {
			continue
		}
		if age > time.Duration(window)*time.Hour {
			continue
		}
		score := ScoreMatch(signals, c.Signals)
		if score >= MatchThreshold && score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// GetAttribution returns the most recent install for a fingerprint hash.
func (e *Engine) GetAttribution(ctx context.Context, fingerprintHash string) (*models.InstallEvent, error) {
	return e.installs.GetByFingerprint(ctx, fingerprintHash)
}

// RecordInAppEvent validates the install, persists one conversion event,
// and fans out to conversion_event webhooks when the install is attributed.
func (e *Engine) RecordInAppEvent(ctx context.Context, req *models.InAppEventRequest) (*models.InAppEvent, error) {
	install, err := e.installs.GetByID(ctx, req.InstallID)
	if err != nil {
		return nil, err
	}

	eventTime := time.Now().UTC()
	if req.Timestamp != nil {
		eventTime = req.Timestamp.UTC()
	}

	event := &models.InAppEvent{
		ID:         uuid.New(),
		InstallID:  install.ID,
		EventName:  req.EventName,
		Properties: req.Properties,
		EventTime:  eventTime,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.installs.InsertInAppEvent(ctx, event); err != nil {
		return nil, err
	}
	e.metrics.RecordInAppEvent()

	if install.Attributed() {
		link, err := e.links.GetByID(ctx, *install.LinkID)
		if err != nil {
			e.logger.Warn("failed to load link for conversion fan-out",
				zap.String("link_id", install.LinkID.String()), zap.Error(err))
			return event, nil
		}
		if link.UserID != nil {
			e.dispatcher.Dispatch(*link.UserID, models.EventConversion, event.ID, event)
		}
	}

	return event, nil
}

// deepLinkPayload composes the SDK payload stored on an attributed install.
func deepLinkPayload(l *models.Link) map[string]any {
	payload := map[string]any{
		"short_code":   l.ShortCode,
		"original_url": l.OriginalURL,
	}
	putStr := func(key string, v *string) {
		if v != nil && *v != "" {
			payload[key] = *v
		}
	}
	putStr("ios_universal_link", l.IOSUniversalLink)
	putStr("ios_app_store_url", l.IOSAppStoreURL)
	putStr("android_app_link", l.AndroidAppLink)
	putStr("android_play_store_url", l.AndroidPlayStoreURL)
	putStr("web_fallback_url", l.WebFallbackURL)
	putStr("app_scheme", l.AppScheme)
	putStr("deep_link_path", l.DeepLinkPath)
	if len(l.DeepLinkParameters) > 0 {
		payload["deep_link_parameters"] = l.DeepLinkParameters
	}
	if !l.UTMParameters.IsEmpty() {
		payload["utm_parameters"] = l.UTMParameters
	}
	return payload
}
