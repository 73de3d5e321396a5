// Package clicks persists click events off the request path: one background
// unit per resolution performs the store writes, the event-bus publish, and
// the webhook fan-out, in that order.
package clicks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/attribution"
	"github.com/linkforty/linkforty/internal/eventbus"
	"github.com/linkforty/linkforty/internal/metrics"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/resolver"
	"github.com/linkforty/linkforty/internal/storage"
	"github.com/linkforty/linkforty/internal/webhook"
	"go.uber.org/zap"
)

// Recorder turns resolution decisions into click rows, fingerprints, bus
// events, and webhook deliveries. All work happens on background goroutines
// bound to the process lifetime, never to the originating request.
type Recorder struct {
	clicks     storage.ClickRepo
	bus        *eventbus.Bus
	dispatcher *webhook.Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics

	ctx context.Context
	wg  sync.WaitGroup
}

// NewRecorder creates a click recorder. ctx should be the process lifetime
// context; cancelling it aborts in-flight recording.
func NewRecorder(ctx context.Context, clicks storage.ClickRepo, bus *eventbus.Bus, dispatcher *webhook.Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		clicks:     clicks,
		bus:        bus,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		ctx:        ctx,
	}
}

// Record schedules background persistence for one resolution. It returns
// immediately; the caller's response must not wait on it.
func (r *Recorder) Record(dec *resolver.Decision, req *resolver.Request) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.record(dec, req)
	}()
}

// Wait blocks until all in-flight recording has finished. Used during
// shutdown and in tests.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) record(dec *resolver.Decision, req *resolver.Request) {
	now := time.Now().UTC()
	link := dec.Link

	click := &models.ClickEvent{
		ID:        uuid.New(),
		LinkID:    link.ID,
		ClickedAt: now,

		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Referer:   req.Referer,
		Language:  dec.Language,

		DeviceType:      dec.DeviceClass,
		Platform:        dec.UASignals.Platform,
		PlatformVersion: dec.UASignals.PlatformVersion,
		Browser:         dec.UASignals.Browser,

		UTMSource:   req.Query.Get("utm_source"),
		UTMMedium:   req.Query.Get("utm_medium"),
		UTMCampaign: req.Query.Get("utm_campaign"),

		RedirectURL: dec.URL,
		Reason:      dec.Reason,
	}
	if dec.Location != nil {
		click.CountryCode = dec.Location.CountryCode
		click.CountryName = dec.Location.CountryName
		click.Region = dec.Location.Region
		click.City = dec.Location.City
		click.Latitude = dec.Location.Latitude
		click.Longitude = dec.Location.Longitude
		click.Timezone = dec.Location.Timezone
	}

	if err := r.clicks.InsertClick(r.ctx, click); err != nil {
		r.logger.Error("failed to insert click",
			zap.String("link_id", link.ID.String()), zap.Error(err))
		r.metrics.RecordClickError("click_insert")
		return
	}

	signals := r.fingerprintSignals(click, req)
	fp := &models.DeviceFingerprint{
		ID:                 uuid.New(),
		ClickID:            click.ID,
		FingerprintHash:    attribution.HashSignals(signals),
		FingerprintSignals: signals,
		CreatedAt:          now,
	}
	if err := r.clicks.InsertFingerprint(r.ctx, fp); err != nil {
		r.logger.Error("failed to insert fingerprint",
			zap.String("click_id", click.ID.String()), zap.Error(err))
		r.metrics.RecordClickError("fingerprint_insert")
		return
	}

	r.metrics.RecordClick(dec.Reason)

	r.bus.Publish(eventbus.ClickStreamEvent{
		EventID:          click.ID,
		Timestamp:        now,
		LinkID:           link.ID,
		ShortCode:        link.ShortCode,
		OwnerID:          link.UserID,
		IPAddress:        click.IPAddress,
		UserAgent:        click.UserAgent,
		CountryCode:      click.CountryCode,
		City:             click.City,
		DeviceClass:      click.DeviceType,
		Platform:         click.Platform,
		Language:         click.Language,
		RedirectURL:      click.RedirectURL,
		Reason:           click.Reason,
		TargetingMatched: dec.TargetingMatched,
		UTMSource:        click.UTMSource,
		UTMMedium:        click.UTMMedium,
		UTMCampaign:      click.UTMCampaign,
		Referer:          click.Referer,
	})

	if link.UserID != nil {
		r.dispatcher.Dispatch(*link.UserID, models.EventClick, click.ID, click)
	}
}

// fingerprintSignals derives the fingerprint inputs from the click, letting
// fp_* query parameters supplied by client-side instrumentation override
// server-derived values.
func (r *Recorder) fingerprintSignals(click *models.ClickEvent, req *resolver.Request) models.FingerprintSignals {
	s := models.FingerprintSignals{
		IPAddress:       click.IPAddress,
		UserAgent:       click.UserAgent,
		Timezone:        click.Timezone,
		Language:        click.Language,
		Platform:        click.Platform,
		PlatformVersion: click.PlatformVersion,
	}

	if v := req.Query.Get("fp_tz"); v != "" {
		s.Timezone = v
	}
	if v := req.Query.Get("fp_lang"); v != "" {
		s.Language = v
	}
	if v := req.Query.Get("fp_sw"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.ScreenWidth = n
		}
	}
	if v := req.Query.Get("fp_sh"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.ScreenHeight = n
		}
	}
	if v := req.Query.Get("fp_platform"); v != "" {
		s.Platform = v
	}
	if v := req.Query.Get("fp_pv"); v != "" {
		s.PlatformVersion = v
	}

	return s
}
