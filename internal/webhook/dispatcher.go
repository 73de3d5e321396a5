// Package webhook delivers signed event notifications to user-configured
// HTTP endpoints with bounded retries, and manages webhook configurations.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/metrics"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/storage"
	"go.uber.org/zap"
)

const (
	userAgent       = "LinkForty-Webhook/1.0"
	signaturePrefix = "sha256="
	maxLoggedBody   = 1000
	maxBackoff      = 30 * time.Second
)

// Payload is the envelope POSTed to webhook endpoints. It is serialized
// once per event so every attempt and every endpoint signs identical bytes.
type Payload struct {
	Event     string    `json:"event"`
	EventID   uuid.UUID `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Dispatcher fans events out to subscribed webhooks. Delivery happens on
// background goroutines detached from the originating request.
type Dispatcher struct {
	repo    storage.WebhookRepo
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics

	ctx context.Context // process lifetime, bounds in-flight deliveries
	wg  sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher. ctx should be the process
// lifetime context; cancellation aborts in-flight deliveries.
func NewDispatcher(ctx context.Context, repo storage.WebhookRepo, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		client:  &http.Client{},
		logger:  logger,
		metrics: m,
		ctx:     ctx,
	}
}

// Dispatch delivers the event to every active webhook of ownerID subscribed
// to the event type. Returns immediately; deliveries run in the background.
func (d *Dispatcher) Dispatch(ownerID uuid.UUID, event string, eventID uuid.UUID, data any) {
	hooks, err := d.repo.ListActiveForEvent(d.ctx, ownerID, event)
	if err != nil {
		d.logger.Error("failed to list webhooks for event",
			zap.String("event", event),
			zap.String("owner_id", ownerID.String()),
			zap.Error(err))
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(Payload{
		Event:     event,
		EventID:   eventID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		d.logger.Error("failed to marshal webhook payload",
			zap.String("event", event), zap.Error(err))
		return
	}

	for _, wh := range hooks {
		wh := wh
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliverWithRetries(wh, event, eventID, body)
		}()
	}
}

// Wait blocks until all in-flight deliveries have finished. Used during
// shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// TestDelivery performs a single synchronous delivery attempt with a test
// payload, logs it, and returns the outcome. Used by the webhook test
// endpoint.
func (d *Dispatcher) TestDelivery(ctx context.Context, wh *models.Webhook) (*models.WebhookDelivery, error) {
	eventID := uuid.New()
	body, err := json.Marshal(Payload{
		Event:     "test_event",
		EventID:   eventID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"webhook_id": wh.ID, "message": "test delivery"},
	})
	if err != nil {
		return nil, err
	}

	delivery := d.attempt(ctx, wh, "test_event", eventID, body, 1)
	if err := d.repo.InsertDelivery(ctx, delivery); err != nil {
		d.logger.Error("failed to log webhook test delivery",
			zap.String("webhook_id", wh.ID.String()), zap.Error(err))
	}
	return delivery, nil
}

func (d *Dispatcher) deliverWithRetries(wh *models.Webhook, event string, eventID uuid.UUID, body []byte) {
	maxAttempts := wh.MaxAttempts
	if maxAttempts < models.WebhookMaxAttemptsMin || maxAttempts > models.WebhookMaxAttemptsMax {
		maxAttempts = models.WebhookMaxAttemptsDefault
	}

	for n := 1; n <= maxAttempts; n++ {
		delivery := d.attempt(d.ctx, wh, event, eventID, body, n)
		if err := d.repo.InsertDelivery(d.ctx, delivery); err != nil {
			d.logger.Error("failed to log webhook delivery",
				zap.String("webhook_id", wh.ID.String()), zap.Error(err))
		}
		if delivery.Success {
			return
		}
		if n == maxAttempts {
			d.logger.Warn("webhook delivery exhausted retries",
				zap.String("webhook_id", wh.ID.String()),
				zap.String("event", event),
				zap.Int("attempts", maxAttempts))
			return
		}
		select {
		case <-time.After(backoff(n)):
		case <-d.ctx.Done():
			return
		}
	}
}

// attempt performs one HTTP delivery and returns the delivery record.
func (d *Dispatcher) attempt(ctx context.Context, wh *models.Webhook, event string, eventID uuid.UUID, body []byte, n int) *models.WebhookDelivery {
	delivery := &models.WebhookDelivery{
		ID:          uuid.New(),
		WebhookID:   wh.ID,
		EventType:   event,
		EventID:     eventID,
		Attempt:     n,
		DeliveredAt: time.Now().UTC(),
	}

	timeout := time.Duration(wh.TimeoutMs) * time.Millisecond
	if wh.TimeoutMs < models.WebhookTimeoutMsMin || wh.TimeoutMs > models.WebhookTimeoutMsMax {
		timeout = time.Duration(models.WebhookTimeoutMsDefault) * time.Millisecond
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status, respBody, err := d.send(attemptCtx, wh, event, eventID, body)
	elapsed := time.Since(start)

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("Timeout after %dms", timeout.Milliseconds())
		}
		delivery.Error = &msg
		d.logger.Warn("webhook delivery attempt failed",
			zap.String("webhook_id", wh.ID.String()),
			zap.String("event", event),
			zap.Int("attempt", n),
			zap.String("error", msg))
	} else {
		delivery.ResponseStatus = &status
		truncated := respBody
		if len(truncated) > maxLoggedBody {
			truncated = truncated[:maxLoggedBody]
		}
		bodyStr := string(truncated)
		delivery.ResponseBody = &bodyStr
		delivery.Success = status >= 200 && status < 300
	}

	d.metrics.RecordWebhookAttempt(event, delivery.Success, elapsed.Seconds())
	return delivery
}

func (d *Dispatcher) send(ctx context.Context, wh *models.Webhook, event string, eventID uuid.UUID, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-LinkForty-Event", event)
	req.Header.Set("X-LinkForty-Event-ID", eventID.String())
	req.Header.Set("X-LinkForty-Signature", signaturePrefix+Sign(wh.Secret, body))

	// Custom headers may not shadow the reserved LinkForty headers.
	for k, v := range wh.Headers {
		if strings.HasPrefix(strings.ToLower(k), "x-linkforty-") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return 0, nil, context.DeadlineExceeded
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody+1))
	return resp.StatusCode, respBody, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of body under the webhook secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// backoff returns the delay before retry attempt n+1: 1s, 2s, 4s, ...
// capped at 30s.
func backoff(n int) time.Duration {
	d := time.Second << (n - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
