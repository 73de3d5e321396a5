// Package eventbus broadcasts click events to in-process subscribers.
// Delivery is best-effort with no persistence and no replay; the live
// debug stream is the only consumer.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBuffer bounds the per-subscriber queue. A subscriber that
// falls this far behind starts losing events rather than blocking the
// publisher.
const subscriberBuffer = 64

// ClickStreamEvent is the record published for every recorded click.
type ClickStreamEvent struct {
	EventID   uuid.UUID  `json:"event_id"`
	Timestamp time.Time  `json:"timestamp"`
	LinkID    uuid.UUID  `json:"link_id"`
	ShortCode string     `json:"short_code"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`

	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent"`
	CountryCode string `json:"country_code,omitempty"`
	City        string `json:"city,omitempty"`
	DeviceClass string `json:"device_class"`
	Platform    string `json:"platform,omitempty"`
	Language    string `json:"language,omitempty"`

	RedirectURL      string `json:"redirect_url"`
	Reason           string `json:"reason"`
	TargetingMatched bool   `json:"targeting_matched"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	Referer     string `json:"referer,omitempty"`
}

// Filter restricts which events a subscriber receives. Both fields act
// as AND conditions when present.
type Filter struct {
	OwnerID *uuid.UUID
	LinkID  *uuid.UUID
}

func (f Filter) matches(ev ClickStreamEvent) bool {
	if f.OwnerID != nil {
		if ev.OwnerID == nil || *ev.OwnerID != *f.OwnerID {
			return false
		}
	}
	if f.LinkID != nil && ev.LinkID != *f.LinkID {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan ClickStreamEvent
}

// Bus is a process-local click-event broadcaster. Publish never blocks;
// each subscriber is served by its own goroutine so a failing or slow
// subscriber cannot affect the others.
type Bus struct {
	mu          sync.RWMutex
	subs        map[uint64]*subscriber
	nextID      uint64
	dropped     func()    // metrics hook, may be nil
	subsChanged func(int) // metrics hook, may be nil
	logger      *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// OnDrop registers a hook invoked whenever an event is dropped for a slow
// subscriber.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.dropped = fn
	b.mu.Unlock()
}

// OnSubscriberChange registers a hook invoked with the subscriber count
// after every subscribe and cancel.
func (b *Bus) OnSubscriberChange(fn func(count int)) {
	b.mu.Lock()
	b.subsChanged = fn
	b.mu.Unlock()
}

// Subscribe registers a callback for click events matching the filter.
// The returned cancel function unsubscribes; it is safe to call more
// than once. Events are delivered serially per subscriber.
func (b *Bus) Subscribe(filter Filter, fn func(ClickStreamEvent)) (cancel func()) {
	sub := &subscriber{
		filter: filter,
		ch:     make(chan ClickStreamEvent, subscriberBuffer),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	count, changed := len(b.subs), b.subsChanged
	b.mu.Unlock()
	if changed != nil {
		changed(count)
	}

	go func() {
		for ev := range sub.ch {
			b.invoke(fn, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			count, changed := len(b.subs), b.subsChanged
			b.mu.Unlock()
			close(sub.ch)
			if changed != nil {
				changed(count)
			}
		})
	}
}

// invoke shields the bus from panicking subscribers.
func (b *Bus) invoke(fn func(ClickStreamEvent), ev ClickStreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// Publish delivers the event to every matching subscriber without
// blocking. Events to a full subscriber queue are dropped.
func (b *Bus) Publish(ev ClickStreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.dropped != nil {
				b.dropped()
			}
			b.logger.Debug("event bus dropped event for slow subscriber",
				zap.String("event_id", ev.EventID.String()))
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
