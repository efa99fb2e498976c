// Package subscriptions posts item location changes to webhooks.
package subscriptions

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/whereabouts/internal/location"
	"github.com/systemshift/whereabouts/internal/platform/logger"
)

// Options tunes delivery
type Options struct {
	QueueSize   int
	Timeout     time.Duration
	MaxAttempts int
}

// Manager queues location changes and fans them out to every webhook.
// Changes are dropped when the queue is full so saves never block on
// delivery.
type Manager struct {
	subscriptions []*Subscription
	queue         chan location.Update
	notifier      *Notifier
	log           *logger.Logger
	mu            sync.RWMutex
	stopped       bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewManager creates a manager with one subscription per webhook URL
func NewManager(webhooks []string, opts Options, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	subs := make([]*Subscription, 0, len(webhooks))
	for _, hook := range webhooks {
		hook = strings.TrimSpace(hook)
		if hook == "" {
			continue
		}
		u, err := url.Parse(hook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid webhook URL: %q", hook)
		}
		subs = append(subs, &Subscription{
			ID:      uuid.New().String(),
			Name:    u.Host,
			Webhook: hook,
			Created: time.Now(),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		subscriptions: subs,
		queue:         make(chan location.Update, opts.QueueSize),
		notifier:      NewNotifier(opts.Timeout, opts.MaxAttempts, log),
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start begins processing queued changes
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.processUpdates()
	m.log.Info("subscription manager started", "subscriptions", len(m.subscriptions))
}

// Stop drains the queue and waits for pending deliveries. Deliveries still
// running when ctx is done are cancelled.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		close(m.queue)
		m.mu.Unlock()

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			m.cancel()
			<-done
		}
		m.cancel()
		m.log.Info("subscription manager stopped")
	})
}

// LocationChanged queues a change for delivery. It never blocks.
func (m *Manager) LocationChanged(ctx context.Context, upd location.Update) {
	if len(m.subscriptions) == 0 {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return
	}
	select {
	case m.queue <- upd:
	default:
		getMetrics().deliveriesTotal.WithLabelValues(deliveryDropped).Inc()
		m.log.Warn("subscription queue full, dropping location change", "item_id", upd.ItemID)
	}
}

// List returns a snapshot of the subscriptions
func (m *Manager) List() []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		out = append(out, *sub)
	}
	return out
}

func (m *Manager) processUpdates() {
	defer m.wg.Done()
	for upd := range m.queue {
		m.dispatch(upd)
	}
}

// dispatch delivers one change to every subscription concurrently
func (m *Manager) dispatch(upd location.Update) {
	now := time.Now()
	var wg sync.WaitGroup
	for _, sub := range m.subscriptions {
		n := Notification{
			ID:               uuid.New().String(),
			Event:            EventLocationChanged,
			SubscriptionID:   sub.ID,
			SubscriptionName: sub.Name,
			ItemID:           upd.ItemID,
			MovementID:       upd.MovementID,
			Item:             upd.Item,
			MatchedAt:        now,
		}
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			err := m.notifier.SendWebhook(m.ctx, sub.Webhook, n)
			m.record(sub, now, err)
		}(sub)
	}
	wg.Wait()
}

func (m *Manager) record(sub *Subscription, firedAt time.Time, err error) {
	m.mu.Lock()
	if err != nil {
		sub.FailCount++
	} else {
		sub.FireCount++
		sub.LastFired = &firedAt
	}
	m.mu.Unlock()

	if err != nil {
		getMetrics().deliveriesTotal.WithLabelValues(deliveryFailed).Inc()
		m.log.Error("webhook delivery failed", "subscription_id", sub.ID, "url", sub.Webhook, "error", err)
		return
	}
	getMetrics().deliveriesTotal.WithLabelValues(deliveryDelivered).Inc()
}
