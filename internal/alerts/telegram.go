package alerts

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/observ"
)

const (
	dedupeWindow = 60 * time.Second
	maxAttempts  = 3
)

type queuedEvent struct {
	ev        domain.Event
	attempts  int
	nextRetry time.Time
	hash      string
}

// Telegram delivers events through the Bot API. Sends are queued and
// drained by a single worker with retry and backoff; a full queue drops the
// oldest non-critical event rather than blocking the trading path.
type Telegram struct {
	cfg        config.Alerts
	httpClient *http.Client
	queue      chan queuedEvent

	mu          sync.Mutex
	dedupeCache map[string]time.Time
	sentTimes   []time.Time // per-minute rate window

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegram(cfg config.Alerts) *Telegram {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Telegram{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan queuedEvent, 256),
		dedupeCache: map[string]time.Time{},
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go t.worker()
	return t
}

// Notify enqueues the event. Duplicate events inside the dedupe window and
// events over the per-minute budget are dropped silently; terminal events
// (position closed, emergency stop) bypass both checks.
func (t *Telegram) Notify(ev domain.Event) {
	hash := eventHash(ev)
	critical := ev.Kind == domain.EventPositionClosed ||
		ev.Kind == domain.EventEmergencyStop ||
		ev.Kind == domain.EventRiskTripped

	t.mu.Lock()
	if !critical {
		if last, ok := t.dedupeCache[hash]; ok && time.Since(last) < dedupeWindow {
			t.mu.Unlock()
			observ.IncCounter("alerts_deduped_total", nil)
			return
		}
		if t.rateLimitedLocked() {
			t.mu.Unlock()
			observ.IncCounter("alerts_rate_limited_total", nil)
			return
		}
	}
	t.dedupeCache[hash] = time.Now()
	t.sentTimes = append(t.sentTimes, time.Now())
	t.mu.Unlock()

	q := queuedEvent{ev: ev, nextRetry: time.Now(), hash: hash}
	select {
	case t.queue <- q:
	default:
		t.dropOldest(q)
	}
}

// rateLimitedLocked must be called with the lock held.
func (t *Telegram) rateLimitedLocked() bool {
	cutoff := time.Now().Add(-time.Minute)
	kept := t.sentTimes[:0]
	for _, ts := range t.sentTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.sentTimes = kept
	return len(kept) >= t.cfg.RateLimitPerMin
}

// dropOldest makes room for a new event by evicting the head of the queue,
// unless the head is critical, in which case the new event loses.
func (t *Telegram) dropOldest(q queuedEvent) {
	select {
	case old := <-t.queue:
		if old.ev.Kind == domain.EventEmergencyStop || old.ev.Kind == domain.EventPositionClosed {
			q = old // keep the critical one
		}
		observ.IncCounter("alerts_dropped_total", nil)
		select {
		case t.queue <- q:
		default:
		}
	default:
		select {
		case t.queue <- q:
		default:
			observ.IncCounter("alerts_dropped_total", nil)
		}
	}
}

func (t *Telegram) worker() {
	defer close(t.done)
	cleanup := time.NewTicker(5 * time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-cleanup.C:
			t.mu.Lock()
			cutoff := time.Now().Add(-5 * time.Minute)
			for h, ts := range t.dedupeCache {
				if ts.Before(cutoff) {
					delete(t.dedupeCache, h)
				}
			}
			t.mu.Unlock()
		case q := <-t.queue:
			if wait := time.Until(q.nextRetry); wait > 0 {
				select {
				case <-time.After(wait):
				case <-t.ctx.Done():
					return
				}
			}
			if err := t.send(q.ev); err != nil {
				q.attempts++
				if q.attempts >= maxAttempts {
					observ.IncCounter("alerts_failed_total", nil)
					observ.LogError("alert_send_failed", err, map[string]any{
						"kind": string(q.ev.Kind), "attempts": q.attempts,
					})
					continue
				}
				backoff := time.Duration(math.Pow(2, float64(q.attempts))) * time.Second
				backoff += time.Duration(rand.Float64() * float64(backoff) * 0.1)
				q.nextRetry = time.Now().Add(backoff)
				select {
				case t.queue <- q:
				default:
					observ.IncCounter("alerts_dropped_total", nil)
				}
				continue
			}
			observ.IncCounter("alerts_sent_total", nil)
		}
	}
}

func (t *Telegram) send(ev domain.Event) error {
	form := url.Values{
		"chat_id": {t.cfg.ChatID},
		"text":    {FormatEvent(ev)},
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.cfg.BotToken)
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = form.Encode()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close stops the worker. Queued events that have not been sent are lost;
// callers should emit terminal events before closing.
func (t *Telegram) Close() {
	t.cancel()
	<-t.done
}

func eventHash(ev domain.Event) string {
	sym, _ := ev.Payload["symbol"].(string)
	reason, _ := ev.Payload["reason"].(string)
	sum := sha256.Sum256([]byte(string(ev.Kind) + ":" + sym + ":" + reason))
	return fmt.Sprintf("%x", sum)[:16]
}
