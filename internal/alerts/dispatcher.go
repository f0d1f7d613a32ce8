package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrCycleCapReached signals that the per-cycle alert budget is spent; the
// caller defers the item to the next cycle without marking it seen.
var ErrCycleCapReached = errors.New("per-cycle alert cap reached")

// PermanentError marks a non-retryable delivery failure (malformed payload,
// revoked webhook). The item is marked failed, not retried.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: status %d", e.Status)
}

// Dispatcher delivers composed messages over the webhook (or the bot
// endpoint when interactive components are present) with retry, per-channel
// spacing, and a per-cycle cap.
type Dispatcher struct {
	http        *resty.Client
	webhookURL  string
	botURL      string
	minInterval time.Duration
	maxWall     time.Duration

	mu        sync.Mutex
	lastSent  map[string]time.Time
	cycleCap  int
	cycleSent int

	now   func() time.Time
	sleep func(time.Duration) // test hook; nil means real ctx-aware wait
}

// NewDispatcher builds a dispatcher. botURL may be empty; messages with
// components then fall back to the webhook.
func NewDispatcher(webhookURL, botURL string, minInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		http:        resty.New().SetTimeout(15 * time.Second).SetHeader("User-Agent", "catalystbot/1.0"),
		webhookURL:  webhookURL,
		botURL:      botURL,
		minInterval: minInterval,
		maxWall:     30 * time.Second,
		lastSent:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// SetMinInterval updates the per-channel spacing from the live config.
func (d *Dispatcher) SetMinInterval(iv time.Duration) {
	d.mu.Lock()
	d.minInterval = iv
	d.mu.Unlock()
}

// BeginCycle resets the per-cycle counter with the current cap.
func (d *Dispatcher) BeginCycle(maxAlerts int) {
	d.mu.Lock()
	d.cycleCap = maxAlerts
	d.cycleSent = 0
	d.mu.Unlock()
}

// Send delivers one message. ErrCycleCapReached means defer; a
// *PermanentError means mark failed; other errors exhausted the retry
// budget. The per-cycle cap only counts deliveries that succeed.
func (d *Dispatcher) Send(ctx context.Context, msg *Message) (err error) {
	if err := d.reserveSlot(ctx, msg.Channel); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			d.releaseSlot()
		}
	}()

	body, err := json.Marshal(payload{
		Embeds:      msg.Embeds,
		Attachments: ensureAttachments(msg.Attachments),
		Components:  msg.Components,
	})
	if err != nil {
		return fmt.Errorf("payload marshal failed: %w", err)
	}

	url := d.webhookURL
	if len(msg.Components) > 0 && d.botURL != "" {
		url = d.botURL
	}

	deadline := d.now().Add(d.maxWall)
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		resp, postErr := d.post(ctx, url, body, msg)
		if postErr == nil && resp.IsSuccess() {
			d.markSent(msg.Channel)
			return nil
		}

		if postErr == nil {
			status := resp.StatusCode()
			if status < 500 && status != 429 {
				log.Error().
					Int("status", status).
					Str("idempotency_key", msg.IdempotencyKey).
					Str("request", snippet(string(body))).
					Str("response", snippet(resp.String())).
					Msg("alert rejected by platform")
				return &PermanentError{Status: status, Body: resp.String()}
			}
			if ra := retryAfter(resp); ra > 0 {
				backoff = ra
			}
		}

		if d.now().Add(backoff).After(deadline) {
			return fmt.Errorf("delivery retry budget exhausted after %d attempts", attempt+1)
		}
		log.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Str("idempotency_key", msg.IdempotencyKey).
			Msg("alert delivery retrying")
		if err := d.pause(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

// pause waits dur, returning early when the context is cancelled.
func (d *Dispatcher) pause(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	if d.sleep != nil {
		d.sleep(dur)
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, payloadJSON []byte, msg *Message) (*resty.Response, error) {
	req := d.http.R().
		SetContext(ctx).
		SetHeader("X-Idempotency-Key", msg.IdempotencyKey).
		SetMultipartField("payload_json", "", "application/json", strings.NewReader(string(payloadJSON)))

	for _, att := range msg.Attachments {
		f, err := os.Open(att.Path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s unreadable: %w", att.Path, err)
		}
		defer f.Close()
		req.SetMultipartField(fmt.Sprintf("files[%d]", att.ID), att.Filename, "image/png", f)
	}
	return req.Post(url)
}

// reserveSlot enforces the per-cycle cap and the per-channel spacing.
func (d *Dispatcher) reserveSlot(ctx context.Context, channel string) error {
	d.mu.Lock()
	if d.cycleCap > 0 && d.cycleSent >= d.cycleCap {
		d.mu.Unlock()
		return ErrCycleCapReached
	}
	d.cycleSent++

	var wait time.Duration
	if last, ok := d.lastSent[channel]; ok && d.minInterval > 0 {
		if since := d.now().Sub(last); since < d.minInterval {
			wait = d.minInterval - since
		}
	}
	d.mu.Unlock()

	if err := d.pause(ctx, wait); err != nil {
		d.releaseSlot()
		return err
	}
	return nil
}

// releaseSlot returns a reserved cap slot after a failed delivery.
func (d *Dispatcher) releaseSlot() {
	d.mu.Lock()
	if d.cycleSent > 0 {
		d.cycleSent--
	}
	d.mu.Unlock()
}

func (d *Dispatcher) markSent(channel string) {
	d.mu.Lock()
	d.lastSent[channel] = d.now()
	d.mu.Unlock()
}

// ensureAttachments keeps the attachments array present (never null) and
// ids positional.
func ensureAttachments(atts []Attachment) []Attachment {
	if atts == nil {
		return []Attachment{}
	}
	for i := range atts {
		atts[i].ID = i
	}
	return atts
}

func retryAfter(resp *resty.Response) time.Duration {
	raw := resp.Header().Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func snippet(s string) string {
	const limit = 800
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}
