package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"releasedesk/internal/config"
	"releasedesk/internal/events"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	webhookQueueSize      = 256
)

// Webhooks posts broker changes to the configured URLs. Deliveries happen
// on one worker goroutine so a slow receiver never blocks a write.
type Webhooks struct {
	hooks  []config.Webhook
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan events.Change
	cancel func()
	wg     sync.WaitGroup
	once   sync.Once
}

// StartWebhooks subscribes to broker and returns the running dispatcher, or
// nil when no hooks are configured.
func StartWebhooks(broker *events.Broker, hooks []config.Webhook, logger *zap.Logger) *Webhooks {
	if len(hooks) == 0 || broker == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Webhooks{
		hooks:  hooks,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger.Named("webhooks"),
		queue:  make(chan events.Change, webhookQueueSize),
	}
	d.cancel = broker.Subscribe("", d.enqueue)
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Webhooks) enqueue(c events.Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- c:
	default:
		d.logger.Warn("webhook queue full, dropping change", zap.String("type", c.Type()), zap.String("id", c.ID))
	}
}

// Stop unsubscribes and waits for queued deliveries to finish.
func (d *Webhooks) Stop() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.cancel()
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Webhooks) run() {
	defer d.wg.Done()
	filters := make([]eventFilter, len(d.hooks))
	for i, hook := range d.hooks {
		filters[i] = newEventFilter(hook.Events)
	}
	for c := range d.queue {
		for i, hook := range d.hooks {
			if !filters[i].match(c.Type()) {
				continue
			}
			if err := d.postEvent(context.Background(), hook, c); err != nil {
				d.logger.Warn("delivery failed", zap.String("url", hook.URL), zap.String("type", c.Type()), zap.Error(err))
			}
		}
	}
}

type webhookEvent struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	Op         string `json:"op"`
	ID         string `json:"id,omitempty"`
	At         string `json:"at"`
}

func (d *Webhooks) postEvent(ctx context.Context, hook config.Webhook, c events.Change) error {
	data, err := json.Marshal(webhookEvent{
		Type:       c.Type(),
		Collection: c.Collection,
		Op:         string(c.Op),
		ID:         c.ID,
		At:         c.At,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Releasedesk-Event", c.Type())
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Releasedesk-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// eventFilter matches change types such as "releases.completed". An entry
// "releases.*" matches every op on the collection.
type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	if len(types) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		key := strings.TrimSpace(t)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}
