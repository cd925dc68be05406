package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/tiling"
)

// Типы событий исходящих webhook'ов
const (
	EventLayerFrame       = "layer.frame"
	EventLayerCleared     = "layer.cleared"
	EventSnapshotSaved    = "snapshot.saved"
	EventSnapshotRestored = "snapshot.restored"
)

// ErrWebhookQueueFull - очередь доставки переполнена, событие отброшено
var ErrWebhookQueueFull = errors.New("webhook queue is full")

// OutboundWebhook - подписка внешнего сервиса на события движка
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // "*" - все события
	Layers       []string   `json:"layers,omitempty"`          // пусто - все слои
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // секунды
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent - тело запроса к webhook'у
type OutboundWebhookEvent struct {
	EventType string                 `json:"event_type"`
	Timestamp int64                  `json:"timestamp"`
	ServerID  string                 `json:"server_id"`
	Layer     string                 `json:"layer,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// OutboundWebhookManager хранит подписки и доставляет события из очереди.
// Реализует tiling.FrameSink: кадр превращается в событие layer.frame
// (или layer.cleared, если слой очищался).
type OutboundWebhookManager struct {
	webhooks   map[uint64]*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	mu         sync.RWMutex
	nextID     uint64
	httpClient *http.Client
	serverID   string
	backoff    time.Duration
	logger     *logging.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewOutboundWebhookManager создаёт менеджер и запускает воркер доставки
func NewOutboundWebhookManager(serverID string) *OutboundWebhookManager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := &OutboundWebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		eventQueue: make(chan OutboundWebhookEvent, 1000),
		nextID:     1,
		serverID:   serverID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff:    time.Second,
		logger:     logging.GetAPILogger(),
		cancel:     cancel,
	}

	manager.wg.Add(1)
	go manager.eventWorker(ctx)

	return manager
}

// SetBackoff задаёт базовую задержку между повторами
func (owm *OutboundWebhookManager) SetBackoff(d time.Duration) {
	owm.mu.Lock()
	owm.backoff = d
	owm.mu.Unlock()
}

// Close останавливает воркер; недоставленные события теряются
func (owm *OutboundWebhookManager) Close() {
	owm.cancel()
	owm.wg.Wait()
}

// AddWebhook добавляет подписку
func (owm *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook.ID = owm.nextID
	owm.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}

	owm.webhooks[webhook.ID] = &webhook
	copied := webhook
	return &copied
}

// GetWebhooks возвращает копии подписок, упорядоченные по ID
func (owm *OutboundWebhookManager) GetWebhooks() []OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhooks := make([]OutboundWebhook, 0, len(owm.webhooks))
	for _, webhook := range owm.webhooks {
		webhooks = append(webhooks, *webhook)
	}
	sort.Slice(webhooks, func(i, j int) bool { return webhooks[i].ID < webhooks[j].ID })
	return webhooks
}

// GetWebhook возвращает копию подписки по ID
func (owm *OutboundWebhookManager) GetWebhook(id uint64) (OutboundWebhook, bool) {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return OutboundWebhook{}, false
	}
	return *webhook, true
}

// UpdateWebhook обновляет непустые поля подписки
func (owm *OutboundWebhookManager) UpdateWebhook(id uint64, updates OutboundWebhook) (OutboundWebhook, bool) {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return OutboundWebhook{}, false
	}

	if updates.Name != "" {
		webhook.Name = updates.Name
	}
	if updates.URL != "" {
		webhook.URL = updates.URL
	}
	if updates.Secret != "" {
		webhook.Secret = updates.Secret
	}
	if len(updates.Events) > 0 {
		webhook.Events = updates.Events
	}
	if updates.Layers != nil {
		webhook.Layers = updates.Layers
	}
	if updates.Timeout > 0 {
		webhook.Timeout = updates.Timeout
	}
	if updates.RetryCount > 0 {
		webhook.RetryCount = updates.RetryCount
	}
	webhook.Active = updates.Active

	return *webhook, true
}

// DeleteWebhook удаляет подписку
func (owm *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	if _, exists := owm.webhooks[id]; !exists {
		return false
	}
	delete(owm.webhooks, id)
	return true
}

// PublishFrame ставит итог кадра в очередь доставки. Не блокирует кадр:
// при переполнении очереди событие отбрасывается с ошибкой.
func (owm *OutboundWebhookManager) PublishFrame(_ context.Context, f *tiling.LayerFrame) error {
	eventType := EventLayerFrame
	if f.Cleared {
		eventType = EventLayerCleared
	}
	return owm.SendEvent(eventType, string(f.Layer), map[string]interface{}{
		"frame":     f.Frame,
		"cleared":   f.Cleared,
		"refreshed": len(f.Refreshed),
		"updates":   len(f.Updates),
		"spawns":    len(f.Spawns),
		"despawns":  len(f.Despawns),
	})
}

// SendEvent ставит событие в очередь; layer пуст для событий уровня движка
func (owm *OutboundWebhookManager) SendEvent(eventType, layer string, data map[string]interface{}) error {
	event := OutboundWebhookEvent{
		EventType: eventType,
		Timestamp: time.Now().Unix(),
		ServerID:  owm.serverID,
		Layer:     layer,
		Data:      data,
	}

	select {
	case owm.eventQueue <- event:
		owm.logger.Trace("📤 Событие %s добавлено в очередь webhook'ов", eventType)
		return nil
	default:
		owm.logger.Warn("⚠️ Очередь webhook'ов переполнена, событие %s пропущено", eventType)
		return ErrWebhookQueueFull
	}
}

func (owm *OutboundWebhookManager) eventWorker(ctx context.Context) {
	defer owm.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-owm.eventQueue:
			owm.processEvent(ctx, event)
		}
	}
}

func (owm *OutboundWebhookManager) processEvent(ctx context.Context, event OutboundWebhookEvent) {
	owm.mu.RLock()
	targets := make([]OutboundWebhook, 0)
	for _, webhook := range owm.webhooks {
		if webhook.Active && isSubscribed(webhook, event) {
			targets = append(targets, *webhook)
		}
	}
	owm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, webhook := range targets {
		wg.Add(1)
		go func(w OutboundWebhook) {
			defer wg.Done()
			owm.sendToWebhook(ctx, w, event)
		}(webhook)
	}
	wg.Wait()
}

func isSubscribed(webhook *OutboundWebhook, event OutboundWebhookEvent) bool {
	if event.Layer != "" && len(webhook.Layers) > 0 {
		found := false
		for _, l := range webhook.Layers {
			if l == event.Layer {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, subscribed := range webhook.Events {
		if subscribed == event.EventType || subscribed == "*" {
			return true
		}
	}
	return false
}

// deliver выполняет одну попытку; запрос создаётся заново, чтобы тело читалось с начала
func (owm *OutboundWebhookManager) deliver(ctx context.Context, webhook OutboundWebhook, event OutboundWebhookEvent, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(webhook.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Autotile/1.0")
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Server-ID", event.ServerID)
	if webhook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", SignPayload(body, webhook.Secret))
	}

	resp, err := owm.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (owm *OutboundWebhookManager) sendToWebhook(ctx context.Context, webhook OutboundWebhook, event OutboundWebhookEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		owm.logger.Error("❌ Ошибка маршалинга события для webhook %s: %v", webhook.Name, err)
		return
	}

	owm.mu.RLock()
	backoff := owm.backoff
	owm.mu.RUnlock()

	success := false
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		err := owm.deliver(ctx, webhook, event, body)
		if err == nil {
			success = true
			owm.logger.Debug("✅ Событие %s доставлено в webhook %s", event.EventType, webhook.Name)
			break
		}
		owm.logger.Warn("⚠️ Попытка %d/%d для webhook %s: %v", attempt+1, webhook.RetryCount+1, webhook.Name, err)
		if attempt == webhook.RetryCount {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt+1) * backoff):
		}
	}

	owm.mu.Lock()
	if w, ok := owm.webhooks[webhook.ID]; ok {
		now := time.Now()
		w.LastUsed = &now
		if !success {
			w.FailureCount++
		}
	}
	owm.mu.Unlock()
}

// SignPayload вычисляет подпись тела для заголовка X-Webhook-Signature
func SignPayload(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// GetEventTypes возвращает поддерживаемые типы событий
func (owm *OutboundWebhookManager) GetEventTypes() []string {
	return []string{
		EventLayerFrame,
		EventLayerCleared,
		EventSnapshotSaved,
		EventSnapshotRestored,
	}
}
