package rulesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/tiling"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Broadcaster рассылает наборы правил между узлами через NATS Pub/Sub.
// Узел, принявший PUT правил, публикует определение; остальные узлы
// компилируют его и ставят в очередь горячую замену.
type Broadcaster struct {
	conn    *nats.Conn
	config  Config
	subject string
	nodeID  string
	logger  *logging.Logger

	subscription *nats.Subscription
	handler      Handler

	stopCh chan struct{}
	wg     sync.WaitGroup

	// recent - ID недавно полученных сообщений (повторная доставка),
	// applied - дайджест последнего набора каждого слоя на этом узле
	recent   map[string]time.Time
	applied  map[string]string
	recentMu sync.Mutex

	published atomic.Int64
	received  atomic.Int64
	errors    atomic.Int64
}

// Config содержит настройки подключения
type Config struct {
	NATSURL       string
	Subject       string // по умолчанию autotile.rules
	NodeID        string // пусто - случайный uuid
	MaxReconnects int
	ReconnectWait time.Duration
	DedupeWindow  time.Duration
}

// Message - сообщение с набором правил слоя
type Message struct {
	ID         string                  `json:"id"`
	Layer      string                  `json:"layer"`
	Definition rules.RuleSetDefinition `json:"definition"`
	Digest     string                  `json:"digest"`
	NodeID     string                  `json:"node_id"`
	Timestamp  time.Time               `json:"timestamp"`
}

// Handler применяет полученный набор
type Handler func(layer string, def rules.RuleSetDefinition) error

// Stats - счётчики рассылки
type Stats struct {
	Published int64 `json:"published"`
	Received  int64 `json:"received"`
	Errors    int64 `json:"errors"`
}

func (c *Config) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "autotile.rules"
	}
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = 5 * time.Second
	}
}

// NewBroadcaster подключается к NATS
func NewBroadcaster(config Config) (*Broadcaster, error) {
	config.applyDefaults()
	logger := logging.GetComponentLogger("rulesync")

	opts := []nats.Option{
		nats.Name("autotile-rules-" + config.NodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS отключён: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS переподключён к %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("rulesync: подключение к NATS: %w", err)
	}

	b := newBroadcaster(config, conn)
	b.startDedupeCleanup()
	logger.Info("📡 Рассылка правил: %s (subject %s, узел %s)", config.NATSURL, b.subject, b.nodeID)
	return b, nil
}

func newBroadcaster(config Config, conn *nats.Conn) *Broadcaster {
	config.applyDefaults()
	return &Broadcaster{
		conn:    conn,
		config:  config,
		subject: config.Subject,
		nodeID:  config.NodeID,
		logger:  logging.GetComponentLogger("rulesync"),
		stopCh:  make(chan struct{}),
		recent:  make(map[string]time.Time),
		applied: make(map[string]string),
	}
}

// NodeID возвращает идентификатор узла
func (b *Broadcaster) NodeID() string { return b.nodeID }

// Digest - стабильный отпечаток определения набора
func Digest(def rules.RuleSetDefinition) (string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// BroadcastRuleSet публикует набор правил слоя остальным узлам.
// Публикуется каждый вызов: откат к прежнему набору тоже должен дойти до пиров.
func (b *Broadcaster) BroadcastRuleSet(ctx context.Context, layer string, def rules.RuleSetDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	digest, err := Digest(def)
	if err != nil {
		b.errors.Add(1)
		return err
	}

	data, err := json.Marshal(&Message{
		ID:    uuid.NewString(),
		Layer:      layer,
		Definition: def,
		Digest:     digest,
		NodeID:     b.nodeID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		b.errors.Add(1)
		return err
	}

	if err := b.conn.Publish(b.subject, data); err != nil {
		b.errors.Add(1)
		return fmt.Errorf("rulesync: публикация: %w", err)
	}
	b.setApplied(layer, digest)
	b.published.Add(1)
	b.logger.Debug("Разослан набор правил слоя %s (%s)", layer, digest)
	return nil
}

// Subscribe подписывается на наборы других узлов
func (b *Broadcaster) Subscribe(handler Handler) error {
	if b.subscription != nil {
		return fmt.Errorf("rulesync: подписка уже активна")
	}
	b.handler = handler

	sub, err := b.conn.Subscribe(b.subject, b.handleMessage)
	if err != nil {
		return fmt.Errorf("rulesync: подписка: %w", err)
	}
	b.subscription = sub
	return nil
}

func (b *Broadcaster) handleMessage(msg *nats.Msg) {
	b.received.Add(1)

	var m Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		b.errors.Add(1)
		b.logger.Error("Неверное сообщение с правилами: %v", err)
		return
	}
	if m.NodeID == b.nodeID {
		return
	}
	if m.ID != "" {
		if b.seen(m.ID) {
			return
		}
		b.remember(m.ID)
	}
	if b.isApplied(m.Layer, m.Digest) {
		b.logger.Debug("Набор %s/%s уже действует, пропуск", m.Layer, m.Digest)
		return
	}

	if b.handler == nil {
		return
	}
	if err := b.handler(m.Layer, m.Definition); err != nil {
		b.errors.Add(1)
		b.logger.Error("Набор правил слоя %s от узла %s не применён: %v", m.Layer, m.NodeID, err)
		return
	}
	b.setApplied(m.Layer, m.Digest)
	b.logger.Info("🔁 Применён набор правил слоя %s от узла %s", m.Layer, m.NodeID)
}

func (b *Broadcaster) seen(id string) bool {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	at, ok := b.recent[id]
	return ok && time.Since(at) < b.config.DedupeWindow
}

func (b *Broadcaster) remember(id string) {
	b.recentMu.Lock()
	b.recent[id] = time.Now()
	b.recentMu.Unlock()
}

func (b *Broadcaster) isApplied(layer, digest string) bool {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	return b.applied[layer] == digest
}

func (b *Broadcaster) setApplied(layer, digest string) {
	b.recentMu.Lock()
	b.applied[layer] = digest
	b.recentMu.Unlock()
}

func (b *Broadcaster) startDedupeCleanup() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.config.DedupeWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.cleanupDedupe()
			case <-b.stopCh:
				return
			}
		}
	}()
}

func (b *Broadcaster) cleanupDedupe() {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	now := time.Now()
	for key, at := range b.recent {
		if now.Sub(at) > b.config.DedupeWindow {
			delete(b.recent, key)
		}
	}
}

// Stats возвращает счётчики
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Received:  b.received.Load(),
		Errors:    b.errors.Load(),
	}
}

// Close отписывается и закрывает соединение
func (b *Broadcaster) Close() error {
	close(b.stopCh)
	b.wg.Wait()
	if b.subscription != nil {
		_ = b.subscription.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

// EngineHandler компилирует полученный набор и ставит замену в движок
func EngineHandler(e *tiling.Engine) Handler {
	return func(layer string, def rules.RuleSetDefinition) error {
		rs, err := rules.CompileRuleSet(def)
		if err != nil {
			return err
		}
		e.SetRuleSet(tiling.LayerID(layer), rs)
		return nil
	}
}
