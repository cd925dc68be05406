package publish

import (
	"context"

	"github.com/annel0/autotile/internal/eventbus"
	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/tiling"
)

// FrameHandler получает декодированный кадр
type FrameHandler func(ctx context.Context, f *tiling.LayerFrame)

// FrameConsumer подписывается на кадры слоёв и декодирует их по Metadata["encoding"]
type FrameConsumer struct {
	sub    eventbus.Subscription
	codecs map[string]FrameCodec
	h      FrameHandler
}

// NewFrameConsumer подписывается на кадры указанных слоёв (пусто - всех)
func NewFrameConsumer(ctx context.Context, bus eventbus.EventBus, layers []string, h FrameHandler) (*FrameConsumer, error) {
	fc := &FrameConsumer{codecs: make(map[string]FrameCodec), h: h}
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{EventType}, Layers: layers}, fc.handle)
	if err != nil {
		return nil, err
	}
	fc.sub = sub
	return fc, nil
}

// handle вызывается диспетчером шины последовательно, кеш кодеков без блокировок
func (fc *FrameConsumer) handle(ctx context.Context, ev *eventbus.Envelope) {
	name := ev.Metadata[eventbus.MetaEncoding]
	codec, ok := fc.codecs[name]
	if !ok {
		var err error
		if codec, err = CodecByName(name); err != nil {
			logging.Warn("FrameConsumer: %v (событие %s)", err, ev.ID)
			return
		}
		fc.codecs[name] = codec
	}

	f, err := codec.Decode(ev.Payload)
	if err != nil {
		logging.Warn("FrameConsumer: ошибка декодирования %s: %v", ev.ID, err)
		return
	}
	fc.h(ctx, f)
}

// Close отписывается от шины
func (fc *FrameConsumer) Close() {
	fc.sub.Unsubscribe()
}
