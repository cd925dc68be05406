package publish

import (
	"context"
	"strconv"
	"time"

	"github.com/annel0/autotile/internal/eventbus"
	"github.com/annel0/autotile/internal/tiling"
	"github.com/google/uuid"
)

// EventType кадра слоя в шине событий
const EventType = "LayerFrame"

// EventBusSink публикует кадры слоёв в шину событий
type EventBusSink struct {
	bus    eventbus.EventBus
	codec  FrameCodec
	source string
}

// NewEventBusSink создаёт получателя кадров; codec == nil - JSON+zstd
func NewEventBusSink(bus eventbus.EventBus, source string, codec FrameCodec) (*EventBusSink, error) {
	if codec == nil {
		var err error
		if codec, err = NewZstdCodec(); err != nil {
			return nil, err
		}
	}
	if source == "" {
		source = "autotile"
	}
	return &EventBusSink{bus: bus, codec: codec, source: source}, nil
}

// PublishFrame реализует tiling.FrameSink.
// Кадры - дельты состояния, поэтому публикуются с высоким приоритетом и не дропаются.
func (s *EventBusSink) PublishFrame(ctx context.Context, f *tiling.LayerFrame) error {
	payload, err := s.codec.Encode(f)
	if err != nil {
		return err
	}

	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    s.source,
		EventType: EventType,
		Version:   1,
		Priority:  7,
		Payload:   payload,
		Metadata: map[string]string{
			eventbus.MetaLayer:    string(f.Layer),
			eventbus.MetaFrame:    strconv.FormatUint(f.Frame, 10),
			eventbus.MetaEncoding: s.codec.Name(),
		},
	}
	if f.Cleared {
		env.Priority = 9
	}
	return s.bus.Publish(ctx, env)
}
