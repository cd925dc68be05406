package publish

import (
	"fmt"

	"github.com/annel0/autotile/internal/eventbus"
	"github.com/annel0/autotile/internal/tiling"
)

// DecodeFrame извлекает кадр из конверта шины
func DecodeFrame(ev *eventbus.Envelope) (*tiling.LayerFrame, error) {
	if ev.EventType != EventType {
		return nil, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	codec, err := CodecByName(ev.Metadata[eventbus.MetaEncoding])
	if err != nil {
		return nil, err
	}
	return codec.Decode(ev.Payload)
}
