package eventbus

import (
	"context"

	"github.com/annel0/autotile/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logging.Debug("[EventBus] %s %s src=%s layer=%s frame=%s size=%dB",
			ev.ID, ev.EventType, ev.Source, ev.Metadata[MetaLayer], ev.Metadata[MetaFrame], len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
