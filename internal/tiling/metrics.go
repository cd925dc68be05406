package tiling

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - Prometheus-метрики движка. Нулевой указатель допустим:
// все методы тогда ничего не делают.
type Metrics struct {
	frames        prometheus.Counter
	frameDuration prometheus.Histogram
	evaluated     *prometheus.CounterVec
	refreshed     *prometheus.CounterVec
	spawns        *prometheus.CounterVec
	despawns      *prometheus.CounterVec
	clears        *prometheus.CounterVec
	layers        prometheus.Gauge
}

// NewMetrics создаёт и регистрирует метрики в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autotile",
			Name:      "frames_total",
			Help:      "Обработанных кадров.",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autotile",
			Name:      "frame_duration_seconds",
			Help:      "Длительность ProcessFrame.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		evaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotile",
			Name:      "positions_evaluated_total",
			Help:      "Координат, прошедших сопоставление.",
		}, []string{"layer"}),
		refreshed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotile",
			Name:      "positions_refreshed_total",
			Help:      "Координат, у которых изменился результат.",
		}, []string{"layer"}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotile",
			Name:      "spawn_intents_total",
			Help:      "Запросов на создание сущностей.",
		}, []string{"layer"}),
		despawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotile",
			Name:      "despawn_intents_total",
			Help:      "Запросов на удаление сущностей.",
		}, []string{"layer"}),
		clears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotile",
			Name:      "layer_clears_total",
			Help:      "Полных очисток слоя.",
		}, []string{"layer"}),
		layers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotile",
			Name:      "layers",
			Help:      "Зарегистрированных слоёв.",
		}),
	}

	reg.MustRegister(m.frames, m.frameDuration, m.evaluated, m.refreshed,
		m.spawns, m.despawns, m.clears, m.layers)
	return m
}

func (m *Metrics) observeLayer(f *LayerFrame, evaluated int) {
	if m == nil {
		return
	}
	layer := string(f.Layer)
	m.evaluated.WithLabelValues(layer).Add(float64(evaluated))
	m.refreshed.WithLabelValues(layer).Add(float64(len(f.Refreshed)))
	m.spawns.WithLabelValues(layer).Add(float64(len(f.Spawns)))
	m.despawns.WithLabelValues(layer).Add(float64(len(f.Despawns)))
	if f.Cleared {
		m.clears.WithLabelValues(layer).Inc()
	}
}

func (m *Metrics) observeFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.frames.Inc()
	m.frameDuration.Observe(d.Seconds())
}

func (m *Metrics) setLayers(n int) {
	if m == nil {
		return
	}
	m.layers.Set(float64(n))
}
