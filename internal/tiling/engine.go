package tiling

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 256

// Options задаёт параметры движка
type Options struct {
	Seed      uint32
	Workers   int // 0 - GOMAXPROCS
	BatchSize int // координат на одну задачу сопоставления
	Rules     RuleSetRepository
	Metrics   *Metrics
	Sinks     []FrameSink
}

// Engine владеет слоями и обрабатывает их покадрово.
// Правки можно ставить в очередь из любых горутин; ProcessFrame
// применяет их, пересчитывает затронутые координаты и публикует результат.
type Engine struct {
	mu     sync.RWMutex
	layers map[LayerID]*Layer
	sinks  []FrameSink

	frameMu sync.Mutex // один кадр за раз
	frame   atomic.Uint64

	seedMu      sync.Mutex
	seed        uint32
	pendingSeed *uint32

	repo      RuleSetRepository
	workers   int
	batchSize int
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *logging.Logger
}

// NewEngine создаёт движок без слоёв
func NewEngine(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Rules == nil {
		opts.Rules = NewMemoryRuleSetRepository()
	}

	return &Engine{
		layers:    make(map[LayerID]*Layer),
		sinks:     append([]FrameSink(nil), opts.Sinks...),
		seed:      opts.Seed,
		repo:      opts.Rules,
		workers:   opts.Workers,
		batchSize: opts.BatchSize,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("github.com/annel0/autotile/internal/tiling"),
		logger:    logging.GetEngineLogger(),
	}
}

// AddSink подключает получателя результатов кадра
func (e *Engine) AddSink(s FrameSink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// RegisterLayer создаёт слой. Повторная регистрация ничего не меняет
// и возвращает false.
func (e *Engine) RegisterLayer(id LayerID, dualGrid bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.layers[id]; exists {
		return false
	}

	rs, _ := e.repo.RuleSet(id)
	e.layers[id] = newLayer(id, dualGrid, rs)
	e.metrics.setLayers(len(e.layers))
	e.logger.Info("Зарегистрирован слой %s (dual grid: %v, правила: %v)", id, dualGrid, rs != nil)
	return true
}

// HasLayer проверяет, зарегистрирован ли слой
func (e *Engine) HasLayer(id LayerID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.layers[id]
	return ok
}

func (e *Engine) mustLayer(id LayerID) *Layer {
	e.mu.RLock()
	l, ok := e.layers[id]
	e.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("tiling: слой %q не зарегистрирован", id))
	}
	return l
}

// SetCell ставит правку в очередь слоя; применится в следующем кадре.
// Значение должно проходить rules.Storable, иначе паника.
func (e *Engine) SetCell(id LayerID, pos vec.Vec2, value rules.CellValue) {
	l := e.mustLayer(id)
	if !rules.Storable(value) {
		panic(fmt.Sprintf("tiling: значение %d нельзя записать в сетку (слой %q, %v)", value, id, pos))
	}
	l.pending.push(command{kind: cmdSetCell, pos: pos, value: value})
}

// ClearLayer ставит в очередь полную очистку слоя
func (e *Engine) ClearLayer(id LayerID) {
	e.mustLayer(id).pending.push(command{kind: cmdClear})
}

// ClearAllLayers очищает все слои
func (e *Engine) ClearAllLayers() {
	for _, l := range e.snapshotLayers() {
		l.pending.push(command{kind: cmdClear})
	}
}

// SetRuleSet сохраняет набор правил и, если слой уже есть, ставит в очередь
// замену. Замена пересчитывает слой целиком.
func (e *Engine) SetRuleSet(id LayerID, rs *rules.RuleSet) {
	e.repo.PutRuleSet(id, rs)

	e.mu.RLock()
	l, ok := e.layers[id]
	e.mu.RUnlock()
	if ok {
		l.pending.push(command{kind: cmdSwapRules, rules: rs})
	}
}

// SetGlobalSeed меняет зерно; действует начиная со следующего кадра
func (e *Engine) SetGlobalSeed(seed uint32) {
	e.seedMu.Lock()
	e.pendingSeed = &seed
	e.seedMu.Unlock()
}

// Seed возвращает зерно, действующее в текущем кадре
func (e *Engine) Seed() uint32 {
	e.seedMu.Lock()
	defer e.seedMu.Unlock()
	return e.seed
}

func (e *Engine) latchSeed() uint32 {
	e.seedMu.Lock()
	defer e.seedMu.Unlock()
	if e.pendingSeed != nil {
		e.seed = *e.pendingSeed
		e.pendingSeed = nil
	}
	return e.seed
}

// Frame возвращает номер последнего обработанного кадра
func (e *Engine) Frame() uint64 {
	return e.frame.Load()
}

func (e *Engine) snapshotLayers() []*Layer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Layer, 0, len(e.layers))
	for _, l := range e.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ProcessFrame выполняет один кадр для всех слоёв. Слои обрабатываются
// параллельно, координаты внутри слоя - пачками. Результаты сливаются
// последовательно, после чего вызываются получатели. Ошибки получателей
// не откатывают кадр.
func (e *Engine) ProcessFrame(ctx context.Context) ([]LayerFrame, error) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	start := time.Now()
	seed := e.latchSeed()
	frameNo := e.frame.Add(1)

	ctx, span := e.tracer.Start(ctx, "tiling.ProcessFrame",
		trace.WithAttributes(attribute.Int64("frame", int64(frameNo))))
	defer span.End()

	layers := e.snapshotLayers()
	frames := make([]LayerFrame, len(layers))
	evaluated := make([]int, len(layers))

	var g errgroup.Group
	for i, l := range layers {
		i, l := i, l
		g.Go(func() error {
			frames[i], evaluated[i] = e.processLayer(ctx, l, seed, frameNo)
			return nil
		})
	}
	_ = g.Wait()

	e.mu.RLock()
	sinks := append([]FrameSink(nil), e.sinks...)
	e.mu.RUnlock()

	var errs []error
	for i := range frames {
		f := &frames[i]
		e.metrics.observeLayer(f, evaluated[i])
		if f.Empty() {
			continue
		}
		e.logger.Debug("Кадр %d, слой %s: обновлено %d, спавн %d, деспавн %d, очистка %v",
			frameNo, f.Layer, len(f.Refreshed), len(f.Spawns), len(f.Despawns), f.Cleared)
		for _, sink := range sinks {
			if err := sink.PublishFrame(ctx, f); err != nil {
				errs = append(errs, fmt.Errorf("публикация слоя %s: %w", f.Layer, err))
			}
		}
	}
	e.metrics.observeFrame(time.Since(start))

	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "frame sink failed")
		e.logger.Warn("Ошибка публикации кадра %d: %v", frameNo, err)
		return frames, err
	}
	return frames, nil
}

func (e *Engine) processLayer(ctx context.Context, l *Layer, seed uint32, frameNo uint64) (LayerFrame, int) {
	_, span := e.tracer.Start(ctx, "tiling.processLayer",
		trace.WithAttributes(attribute.String("layer", string(l.id))))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.applyPending()
	l.expandChanged()

	coords := sortedKeys(l.refresh)
	results := make([]evaluation, len(coords))

	if rs := l.rules; rs != nil && len(coords) > 0 {
		var g errgroup.Group
		g.SetLimit(e.workers)
		for start := 0; start < len(coords); start += e.batchSize {
			start := start
			end := start + e.batchSize
			if end > len(coords) {
				end = len(coords)
			}
			g.Go(func() error {
				for i := start; i < end; i++ {
					results[i] = l.evaluate(coords[i], rs, seed)
				}
				return nil
			})
		}
		_ = g.Wait()
		l.merge(results)
	}

	span.SetAttributes(
		attribute.Int("evaluated", len(coords)),
		attribute.Int("refreshed", len(l.refreshed)),
	)
	return l.frameResult(frameNo), len(coords)
}

// RegisterSpawned привязывает созданную сущность к координате.
// Возвращает false, если в координате больше нет сопоставленного правила.
func (e *Engine) RegisterSpawned(id LayerID, pos vec.Vec2, handle EntityHandle) bool {
	l := e.mustLayer(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.record[pos]; !ok {
		return false
	}
	l.spawned[pos] = handle
	return true
}

// Cell возвращает значение клетки на момент последнего кадра
func (e *Engine) Cell(id LayerID, pos vec.Vec2) rules.CellValue {
	l := e.mustLayer(id)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.grid[pos]
}

// Outcome возвращает отрисованный результат координаты
func (e *Engine) Outcome(id LayerID, pos vec.Vec2) (SpriteOutcome, bool) {
	l := e.mustLayer(id)
	l.mu.RLock()
	defer l.mu.RUnlock()
	out, ok := l.rendered[pos]
	return out, ok
}

// Outcomes возвращает копию всех отрисованных результатов слоя
func (e *Engine) Outcomes(id LayerID) map[vec.Vec2]SpriteOutcome {
	l := e.mustLayer(id)
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[vec.Vec2]SpriteOutcome, len(l.rendered))
	for p, o := range l.rendered {
		out[p] = o
	}
	return out
}

// MatchHash возвращает хэш применения для координаты
func (e *Engine) MatchHash(id LayerID, pos vec.Vec2) (uint64, bool) {
	l := e.mustLayer(id)
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.record[pos]
	return h, ok
}

// Spawned возвращает дескриптор сущности в координате
func (e *Engine) Spawned(id LayerID, pos vec.Vec2) (EntityHandle, bool) {
	l := e.mustLayer(id)
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.spawned[pos]
	return h, ok
}

// Snapshot копирует заполненные клетки слоя
func (e *Engine) Snapshot(id LayerID) map[vec.Vec2]rules.CellValue {
	l := e.mustLayer(id)
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[vec.Vec2]rules.CellValue, len(l.grid))
	for p, v := range l.grid {
		out[p] = v
	}
	return out
}

// Restore ставит в очередь очистку слоя и запись всех клеток снимка
func (e *Engine) Restore(id LayerID, cells map[vec.Vec2]rules.CellValue) {
	l := e.mustLayer(id)
	l.pending.push(command{kind: cmdClear})
	for _, p := range sortedKeys(cells) {
		if !rules.Storable(cells[p]) {
			e.logger.Warn("⚠️ Слой %s: пропущено недопустимое значение %d в %v", id, cells[p], p)
			continue
		}
		l.pending.push(command{kind: cmdSetCell, pos: p, value: cells[p]})
	}
}

// LayerInfo - сводка по слою
type LayerInfo struct {
	ID       LayerID `json:"id"`
	DualGrid bool    `json:"dual_grid"`
	Rules    int     `json:"rules"`
	Cells    int     `json:"cells"`
	Matched  int     `json:"matched"`
	Rendered int     `json:"rendered"`
	Spawned  int     `json:"spawned"`
	Pending  int     `json:"pending"`
}

// Layers возвращает сводку по слоям, упорядоченную по ID
func (e *Engine) Layers() []LayerInfo {
	layers := e.snapshotLayers()
	out := make([]LayerInfo, 0, len(layers))
	for _, l := range layers {
		l.mu.RLock()
		info := LayerInfo{
			ID:       l.id,
			DualGrid: l.dualGrid,
			Cells:    len(l.grid),
			Matched:  len(l.record),
			Rendered: len(l.rendered),
			Spawned:  len(l.spawned),
			Pending:  l.pending.len(),
		}
		if l.rules != nil {
			info.Rules = l.rules.Len()
		}
		l.mu.RUnlock()
		out = append(out, info)
	}
	return out
}

// Stats - общее состояние движка
type Stats struct {
	Frame  uint64      `json:"frame"`
	Seed   uint32      `json:"seed"`
	Layers []LayerInfo `json:"layers"`
}

// Stats возвращает снимок состояния движка
func (e *Engine) Stats() Stats {
	return Stats{Frame: e.Frame(), Seed: e.Seed(), Layers: e.Layers()}
}
