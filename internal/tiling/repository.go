package tiling

import (
	"sync"

	"github.com/annel0/autotile/internal/rules"
)

// RuleSetRepository хранит скомпилированные наборы правил по слоям
type RuleSetRepository interface {
	RuleSet(id LayerID) (*rules.RuleSet, bool)
	PutRuleSet(id LayerID, rs *rules.RuleSet)
	Layers() []LayerID
}

// MemoryRuleSetRepository - потокобезопасная реализация в памяти
type MemoryRuleSetRepository struct {
	mu   sync.RWMutex
	sets map[LayerID]*rules.RuleSet
}

// NewMemoryRuleSetRepository создаёт пустой репозиторий
func NewMemoryRuleSetRepository() *MemoryRuleSetRepository {
	return &MemoryRuleSetRepository{sets: make(map[LayerID]*rules.RuleSet)}
}

func (r *MemoryRuleSetRepository) RuleSet(id LayerID) (*rules.RuleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.sets[id]
	return rs, ok
}

func (r *MemoryRuleSetRepository) PutRuleSet(id LayerID, rs *rules.RuleSet) {
	r.mu.Lock()
	r.sets[id] = rs
	r.mu.Unlock()
}

func (r *MemoryRuleSetRepository) Layers() []LayerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]LayerID, 0, len(r.sets))
	for id := range r.sets {
		ids = append(ids, id)
	}
	return ids
}
