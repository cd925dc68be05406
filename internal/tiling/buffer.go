package tiling

import (
	"sync"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
)

type commandKind uint8

const (
	cmdSetCell commandKind = iota
	cmdClear
	cmdSwapRules
)

type command struct {
	kind  commandKind
	pos   vec.Vec2
	value rules.CellValue
	rules *rules.RuleSet
}

// commandBuffer копит правки между кадрами. Порядок захвата мьютекса
// определяет порядок применения внутри кадра.
type commandBuffer struct {
	mu   sync.Mutex
	cmds []command
}

func (b *commandBuffer) push(c command) {
	b.mu.Lock()
	b.cmds = append(b.cmds, c)
	b.mu.Unlock()
}

// drain забирает накопленные команды и оставляет буфер пустым
func (b *commandBuffer) drain() []command {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmds := b.cmds
	b.cmds = nil
	return cmds
}

func (b *commandBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cmds)
}
