//go:build !rp2040

package platform

import (
	"sync"

	"hvsupply/hw"
)

// FakePin implements hw.GPIOPin and hw.IRQPin for host builds and tests.
// Levels set from outside (Drive) survive ConfigureInput; otherwise the
// configured pull decides the idle level.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	driven  bool
	modeOut bool
	pull    hw.Pull
	irqEdge hw.Edge
	irqFunc func()
	changes uint32
}

func NewFakePin(n int) *FakePin { return &FakePin{number: n} }

func (p *FakePin) ConfigureInput(pull hw.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	if !p.driven {
		p.level = pull == hw.PullUp
	}
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.mu.Unlock()
	p.Set(initial)
	return nil
}

// Set changes the level and fires the IRQ handler on a matching edge.
func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	if old != level {
		p.changes++
	}
	irq := p.irqFunc
	want := irqWanted(p.irqEdge, edgeFrom(old, level))
	p.mu.Unlock()
	if want && irq != nil {
		irq()
	}
}

// Drive sets the level as an external source would (a button, a strap).
func (p *FakePin) Drive(level bool) {
	p.mu.Lock()
	p.driven = true
	p.mu.Unlock()
	p.Set(level)
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *FakePin) Toggle() { p.Set(!p.Get()) }

func (p *FakePin) Number() int { return p.number }

// IsOutput reports the configured direction.
func (p *FakePin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

// Changes counts level transitions since creation.
func (p *FakePin) Changes() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.changes
}

func (p *FakePin) SetIRQ(edge hw.Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = hw.EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

func edgeFrom(old, new bool) hw.Edge {
	switch {
	case !old && new:
		return hw.EdgeRising
	case old && !new:
		return hw.EdgeFalling
	default:
		return hw.EdgeNone
	}
}

func irqWanted(cfg, seen hw.Edge) bool {
	switch cfg {
	case hw.EdgeBoth:
		return seen == hw.EdgeRising || seen == hw.EdgeFalling
	case hw.EdgeNone:
		return false
	default:
		return cfg == seen
	}
}
