package turn

import "sync/atomic"

// Interrupt is a level-triggered cancellation signal. It stays set until
// explicitly cleared, and is cleared at the start of every turn. The speech
// pipeline polls it at every suspension point.
type Interrupt struct {
	set atomic.Bool
}

func NewInterrupt() *Interrupt { return &Interrupt{} }

func (i *Interrupt) Set()   { i.set.Store(true) }
func (i *Interrupt) Clear() { i.set.Store(false) }

func (i *Interrupt) IsSet() bool { return i.set.Load() }
