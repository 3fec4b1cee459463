// Package risk applies pre-trade checks to order intents. A denied intent
// fails synchronously at the caller; nothing reaches the venue.
package risk

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
)

var (
	ErrKillSwitch  = errors.New("kill switch engaged")
	ErrOrderQty    = errors.New("order qty over limit")
	ErrNotional    = errors.New("order notional over limit")
	ErrPositionQty = errors.New("position qty over limit")
	ErrRateLimited = errors.New("order rate over limit")
)

// Intent is one order about to be sent.
type Intent struct {
	SymbolKey string
	Side      enum.OrderSide
	Qty       model.Quantity
	// Price is the limit price, zero for market orders.
	Price    model.Price
	Notional model.Notional
}

// Checker approves or denies order intents and is told about executed
// fills, so position limits see net exposure rather than single orders.
type Checker interface {
	Check(Intent) error
	OnFill(symbolKey string, side enum.OrderSide, qty model.Quantity)
}

// Limits configures the engine. A zero field disables that check.
type Limits struct {
	MaxOrderQty      model.Quantity
	MaxOrderNotional model.Notional
	MaxPositionQty   model.Quantity
	MaxOrdersPer     int
	Window           time.Duration
}

// Engine tracks per-symbol net exposure and recent order counts behind a
// single mutex. One engine serves all positions of a run.
type Engine struct {
	mu       sync.Mutex
	limits   Limits
	killed   bool
	exposure map[string]model.Quantity
	sentAt   []time.Time
	now      func() time.Time
}

var _ Checker = (*Engine)(nil)

// NewEngine builds an engine with the given limits.
func NewEngine(limits Limits) *Engine {
	return &Engine{
		limits:   limits,
		exposure: make(map[string]model.Quantity),
		now:      time.Now,
	}
}

// Check denies an intent that breaks any enabled limit.
func (e *Engine) Check(in Intent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.killed {
		return ErrKillSwitch
	}
	if e.limits.MaxOrderQty > 0 && in.Qty > e.limits.MaxOrderQty {
		return errors.Wrapf(ErrOrderQty, "qty: %d, limit: %d", in.Qty, e.limits.MaxOrderQty)
	}
	if e.limits.MaxOrderNotional > 0 && in.Notional > e.limits.MaxOrderNotional {
		return errors.Wrapf(ErrNotional, "notional: %d, limit: %d", in.Notional, e.limits.MaxOrderNotional)
	}
	if e.limits.MaxPositionQty > 0 {
		next := e.projected(in)
		if next > e.limits.MaxPositionQty || next < -e.limits.MaxPositionQty {
			return errors.Wrapf(ErrPositionQty, "projected: %d, limit: %d", next, e.limits.MaxPositionQty)
		}
	}
	if e.limits.MaxOrdersPer > 0 && e.limits.Window > 0 {
		cutoff := e.now().Add(-e.limits.Window)
		kept := e.sentAt[:0]
		for _, ts := range e.sentAt {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		e.sentAt = kept
		if len(e.sentAt) >= e.limits.MaxOrdersPer {
			return errors.Wrapf(ErrRateLimited, "sent: %d, window: %s", len(e.sentAt), e.limits.Window)
		}
		e.sentAt = append(e.sentAt, e.now())
	}
	return nil
}

func (e *Engine) projected(in Intent) model.Quantity {
	next := e.exposure[in.SymbolKey]
	if in.Side == enum.OrderSideBuy {
		next += in.Qty
	} else {
		next -= in.Qty
	}
	return next
}

// OnFill records executed quantity against the symbol's net exposure.
func (e *Engine) OnFill(symbolKey string, side enum.OrderSide, qty model.Quantity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if side == enum.OrderSideBuy {
		e.exposure[symbolKey] += qty
	} else {
		e.exposure[symbolKey] -= qty
	}
}

// Exposure returns the current net exposure of a symbol.
func (e *Engine) Exposure(symbolKey string) model.Quantity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exposure[symbolKey]
}

// Kill engages the kill switch: every subsequent intent is denied.
func (e *Engine) Kill() {
	e.mu.Lock()
	e.killed = true
	e.mu.Unlock()
}

// Resume releases the kill switch.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.killed = false
	e.mu.Unlock()
}
