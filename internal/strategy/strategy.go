// Package strategy defines the decision-making contract and the runner that
// serializes decisions per strategy instance.
package strategy

import (
	"sync"
	"sync/atomic"

	"main/internal/engine"
	"main/internal/obs"
	"main/internal/position"
	"main/internal/security"
)

// Strategy reacts to market data and position changes. Implementations
// never need their own locking: the runner guarantees at most one callback
// is executing per instance.
type Strategy interface {
	OnTrade(sec *security.Security)
	OnBookUpdate(sec *security.Security)
	OnPositionUpdate(pos *position.Position)
}

// Runner wraps one strategy instance with its decision lock. It implements
// security.Consumer, so it subscribes directly to securities, and exposes a
// position callback for wiring into positions.
type Runner struct {
	ctx      *engine.Context
	strategy Strategy
	mu       sync.Mutex
	disabled atomic.Bool
}

var _ security.Consumer = (*Runner)(nil)

// NewRunner wraps a strategy for the given context.
func NewRunner(ctx *engine.Context, s Strategy) *Runner {
	return &Runner{ctx: ctx, strategy: s}
}

// Disable makes the runner drop callbacks without invoking the strategy.
func (r *Runner) Disable() { r.disabled.Store(true) }

// Enable resumes decision making.
func (r *Runner) Enable() { r.disabled.Store(false) }

func (r *Runner) OnTrade(sec *security.Security) {
	r.run(func() { r.strategy.OnTrade(sec) })
}

func (r *Runner) OnBookUpdate(sec *security.Security) {
	r.run(func() { r.strategy.OnBookUpdate(sec) })
}

// OnPositionUpdate feeds a position transition through the same decision
// lock as market data.
func (r *Runner) OnPositionUpdate(pos *position.Position) {
	r.run(func() { r.strategy.OnPositionUpdate(pos) })
}

func (r *Runner) run(fn func()) {
	m := r.ctx.StrategyLatency().Start()
	if r.disabled.Load() {
		m.Measure(obs.CheckpointStrategyWithoutDecision)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m.Measure(obs.CheckpointStrategyDecisionStart)
	r.ctx.BeginDispatch()
	defer r.ctx.EndDispatch()
	defer m.Measure(obs.CheckpointStrategyDecisionStop)
	fn()
}
