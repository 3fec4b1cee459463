// Package position tracks one planned exposure through its life cycle:
// Opening, Open, Closing, Closed, with Error absorbing any failed order.
// Quantities only ever grow and always satisfy closed <= opened <= planned.
package position

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/risk"
	"main/internal/security"
	"main/internal/trade"
)

var (
	ErrBadConfig     = errors.New("invalid position config")
	ErrBadTransition = errors.New("operation not allowed in current state")
	ErrNoActiveOrder = errors.New("no order in flight")
)

// Reporter receives one snapshot when a position reaches a final state.
type Reporter interface {
	ReportClosed(Snapshot)
}

// Snapshot is an immutable copy of the position's accounting.
type Snapshot struct {
	Symbol      model.Symbol
	Side        enum.PositionSide
	State       enum.PositionState
	Planned     model.Quantity
	Opened      model.Quantity
	Closed      model.Quantity
	OpenVolume  model.Notional
	CloseVolume model.Notional
	PnL         model.Notional
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Config wires a position to its security, venue and optional services.
type Config struct {
	Security *security.Security
	System   trade.System
	Side     enum.PositionSide
	Qty      model.Quantity
	Currency string
	// Risk, Now and Reporter are optional. Now defaults to the wall clock;
	// replay runs inject the context clock.
	Risk     risk.Checker
	Now      func() time.Time
	Reporter Reporter
}

// Position is safe for concurrent use: venue callbacks and strategy calls
// may interleave freely.
type Position struct {
	sec       *security.Security
	sys       trade.System
	side      enum.PositionSide
	planned   model.Quantity
	currency  string
	riskCheck risk.Checker
	now       func() time.Time
	reporter  Reporter

	mu          sync.Mutex
	state       enum.PositionState
	opened      model.Quantity
	closed      model.Quantity
	openVolume  model.Notional
	closeVolume model.Notional
	openedAt    time.Time
	closedAt    time.Time
	activeOrder trade.OrderID
	hasOrder    bool
	reported    bool

	subMu sync.Mutex
	subs  []func(*Position)
}

// New validates the config and builds a position in the New state.
func New(cfg Config) (*Position, error) {
	if cfg.Security == nil {
		return nil, errors.Wrap(ErrBadConfig, "security is nil")
	}
	if cfg.System == nil {
		return nil, errors.Wrap(ErrBadConfig, "trade system is nil")
	}
	if !cfg.Side.IsAvailable() {
		return nil, errors.Wrap(ErrBadConfig, "side is unknown")
	}
	if cfg.Qty <= 0 {
		return nil, errors.Wrap(ErrBadConfig, "qty must be > 0")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Position{
		sec:       cfg.Security,
		sys:       cfg.System,
		side:      cfg.Side,
		planned:   cfg.Qty,
		currency:  cfg.Currency,
		riskCheck: cfg.Risk,
		now:       now,
		reporter:  cfg.Reporter,
		state:     enum.PositionStateNew,
	}, nil
}

func (p *Position) Security() *security.Security { return p.sec }
func (p *Position) Side() enum.PositionSide      { return p.side }
func (p *Position) Planned() model.Quantity      { return p.planned }

func (p *Position) State() enum.PositionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Position) Opened() model.Quantity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *Position) Closed() model.Quantity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// OpenVWAP is the volume-weighted average opening price. Zero before the
// first fill.
func (p *Position) OpenVWAP() model.Price {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened == 0 {
		return 0
	}
	return model.Price(int64(p.openVolume) / int64(p.opened))
}

// CloseVWAP is the volume-weighted average closing price.
func (p *Position) CloseVWAP() model.Price {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed == 0 {
		return 0
	}
	return model.Price(int64(p.closeVolume) / int64(p.closed))
}

// RealizedPnL is the profit on the closed part of the position, in notional
// units. Positive means the closed quantity was profitable.
func (p *Position) RealizedPnL() model.Notional {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pnlLocked()
}

func (p *Position) pnlLocked() model.Notional {
	if p.opened == 0 || p.closed == 0 {
		return 0
	}
	openPortion := model.Notional(int64(p.openVolume) * int64(p.closed) / int64(p.opened))
	pnl := p.closeVolume - openPortion
	if p.side == enum.PositionSideShort {
		pnl = -pnl
	}
	return pnl
}

// Subscribe registers a state-change callback, invoked after every fill and
// transition on the goroutine that processed it.
func (p *Position) Subscribe(fn func(*Position)) {
	if fn == nil {
		return
	}
	p.subMu.Lock()
	p.subs = append(p.subs, fn)
	p.subMu.Unlock()
}

// Open sends the opening order as a GTC limit at the given price.
func (p *Position) Open(price model.Price) error {
	return p.OpenWith(LimitGTCPolicy{LimitPrice: price})
}

// OpenAtMarket sends the opening order at market.
func (p *Position) OpenAtMarket() error {
	return p.OpenWith(MarketPolicy{})
}

// OpenWith sends the opening order through the given policy. Allowed only in
// the New state; a risk denial leaves the position untouched.
func (p *Position) OpenWith(policy OrderPolicy) error {
	side := p.side.OpenOrderSide()

	p.mu.Lock()
	if p.state != enum.PositionStateNew {
		state := p.state
		p.mu.Unlock()
		return errors.Wrapf(ErrBadTransition, "open in state %s", state)
	}
	if err := p.checkRiskLocked(side, p.planned, policy.Price()); err != nil {
		p.mu.Unlock()
		return err
	}
	p.state = enum.PositionStateOpening
	p.mu.Unlock()

	id, err := policy.Submit(p.sys, p.sec, p.currency, side, p.planned, p.onOpenUpdate)
	if err != nil {
		p.mu.Lock()
		p.state = enum.PositionStateNew
		p.mu.Unlock()
		return errors.Wrap(err, "submit open order")
	}
	p.mu.Lock()
	p.activeOrder = id
	p.hasOrder = true
	p.mu.Unlock()
	p.notify()
	return nil
}

// Close sends the closing order as a GTC limit at the given price.
func (p *Position) Close(price model.Price) error {
	return p.CloseWith(LimitGTCPolicy{LimitPrice: price})
}

// CloseAtMarket sends the closing order at market.
func (p *Position) CloseAtMarket() error {
	return p.CloseWith(MarketPolicy{})
}

// CloseWith sends the closing order for the still-open quantity. Allowed
// only in the Open state.
func (p *Position) CloseWith(policy OrderPolicy) error {
	side := p.side.CloseOrderSide()

	p.mu.Lock()
	if p.state != enum.PositionStateOpen {
		state := p.state
		p.mu.Unlock()
		return errors.Wrapf(ErrBadTransition, "close in state %s", state)
	}
	qty := p.opened - p.closed
	if err := p.checkRiskLocked(side, qty, policy.Price()); err != nil {
		p.mu.Unlock()
		return err
	}
	p.state = enum.PositionStateClosing
	p.mu.Unlock()

	id, err := policy.Submit(p.sys, p.sec, p.currency, side, qty, p.onCloseUpdate)
	if err != nil {
		p.mu.Lock()
		p.state = enum.PositionStateOpen
		p.mu.Unlock()
		return errors.Wrap(err, "submit close order")
	}
	p.mu.Lock()
	p.activeOrder = id
	p.hasOrder = true
	p.mu.Unlock()
	p.notify()
	return nil
}

// CancelOrder asks the venue to cancel the order in flight. The outcome
// still arrives through the order's status updates.
func (p *Position) CancelOrder() error {
	p.mu.Lock()
	if !p.hasOrder {
		p.mu.Unlock()
		return ErrNoActiveOrder
	}
	id := p.activeOrder
	p.mu.Unlock()
	return p.sys.CancelOrder(id)
}

// checkRiskLocked builds the intent and consults the checker. Called with
// mu held.
func (p *Position) checkRiskLocked(side enum.OrderSide, qty model.Quantity, price model.Price) error {
	if p.riskCheck == nil {
		return nil
	}
	notionalPrice := price
	if notionalPrice == 0 {
		if last, err := p.sec.LastPrice(); err == nil {
			notionalPrice = last
		}
	}
	return p.riskCheck.Check(risk.Intent{
		SymbolKey: p.sec.Symbol().Key(),
		Side:      side,
		Qty:       qty,
		Price:     price,
		Notional:  model.Notional(int64(notionalPrice) * int64(qty)),
	})
}

func (p *Position) onOpenUpdate(u trade.Update) {
	p.mu.Lock()
	p.applyFillLocked(u, true)
	switch {
	case p.state == enum.PositionStateError:
	case u.Status == enum.OrderStatusFilled:
		p.state = enum.PositionStateOpen
		if p.opened != p.planned {
			logs.Warnf("open order filled short, opened: %d, planned: %d, symbol: %s",
				p.opened, p.planned, p.sec.Symbol())
		}
	case u.Status.IsTerminal():
		// cancelled, rejected or errored while opening
		p.state = enum.PositionStateError
	}
	p.finishLocked(u.Status)
}

func (p *Position) onCloseUpdate(u trade.Update) {
	p.mu.Lock()
	p.applyFillLocked(u, false)
	switch {
	case p.state == enum.PositionStateError:
	case u.Status == enum.OrderStatusFilled && p.closed == p.opened:
		p.state = enum.PositionStateClosed
		p.closedAt = p.now()
	case u.Status.IsTerminal():
		p.state = enum.PositionStateError
	}
	p.finishLocked(u.Status)
}

// applyFillLocked folds one fill into the accounting. A fill that would
// break closed <= opened <= planned errors the position instead of being
// booked.
func (p *Position) applyFillLocked(u trade.Update, opening bool) {
	if u.FilledQty <= 0 {
		return
	}
	volume := model.Notional(int64(u.TradePrice) * int64(u.FilledQty))
	if opening {
		if p.opened+u.FilledQty > p.planned {
			logs.Errorf("fill over plan, opened: %d, fill: %d, planned: %d, symbol: %s",
				p.opened, u.FilledQty, p.planned, p.sec.Symbol())
			p.state = enum.PositionStateError
			return
		}
		p.opened += u.FilledQty
		p.openVolume += volume
		if p.openedAt.IsZero() {
			p.openedAt = p.now()
		}
		if p.riskCheck != nil {
			p.riskCheck.OnFill(p.sec.Symbol().Key(), p.side.OpenOrderSide(), u.FilledQty)
		}
		return
	}
	if p.closed+u.FilledQty > p.opened {
		logs.Errorf("fill over open qty, closed: %d, fill: %d, opened: %d, symbol: %s",
			p.closed, u.FilledQty, p.opened, p.sec.Symbol())
		p.state = enum.PositionStateError
		return
	}
	p.closed += u.FilledQty
	p.closeVolume += volume
	if p.riskCheck != nil {
		p.riskCheck.OnFill(p.sec.Symbol().Key(), p.side.CloseOrderSide(), u.FilledQty)
	}
}

// finishLocked releases the order slot on terminal updates, reports final
// states once, and fans out notifications. Unlocks mu.
func (p *Position) finishLocked(status enum.OrderStatus) {
	var report *Snapshot
	if status.IsTerminal() {
		p.hasOrder = false
	}
	if p.state.IsFinal() && !p.reported {
		p.reported = true
		s := p.snapshotLocked()
		report = &s
	}
	p.mu.Unlock()

	if report != nil && p.reporter != nil {
		p.reporter.ReportClosed(*report)
	}
	p.notify()
}

func (p *Position) snapshotLocked() Snapshot {
	return Snapshot{
		Symbol:      p.sec.Symbol(),
		Side:        p.side,
		State:       p.state,
		Planned:     p.planned,
		Opened:      p.opened,
		Closed:      p.closed,
		OpenVolume:  p.openVolume,
		CloseVolume: p.closeVolume,
		PnL:         p.pnlLocked(),
		OpenedAt:    p.openedAt,
		ClosedAt:    p.closedAt,
	}
}

// Snapshot returns a copy of the current accounting.
func (p *Position) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Position) notify() {
	p.subMu.Lock()
	subs := make([]func(*Position), len(p.subs))
	copy(subs, p.subs)
	p.subMu.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}
