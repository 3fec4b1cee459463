// Package fake implements the reference simulated venue. It exercises the
// full asynchronous order contract against real market data: configurable
// execution and report delays in live mode, deterministic delay chaining
// driven by the replay clock in replay mode.
package fake

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/engine"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/security"
	"main/internal/trade"
)

// retryInterval paces re-matching of retained GTC orders in live mode.
const retryInterval = 5 * time.Millisecond

type order struct {
	id         trade.OrderID
	sec        *security.Security
	side       enum.OrderSide
	typ        enum.OrderType
	tif        enum.OrderTimeInForce
	qty        model.Quantity
	price      model.Price
	cb         trade.StatusUpdate
	milestones obs.Milestones

	// cancelled is a request flag, applied when the order is next drained.
	cancelled bool

	// replay scheduling
	submitTime time.Time
	execTime   time.Time
}

type doneRec struct {
	cb        trade.StatusUpdate
	cancelled bool
}

// doneLimit bounds how many completed orders stay known for duplicate-cancel
// detection; beyond it the oldest are forgotten and cancelling them reports
// ErrUnknownOrder.
const doneLimit = 1024

// System is the fake venue. Live mode runs a worker goroutine that drains
// submitted orders in FIFO order, sleeping the generated delays; replay mode
// executes orders on replay-clock advances with no worker and no sleeps.
type System struct {
	ctx    *engine.Context
	gen    *DelayGenerator
	replay bool

	mu        sync.Mutex
	cond      *sync.Cond
	connected bool
	closed    bool
	nextID    trade.OrderID
	pending   []*order
	active    map[trade.OrderID]*order
	done      map[trade.OrderID]doneRec
	doneIDs   []trade.OrderID

	lastSubmit    time.Time
	lastExecDelay time.Duration
}

var _ trade.System = (*System)(nil)

// New builds a fake venue bound to the context's clock mode.
func New(ctx *engine.Context, gen *DelayGenerator) *System {
	s := &System{
		ctx:    ctx,
		gen:    gen,
		replay: ctx.Settings().Replay,
		active: make(map[trade.OrderID]*order),
		done:   make(map[trade.OrderID]doneRec),
	}
	s.cond = sync.NewCond(&s.mu)
	if s.replay {
		ctx.SubscribeToCurrentTimeChange(s.onTimeChange)
	}
	return s
}

func (s *System) Connect(cfg trade.ConnectConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("fake trade system closed")
	}
	if s.connected {
		return nil
	}
	s.connected = true
	if !s.replay {
		go s.worker()
	}
	logs.Infof("fake trade system connected, tag: %s, replay: %t", cfg.Tag, s.replay)
	return nil
}

func (s *System) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close stops the worker. Orders still pending never report.
func (s *System) Close() {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *System) SellAtMarket(sec *security.Security, currency string, qty model.Quantity, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(sec, enum.OrderSideSell, enum.OrderTypeMarket, enum.OrderTimeInForceGTC, qty, 0, cb)
}

func (s *System) Sell(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(sec, enum.OrderSideSell, enum.OrderTypeLimit, enum.OrderTimeInForceGTC, qty, price, cb)
}

func (s *System) SellIOC(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(sec, enum.OrderSideSell, enum.OrderTypeLimit, enum.OrderTimeInForceIOC, qty, price, cb)
}

func (s *System) SellAtMarketWithStop(sec *security.Security, currency string, qty model.Quantity, stopPrice model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return 0, errors.Wrap(trade.ErrNotSupported, "stop orders")
}

func (s *System) BuyAtMarket(sec *security.Security, currency string, qty model.Quantity, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(sec, enum.OrderSideBuy, enum.OrderTypeMarket, enum.OrderTimeInForceGTC, qty, 0, cb)
}

func (s *System) Buy(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(sec, enum.OrderSideBuy, enum.OrderTypeLimit, enum.OrderTimeInForceGTC, qty, price, cb)
}

func (s *System) BuyIOC(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(sec, enum.OrderSideBuy, enum.OrderTypeLimit, enum.OrderTimeInForceIOC, qty, price, cb)
}

func (s *System) BuyAtMarketWithStop(sec *security.Security, currency string, qty model.Quantity, stopPrice model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return 0, errors.Wrap(trade.ErrNotSupported, "stop orders")
}

// CancelOrder flags an active order for cancellation at its next drain. A
// fill that lands first stands. Cancelling an already cancelled order
// reports an Error status, matching real venues that reject the duplicate.
func (s *System) CancelOrder(id trade.OrderID) error {
	s.mu.Lock()
	if o, ok := s.active[id]; ok {
		o.cancelled = true
		s.mu.Unlock()
		return nil
	}
	rec, ok := s.done[id]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(trade.ErrUnknownOrder, "id: %d", id)
	}
	if rec.cancelled {
		// delivered on the caller's goroutine so replay stays single-threaded
		s.ctx.BeginDispatch()
		rec.cb(trade.Update{OrderID: id, Status: enum.OrderStatusError})
		s.ctx.EndDispatch()
	}
	return nil
}

// CancelAllOrders flags every active order of the security. A nil security
// flags everything.
func (s *System) CancelAllOrders(sec *security.Security) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.active {
		if sec == nil || o.sec == sec {
			o.cancelled = true
		}
	}
	return nil
}

func (s *System) submit(sec *security.Security, side enum.OrderSide, typ enum.OrderType, tif enum.OrderTimeInForce, qty model.Quantity, price model.Price, cb trade.StatusUpdate) (trade.OrderID, error) {
	if err := trade.ValidateRequest(sec, qty, price, typ == enum.OrderTypeLimit, cb); err != nil {
		return 0, err
	}

	m := s.ctx.TradeSystemLatency().Start()
	m.Measure(obs.CheckpointOrderSend)

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return 0, trade.ErrNotConnected
	}
	s.nextID++
	o := &order{
		id:         s.nextID,
		sec:        sec,
		side:       side,
		typ:        typ,
		tif:        tif,
		qty:        qty,
		price:      price,
		cb:         cb,
		milestones: m,
	}
	if s.replay {
		s.scheduleReplay(o)
	}
	s.pending = append(s.pending, o)
	s.active[o.id] = o
	s.mu.Unlock()

	m.Measure(obs.CheckpointOrderSent)
	if !s.replay {
		s.cond.Signal()
	}
	logs.Debugf("order accepted, id: %d, %s %s %s", o.id, side, typ, tif)
	return o.id, nil
}

// scheduleReplay chains submit times so replayed orders execute in a fixed,
// input-determined sequence: each order is submitted the moment the previous
// one executed. Called with mu held.
func (s *System) scheduleReplay(o *order) {
	submit := s.ctx.Now()
	if !s.lastSubmit.IsZero() {
		if chained := s.lastSubmit.Add(s.lastExecDelay); chained.After(submit) {
			submit = chained
		}
	}
	execDelay := s.gen.ExecDelay()
	o.submitTime = submit
	o.execTime = submit.Add(execDelay)
	s.lastSubmit = submit
	s.lastExecDelay = execDelay
}

func (s *System) worker() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		var retained []*order
		for _, o := range batch {
			time.Sleep(s.gen.ExecDelay())
			if s.takeCancelled(o) {
				time.Sleep(s.gen.ReportDelay())
				s.complete(o, enum.OrderStatusCancelled, 0, o.qty, 0)
				continue
			}
			price, matched := s.match(o)
			if matched && !s.gen.ShouldFill() {
				matched = false
			}
			if !matched {
				if o.tif == enum.OrderTimeInForceIOC {
					time.Sleep(s.gen.ReportDelay())
					s.complete(o, enum.OrderStatusCancelled, 0, o.qty, 0)
				} else {
					retained = append(retained, o)
				}
				continue
			}
			time.Sleep(s.gen.ReportDelay())
			s.complete(o, enum.OrderStatusFilled, o.qty, 0, price)
		}

		if len(retained) > 0 {
			s.mu.Lock()
			s.pending = append(retained, s.pending...)
			s.mu.Unlock()
			time.Sleep(retryInterval)
		}
	}
}

// onTimeChange executes every order due by newTime. The clock is set to each
// order's execution time before its report is delivered, and dispatching is
// synchronized between orders, so replays of the same input are
// bit-identical.
func (s *System) onTimeChange(newTime time.Time) {
	var due []*order
	s.mu.Lock()
	for len(s.pending) > 0 && !s.pending[0].execTime.After(newTime) {
		due = append(due, s.pending[0])
		s.pending = s.pending[1:]
	}
	s.mu.Unlock()

	var retained []*order
	for _, o := range due {
		if err := s.ctx.SetCurrentTime(o.execTime, false); err != nil {
			logs.Warnf("replay execution time, err: %+v", err)
		}
		if s.takeCancelled(o) {
			s.complete(o, enum.OrderStatusCancelled, 0, o.qty, 0)
			s.ctx.SyncDispatching()
			continue
		}
		price, matched := s.match(o)
		if matched && !s.gen.ShouldFill() {
			matched = false
		}
		switch {
		case matched:
			s.complete(o, enum.OrderStatusFilled, o.qty, 0, price)
		case o.tif == enum.OrderTimeInForceIOC:
			s.complete(o, enum.OrderStatusCancelled, 0, o.qty, 0)
		default:
			retained = append(retained, o)
		}
		s.ctx.SyncDispatching()
	}

	if len(retained) > 0 {
		s.mu.Lock()
		s.pending = append(retained, s.pending...)
		s.mu.Unlock()
	}
}

func (s *System) takeCancelled(o *order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return o.cancelled
}

// match resolves the execution price against the security's current state.
// A sell fills when its limit is at or below the best bid, a buy when its
// limit is at or above the best ask; market orders take the opposite top of
// book, falling back to the last trade price.
func (s *System) match(o *order) (model.Price, bool) {
	var quote security.Level
	var err error
	if o.side == enum.OrderSideSell {
		quote, err = o.sec.Bid()
	} else {
		quote, err = o.sec.Ask()
	}

	if o.typ == enum.OrderTypeMarket {
		if err == nil && quote.Price > 0 {
			return quote.Price, true
		}
		if p, lerr := o.sec.LastPrice(); lerr == nil {
			return p, true
		}
		return 0, false
	}

	if err == nil {
		if o.side == enum.OrderSideSell && o.price <= quote.Price {
			return o.price, true
		}
		if o.side == enum.OrderSideBuy && o.price >= quote.Price {
			return o.price, true
		}
		return 0, false
	}
	if p, lerr := o.sec.LastPrice(); lerr == nil {
		if o.side == enum.OrderSideSell && o.price <= p {
			return o.price, true
		}
		if o.side == enum.OrderSideBuy && o.price >= p {
			return o.price, true
		}
	}
	return 0, false
}

// complete delivers the terminal report and retires the order. The callback
// runs inside a dispatch slot so SyncDispatching observes it.
func (s *System) complete(o *order, status enum.OrderStatus, filled, remaining model.Quantity, price model.Price) {
	s.mu.Lock()
	delete(s.active, o.id)
	s.done[o.id] = doneRec{cb: o.cb, cancelled: status == enum.OrderStatusCancelled}
	s.doneIDs = append(s.doneIDs, o.id)
	for len(s.doneIDs) > doneLimit {
		delete(s.done, s.doneIDs[0])
		s.doneIDs = s.doneIDs[1:]
	}
	s.mu.Unlock()

	o.milestones.Measure(obs.CheckpointOrderReplyReceived)
	s.ctx.BeginDispatch()
	o.cb(trade.Update{
		OrderID:      o.id,
		Status:       status,
		FilledQty:    filled,
		RemainingQty: remaining,
		TradePrice:   price,
	})
	s.ctx.EndDispatch()
	o.milestones.Measure(obs.CheckpointOrderReplyProcessed)
}
