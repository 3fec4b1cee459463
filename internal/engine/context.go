// Package engine hosts the Context: the registries, clock and dispatch
// barrier every other component hangs off.
package engine

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/security"
	"main/internal/trade"
)

var (
	ErrUnknownSecurity    = errors.New("security not registered")
	ErrUnknownTradeSystem = errors.New("trade system not registered")
	ErrUnknownSource      = errors.New("market data source not registered")
	ErrDuplicateSecurity  = errors.New("security already registered")
	ErrDuplicateTag       = errors.New("tag already registered")
	ErrLiveClock          = errors.New("cannot set current time on a live clock")
	ErrClockBackwards     = errors.New("current time must advance monotonically")
)

// MarketDataSource is the engine-side view of a feed: connect, then create
// and update securities until shutdown.
type MarketDataSource interface {
	Connect() error
	SubscribeToSecurities() error
}

// Settings is the static per-run configuration of a Context.
type Settings struct {
	// Replay selects the explicit replay clock instead of the wall clock.
	Replay bool
	// SessionStart/SessionEnd bound the trading session. Zero values mean
	// an unbounded session.
	SessionStart time.Time
	SessionEnd   time.Time
}

// InSession reports whether t falls inside the configured session window.
func (s Settings) InSession(t time.Time) bool {
	if !s.SessionStart.IsZero() && t.Before(s.SessionStart) {
		return false
	}
	if !s.SessionEnd.IsZero() && t.After(s.SessionEnd) {
		return false
	}
	return true
}

type tradeSystemEntry struct {
	tag string
	sys trade.System
}

type sourceEntry struct {
	tag string
	src MarketDataSource
}

// Context ties one engine run together: the securities, trade systems and
// data sources registered for it, the clock the run observes, and the
// barrier replay drivers use to serialize dispatching.
type Context struct {
	settings Settings

	regMu        sync.RWMutex
	securities   map[string]*security.Security
	secOrder     []*security.Security
	tradeSystems []tradeSystemEntry
	sources      []sourceEntry

	clockMu   sync.RWMutex
	replayNow time.Time

	timeSubMu sync.Mutex
	timeSubs  []func(time.Time)

	dispatchMu sync.RWMutex

	dataLatency        *obs.Accum
	strategyLatency    *obs.Accum
	tradeSystemLatency *obs.Accum
	dispatchingLatency obs.LatencyStats
}

// NewContext creates an empty context with the given settings.
func NewContext(settings Settings) *Context {
	return &Context{
		settings:           settings,
		securities:         make(map[string]*security.Security),
		dataLatency:        obs.NewAccum(),
		strategyLatency:    obs.NewAccum(),
		tradeSystemLatency: obs.NewAccum(),
	}
}

func (c *Context) Settings() Settings { return c.settings }

// RegisterSecurity adds a security to the registry, keyed by its symbol.
func (c *Context) RegisterSecurity(sec *security.Security) error {
	if sec == nil {
		return errors.Wrap(ErrUnknownSecurity, "nil security")
	}
	key := sec.Symbol().Key()
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if _, ok := c.securities[key]; ok {
		return errors.Wrap(ErrDuplicateSecurity, key)
	}
	c.securities[key] = sec
	c.secOrder = append(c.secOrder, sec)
	return nil
}

// Security resolves a registered security by symbol.
func (c *Context) Security(symbol model.Symbol) (*security.Security, error) {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	sec, ok := c.securities[symbol.Key()]
	if !ok {
		return nil, errors.Wrap(ErrUnknownSecurity, symbol.Key())
	}
	return sec, nil
}

// Securities returns every registered security in registration order.
func (c *Context) Securities() []*security.Security {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	out := make([]*security.Security, len(c.secOrder))
	copy(out, c.secOrder)
	return out
}

// RegisterTradeSystem registers a venue under a unique tag and returns its
// index.
func (c *Context) RegisterTradeSystem(tag string, sys trade.System) (int, error) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	for _, entry := range c.tradeSystems {
		if entry.tag == tag {
			return 0, errors.Wrap(ErrDuplicateTag, tag)
		}
	}
	c.tradeSystems = append(c.tradeSystems, tradeSystemEntry{tag: tag, sys: sys})
	return len(c.tradeSystems) - 1, nil
}

// TradeSystem resolves a venue by index.
func (c *Context) TradeSystem(i int) (trade.System, error) {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	if i < 0 || i >= len(c.tradeSystems) {
		return nil, errors.Wrapf(ErrUnknownTradeSystem, "index: %d", i)
	}
	return c.tradeSystems[i].sys, nil
}

// TradeSystemByTag resolves a venue by its registered tag.
func (c *Context) TradeSystemByTag(tag string) (trade.System, error) {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	for _, entry := range c.tradeSystems {
		if entry.tag == tag {
			return entry.sys, nil
		}
	}
	return nil, errors.Wrap(ErrUnknownTradeSystem, tag)
}

// RegisterSource registers a market data source under a unique tag and
// returns its index.
func (c *Context) RegisterSource(tag string, src MarketDataSource) (int, error) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	for _, entry := range c.sources {
		if entry.tag == tag {
			return 0, errors.Wrap(ErrDuplicateTag, tag)
		}
	}
	c.sources = append(c.sources, sourceEntry{tag: tag, src: src})
	return len(c.sources) - 1, nil
}

// Source resolves a market data source by index.
func (c *Context) Source(i int) (MarketDataSource, error) {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	if i < 0 || i >= len(c.sources) {
		return nil, errors.Wrapf(ErrUnknownSource, "index: %d", i)
	}
	return c.sources[i].src, nil
}

// SourceByTag resolves a market data source by its registered tag.
func (c *Context) SourceByTag(tag string) (MarketDataSource, error) {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	for _, entry := range c.sources {
		if entry.tag == tag {
			return entry.src, nil
		}
	}
	return nil, errors.Wrap(ErrUnknownSource, tag)
}

// Now returns the context's current time: the wall clock in live mode, the
// explicit replay value otherwise.
func (c *Context) Now() time.Time {
	if !c.settings.Replay {
		return time.Now()
	}
	c.clockMu.RLock()
	defer c.clockMu.RUnlock()
	return c.replayNow
}

// SetCurrentTime advances the replay clock. When notify is set, time-change
// subscribers run first, while Now still reports the previous value, so a
// subscriber may itself set intermediate times without a monotonicity
// violation. Time never moves backwards.
func (c *Context) SetCurrentTime(t time.Time, notify bool) error {
	if !c.settings.Replay {
		return ErrLiveClock
	}
	c.clockMu.RLock()
	current := c.replayNow
	c.clockMu.RUnlock()
	if t.Before(current) {
		return errors.Wrapf(ErrClockBackwards, "%s -> %s", current, t)
	}

	if notify {
		c.timeSubMu.Lock()
		subs := make([]func(time.Time), len(c.timeSubs))
		copy(subs, c.timeSubs)
		c.timeSubMu.Unlock()
		for _, fn := range subs {
			fn(t)
		}
	}

	c.clockMu.Lock()
	if t.After(c.replayNow) {
		c.replayNow = t
	}
	c.clockMu.Unlock()
	return nil
}

// SubscribeToCurrentTimeChange registers a callback invoked before each
// notifying replay-clock advance.
func (c *Context) SubscribeToCurrentTimeChange(fn func(time.Time)) {
	if fn == nil {
		return
	}
	c.timeSubMu.Lock()
	c.timeSubs = append(c.timeSubs, fn)
	c.timeSubMu.Unlock()
}

// BeginDispatch marks the calling goroutine as dispatching market data or
// order events. SyncDispatching blocks until it calls EndDispatch.
func (c *Context) BeginDispatch() { c.dispatchMu.RLock() }

// EndDispatch releases the dispatch slot taken by BeginDispatch.
func (c *Context) EndDispatch() { c.dispatchMu.RUnlock() }

// SyncDispatching blocks until every dispatch in flight at the moment of the
// call has finished.
func (c *Context) SyncDispatching() {
	start := time.Now()
	c.dispatchMu.Lock()
	c.dispatchMu.Unlock()
	c.dispatchingLatency.Observe(time.Since(start))
}

// DataLatency is the accumulator for market data path milestones.
func (c *Context) DataLatency() *obs.Accum { return c.dataLatency }

// StrategyLatency is the accumulator for strategy decision milestones.
func (c *Context) StrategyLatency() *obs.Accum { return c.strategyLatency }

// TradeSystemLatency is the accumulator for order path milestones.
func (c *Context) TradeSystemLatency() *obs.Accum { return c.tradeSystemLatency }

// ReportLatency dumps all latency accumulators to the log.
func (c *Context) ReportLatency() {
	c.dataLatency.Report("market_data")
	c.strategyLatency.Report("strategy")
	c.tradeSystemLatency.Report("trade_system")
	s := c.dispatchingLatency.Snapshot()
	if s.Count > 0 {
		logs.Infof("dispatching.sync_wait: count=%d min=%s avg=%s max=%s",
			s.Count, s.Min, s.Avg, s.Max)
	}
}
