package security

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
)

var (
	ErrNoData       = errors.New("no market data yet")
	ErrUnknownLevel = errors.New("book level out of range")
	ErrBadUpdate    = errors.New("invalid market data update")
)

// Trade is the last observed trade of an instrument.
type Trade struct {
	Time  time.Time
	Side  enum.OrderSide
	Price model.Price
	Qty   model.Quantity
}

// Requirements describes what data a consumer needs from a security.
// Aggregation across subscribers is most-demanding-wins.
type Requirements struct {
	Trades bool
	Book   bool
	// Ticks is the number of historical ticks the consumer needs primed.
	Ticks int
	// Since is the earliest point in time the consumer needs data from.
	// Zero means no history requirement.
	Since time.Time
}

// Merge combines two requirement records: flags are OR-ed, tick counts take
// the maximum and time horizons take the earliest requested time.
func (r Requirements) Merge(other Requirements) Requirements {
	out := r
	out.Trades = out.Trades || other.Trades
	out.Book = out.Book || other.Book
	if other.Ticks > out.Ticks {
		out.Ticks = other.Ticks
	}
	if !other.Since.IsZero() && (out.Since.IsZero() || other.Since.Before(out.Since)) {
		out.Since = other.Since
	}
	return out
}

// Consumer receives state-change notifications from a Security. Calls happen
// on the updating adapter's goroutine, in subscriber registration order.
type Consumer interface {
	OnTrade(*Security)
	OnBookUpdate(*Security)
}

type subscription struct {
	consumer Consumer
	req      Requirements
}

// Security owns the live market state of one instrument: last trade,
// top-of-book and the multi-level book snapshot. Exactly one adapter
// goroutine writes; any number of strategy goroutines read. Readers never
// block on notification delivery.
type Security struct {
	symbol model.Symbol
	scale  model.ScaleSpec
	source string

	mu        sync.RWMutex
	lastTrade Trade
	hasTrade  bool
	bookTime  time.Time
	bids      []Level
	asks      []Level
	hasBook   bool

	subMu sync.Mutex
	subs  []subscription
	agg   Requirements
}

// New creates a security owned by the named market data source.
func New(symbol model.Symbol, scale model.ScaleSpec, source string) (*Security, error) {
	if err := scale.Validate(); err != nil {
		return nil, err
	}
	return &Security{symbol: symbol, scale: scale, source: source}, nil
}

func (s *Security) Symbol() model.Symbol   { return s.symbol }
func (s *Security) Scale() model.ScaleSpec { return s.scale }
func (s *Security) Source() string         { return s.source }

// UpdateTrade records the last trade and notifies trade subscribers on the
// calling goroutine. At most one adapter goroutine may call this per
// instance; readers may run concurrently.
func (s *Security) UpdateTrade(t time.Time, side enum.OrderSide, price model.Price, qty model.Quantity) error {
	if price <= 0 || qty <= 0 {
		return errors.Wrap(ErrBadUpdate, "trade price and qty must be > 0")
	}
	if !side.IsAvailable() {
		return errors.Wrap(ErrBadUpdate, "trade side is unknown")
	}

	s.mu.Lock()
	s.lastTrade = Trade{Time: t, Side: side, Price: price, Qty: qty}
	s.hasTrade = true
	s.mu.Unlock()

	for _, sub := range s.subscribers() {
		if sub.req.Trades {
			sub.consumer.OnTrade(s)
		}
	}
	return nil
}

// UpdateBook replaces the per-side level snapshot. Bids must be sorted by
// strictly descending price and asks by strictly ascending price; violating
// this is a caller contract violation and the update is rejected.
func (s *Security) UpdateBook(t time.Time, bids, asks []Level) error {
	if err := validateLevels(bids, true); err != nil {
		return err
	}
	if err := validateLevels(asks, false); err != nil {
		return err
	}

	s.mu.Lock()
	s.bookTime = t
	s.bids = copyLevels(bids)
	s.asks = copyLevels(asks)
	s.hasBook = true
	s.mu.Unlock()

	for _, sub := range s.subscribers() {
		if sub.req.Book {
			sub.consumer.OnBookUpdate(s)
		}
	}
	return nil
}

// Subscribe registers a consumer with its data requirements. Subscribing the
// same consumer again replaces its requirements; aggregate requirements are
// recomputed with most-demanding-wins.
func (s *Security) Subscribe(consumer Consumer, req Requirements) {
	if consumer == nil {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i := range s.subs {
		if s.subs[i].consumer == consumer {
			s.subs[i].req = req
			s.recomputeRequirements()
			return
		}
	}
	s.subs = append(s.subs, subscription{consumer: consumer, req: req})
	s.agg = s.agg.Merge(req)
}

// AggregateRequirements returns the merged requirements of all subscribers.
func (s *Security) AggregateRequirements() Requirements {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.agg
}

func (s *Security) recomputeRequirements() {
	var agg Requirements
	for i := range s.subs {
		agg = agg.Merge(s.subs[i].req)
	}
	s.agg = agg
}

func (s *Security) subscribers() []subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// LastTrade returns the most recent trade. ErrNoData before the first
// update; never a zero value silently treated as real.
func (s *Security) LastTrade() (Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasTrade {
		return Trade{}, ErrNoData
	}
	return s.lastTrade, nil
}

// LastPrice returns the price of the most recent trade.
func (s *Security) LastPrice() (model.Price, error) {
	t, err := s.LastTrade()
	if err != nil {
		return 0, err
	}
	return t.Price, nil
}

// Bid returns the best bid level.
func (s *Security) Bid() (Level, error) {
	return s.BookLevel(enum.OrderSideBuy, 0)
}

// Ask returns the best ask level.
func (s *Security) Ask() (Level, error) {
	return s.BookLevel(enum.OrderSideSell, 0)
}

// BookLevel returns the i-th best level of one side. The buy side holds
// bids, the sell side asks.
func (s *Security) BookLevel(side enum.OrderSide, i int) (Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasBook {
		return Level{}, ErrNoData
	}
	levels := s.bids
	if side == enum.OrderSideSell {
		levels = s.asks
	}
	if i < 0 || i >= len(levels) {
		return Level{}, ErrUnknownLevel
	}
	return levels[i], nil
}

// Book returns a copy of the current book snapshot.
func (s *Security) Book() (Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasBook {
		return Book{}, ErrNoData
	}
	return Book{Bids: copyLevels(s.bids), Asks: copyLevels(s.asks)}, nil
}

// BookTime returns the time of the last book update.
func (s *Security) BookTime() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasBook {
		return time.Time{}, ErrNoData
	}
	return s.bookTime, nil
}
