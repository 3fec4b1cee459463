package feed

import (
	"math/rand"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/engine"
	"main/internal/journal"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/security"
)

// RandomConfig parameterizes the synthetic feed.
type RandomConfig struct {
	// Interval between generated ticks. Defaults to 100ms.
	Interval time.Duration
	// Seed fixes the walk. Zero seeds from the wall clock.
	Seed int64
	// Spread between the mid and each side of the generated book, in price
	// units. Defaults to 1.
	Spread model.Price
	// MaxStep bounds one price move. Defaults to Spread.
	MaxStep model.Price
	// MaxQty bounds generated trade and level sizes. Defaults to 10.
	MaxQty model.Quantity
	// BasePrices maps symbol keys to starting prices. Symbols without an
	// entry start at DefaultBasePrice.
	BasePrices       map[string]model.Price
	DefaultBasePrice model.Price
}

func (c RandomConfig) withDefaults() RandomConfig {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Spread <= 0 {
		c.Spread = 1
	}
	if c.MaxStep <= 0 {
		c.MaxStep = c.Spread
	}
	if c.MaxQty <= 0 {
		c.MaxQty = 10
	}
	if c.DefaultBasePrice <= 0 {
		c.DefaultBasePrice = 10000
	}
	return c
}

type randomInstrument struct {
	sec   *security.Security
	price model.Price
}

// RandomSource drives its securities with a seeded random walk until
// shutdown. One goroutine generates for all instruments, so per-security
// updates keep the single-writer contract.
type RandomSource struct {
	ctx *engine.Context
	cfg RandomConfig
	rng *rand.Rand

	mu          sync.Mutex
	instruments []*randomInstrument
	connected   bool
	started     bool
	stop        chan struct{}

	jw *journal.Writer
}

var _ Source = (*RandomSource)(nil)

// NewRandomSource builds the source for a context.
func NewRandomSource(ctx *engine.Context, cfg RandomConfig) *RandomSource {
	cfg = cfg.withDefaults()
	return &RandomSource{
		ctx:  ctx,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		stop: make(chan struct{}),
	}
}

// WithJournal also records every generated event to the journal.
func (s *RandomSource) WithJournal(w *journal.Writer) *RandomSource {
	s.jw = w
	return s
}

func (s *RandomSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// CreateSecurity creates and registers one instrument of the walk.
func (s *RandomSource) CreateSecurity(ctx *engine.Context, symbol model.Symbol, scale model.ScaleSpec) (*security.Security, error) {
	sec, err := security.New(symbol, scale, "random")
	if err != nil {
		return nil, err
	}
	if err := ctx.RegisterSecurity(sec); err != nil {
		return nil, err
	}

	price := s.cfg.DefaultBasePrice
	if p, ok := s.cfg.BasePrices[symbol.Key()]; ok && p > 0 {
		price = p
	}
	s.mu.Lock()
	s.instruments = append(s.instruments, &randomInstrument{sec: sec, price: price})
	s.mu.Unlock()
	return sec, nil
}

// SubscribeToSecurities starts the generator goroutine.
func (s *RandomSource) SubscribeToSecurities() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("random source not connected")
	}
	if len(s.instruments) == 0 {
		return errors.New("random source has no securities")
	}
	if s.started {
		return nil
	}
	s.started = true

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		logs.Infof("random feed started, instruments: %d, seed: %d", len(s.instruments), s.cfg.Seed)
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
	return nil
}

// Close stops the generator.
func (s *RandomSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		close(s.stop)
		s.started = false
	}
}

func (s *RandomSource) tick() {
	s.mu.Lock()
	instruments := make([]*randomInstrument, len(s.instruments))
	copy(instruments, s.instruments)
	s.mu.Unlock()

	now := s.ctx.Now()
	for _, inst := range instruments {
		s.step(now, inst)
	}
}

func (s *RandomSource) step(now time.Time, inst *randomInstrument) {
	step := model.Price(s.rng.Int63n(int64(2*s.cfg.MaxStep)+1)) - s.cfg.MaxStep
	inst.price += step
	if inst.price <= s.cfg.Spread {
		inst.price = s.cfg.Spread + 1
	}
	side := enum.OrderSideBuy
	if step < 0 {
		side = enum.OrderSideSell
	}
	qty := 1 + model.Quantity(s.rng.Int63n(int64(s.cfg.MaxQty)))

	bids := []security.Level{{Price: inst.price - s.cfg.Spread, Qty: qty}}
	asks := []security.Level{{Price: inst.price + s.cfg.Spread, Qty: qty}}

	m := s.ctx.DataLatency().Start()
	m.Measure(obs.CheckpointDataEnqueue)
	if err := inst.sec.UpdateBook(now, bids, asks); err != nil {
		logs.Errorf("update book, err: %+v", err)
		return
	}
	if err := inst.sec.UpdateTrade(now, side, inst.price, qty); err != nil {
		logs.Errorf("update trade, err: %+v", err)
		return
	}
	m.Measure(obs.CheckpointDataRaise)

	if s.jw != nil {
		key := inst.sec.Symbol().Key()
		if err := s.jw.AppendBook(now, key, bids, asks); err != nil {
			logs.Warnf("journal book, err: %+v", err)
		}
		if err := s.jw.AppendTrade(now, key, side, inst.price, qty); err != nil {
			logs.Warnf("journal trade, err: %+v", err)
		}
	}
}
