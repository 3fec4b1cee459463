package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/risk"
	"main/internal/security"
	"main/internal/trade"
)

// stubSystem captures submitted orders so tests drive the callbacks.
type stubSystem struct {
	nextID    trade.OrderID
	lastCB    trade.StatusUpdate
	lastSide  enum.OrderSide
	lastQty   model.Quantity
	lastPrice model.Price
	cancelled []trade.OrderID
	submitErr error
}

func (s *stubSystem) submit(side enum.OrderSide, qty model.Quantity, price model.Price, cb trade.StatusUpdate) (trade.OrderID, error) {
	if s.submitErr != nil {
		return 0, s.submitErr
	}
	s.nextID++
	s.lastCB = cb
	s.lastSide = side
	s.lastQty = qty
	s.lastPrice = price
	return s.nextID, nil
}

func (s *stubSystem) Connect(trade.ConnectConfig) error { return nil }
func (s *stubSystem) IsConnected() bool                 { return true }

func (s *stubSystem) SellAtMarket(sec *security.Security, currency string, qty model.Quantity, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(enum.OrderSideSell, qty, 0, cb)
}
func (s *stubSystem) Sell(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(enum.OrderSideSell, qty, price, cb)
}
func (s *stubSystem) SellIOC(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(enum.OrderSideSell, qty, price, cb)
}
func (s *stubSystem) SellAtMarketWithStop(sec *security.Security, currency string, qty model.Quantity, stopPrice model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return 0, trade.ErrNotSupported
}
func (s *stubSystem) BuyAtMarket(sec *security.Security, currency string, qty model.Quantity, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(enum.OrderSideBuy, qty, 0, cb)
}
func (s *stubSystem) Buy(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(enum.OrderSideBuy, qty, price, cb)
}
func (s *stubSystem) BuyIOC(sec *security.Security, currency string, qty model.Quantity, price model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return s.submit(enum.OrderSideBuy, qty, price, cb)
}
func (s *stubSystem) BuyAtMarketWithStop(sec *security.Security, currency string, qty model.Quantity, stopPrice model.Price, params trade.OrderParams, cb trade.StatusUpdate) (trade.OrderID, error) {
	return 0, trade.ErrNotSupported
}
func (s *stubSystem) CancelOrder(id trade.OrderID) error {
	s.cancelled = append(s.cancelled, id)
	return nil
}
func (s *stubSystem) CancelAllOrders(sec *security.Security) error { return nil }

type recordingReporter struct {
	reports []Snapshot
}

func (r *recordingReporter) ReportClosed(s Snapshot) {
	r.reports = append(r.reports, s)
}

func newTestPosition(t *testing.T, side enum.PositionSide, qty model.Quantity) (*Position, *stubSystem, *recordingReporter) {
	t.Helper()
	symbol, err := model.NewCrypto("BTC-USD", "SIM", "USD")
	require.NoError(t, err)
	sec, err := security.New(symbol, model.ScaleSpec{PriceScale: 2, QuantityScale: 0}, "sim")
	require.NoError(t, err)

	sys := &stubSystem{}
	reporter := &recordingReporter{}
	pos, err := New(Config{
		Security: sec,
		System:   sys,
		Side:     side,
		Qty:      qty,
		Currency: "USD",
		Reporter: reporter,
	})
	require.NoError(t, err)
	return pos, sys, reporter
}

func fill(sys *stubSystem, status enum.OrderStatus, qty model.Quantity, remaining model.Quantity, price model.Price) {
	sys.lastCB(trade.Update{
		OrderID:      sys.nextID,
		Status:       status,
		FilledQty:    qty,
		RemainingQty: remaining,
		TradePrice:   price,
	})
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestLifecycleLong(t *testing.T) {
	pos, sys, reporter := newTestPosition(t, enum.PositionSideLong, 10)
	assert.Equal(t, enum.PositionStateNew, pos.State())

	require.NoError(t, pos.OpenAtMarket())
	assert.Equal(t, enum.PositionStateOpening, pos.State())
	assert.Equal(t, enum.OrderSideBuy, sys.lastSide)
	assert.Equal(t, model.Quantity(10), sys.lastQty)

	fill(sys, enum.OrderStatusPartialFilled, 4, 6, 10000)
	assert.Equal(t, enum.PositionStateOpening, pos.State())
	assert.Equal(t, model.Quantity(4), pos.Opened())

	fill(sys, enum.OrderStatusFilled, 6, 0, 10000)
	assert.Equal(t, enum.PositionStateOpen, pos.State())
	assert.Equal(t, model.Quantity(10), pos.Opened())
	assert.Equal(t, model.Price(10000), pos.OpenVWAP())

	require.NoError(t, pos.CloseAtMarket())
	assert.Equal(t, enum.PositionStateClosing, pos.State())
	assert.Equal(t, enum.OrderSideSell, sys.lastSide)

	fill(sys, enum.OrderStatusFilled, 10, 0, 10500)
	assert.Equal(t, enum.PositionStateClosed, pos.State())
	assert.Equal(t, model.Quantity(10), pos.Closed())

	// bought 10 @ 100.00, sold 10 @ 105.00
	assert.Equal(t, model.Notional(5000), pos.RealizedPnL())
	require.Len(t, reporter.reports, 1)
	assert.Equal(t, enum.PositionStateClosed, reporter.reports[0].State)
	assert.Equal(t, model.Notional(5000), reporter.reports[0].PnL)
}

func TestPnLShort(t *testing.T) {
	pos, sys, _ := newTestPosition(t, enum.PositionSideShort, 10)

	require.NoError(t, pos.OpenAtMarket())
	assert.Equal(t, enum.OrderSideSell, sys.lastSide)
	fill(sys, enum.OrderStatusFilled, 10, 0, 10000)

	require.NoError(t, pos.CloseAtMarket())
	assert.Equal(t, enum.OrderSideBuy, sys.lastSide)
	fill(sys, enum.OrderStatusFilled, 10, 0, 10500)

	// sold 10 @ 100.00, bought back 10 @ 105.00
	assert.Equal(t, model.Notional(-5000), pos.RealizedPnL())
}

func TestTransitionGuards(t *testing.T) {
	pos, sys, _ := newTestPosition(t, enum.PositionSideLong, 10)

	assert.ErrorIs(t, pos.CloseAtMarket(), ErrBadTransition)

	require.NoError(t, pos.OpenAtMarket())
	assert.ErrorIs(t, pos.OpenAtMarket(), ErrBadTransition)
	assert.ErrorIs(t, pos.CloseAtMarket(), ErrBadTransition)

	fill(sys, enum.OrderStatusFilled, 10, 0, 10000)
	assert.ErrorIs(t, pos.OpenAtMarket(), ErrBadTransition)
	require.NoError(t, pos.CloseAtMarket())
}

func TestQuantityInvariant(t *testing.T) {
	pos, sys, _ := newTestPosition(t, enum.PositionSideLong, 10)
	require.NoError(t, pos.OpenAtMarket())

	// a fill beyond the plan errors the position instead of being booked
	fill(sys, enum.OrderStatusFilled, 12, 0, 10000)
	assert.Equal(t, enum.PositionStateError, pos.State())
	assert.Equal(t, model.Quantity(0), pos.Opened())
}

func TestCancelDuringOpeningErrors(t *testing.T) {
	pos, sys, reporter := newTestPosition(t, enum.PositionSideLong, 10)
	require.NoError(t, pos.OpenAtMarket())

	fill(sys, enum.OrderStatusPartialFilled, 4, 6, 10000)
	fill(sys, enum.OrderStatusCancelled, 0, 6, 0)

	assert.Equal(t, enum.PositionStateError, pos.State())
	// quantities freeze where they were
	assert.Equal(t, model.Quantity(4), pos.Opened())
	assert.ErrorIs(t, pos.CloseAtMarket(), ErrBadTransition)
	require.Len(t, reporter.reports, 1)
	assert.Equal(t, enum.PositionStateError, reporter.reports[0].State)
}

func TestRiskDenyIsSynchronous(t *testing.T) {
	symbol, err := model.NewCrypto("BTC-USD", "SIM", "USD")
	require.NoError(t, err)
	sec, err := security.New(symbol, model.ScaleSpec{PriceScale: 2, QuantityScale: 0}, "sim")
	require.NoError(t, err)

	sys := &stubSystem{}
	pos, err := New(Config{
		Security: sec,
		System:   sys,
		Side:     enum.PositionSideLong,
		Qty:      10,
		Risk:     risk.NewEngine(risk.Limits{MaxOrderQty: 5}),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, pos.OpenAtMarket(), risk.ErrOrderQty)
	assert.Equal(t, enum.PositionStateNew, pos.State())
	assert.Nil(t, sys.lastCB)
}

func TestRiskExposureAccumulatesAcrossPositions(t *testing.T) {
	symbol, err := model.NewCrypto("BTC-USD", "SIM", "USD")
	require.NoError(t, err)
	sec, err := security.New(symbol, model.ScaleSpec{PriceScale: 2, QuantityScale: 0}, "sim")
	require.NoError(t, err)

	eng := risk.NewEngine(risk.Limits{MaxPositionQty: 10})
	open := func() (*Position, *stubSystem, error) {
		sys := &stubSystem{}
		pos, err := New(Config{
			Security: sec,
			System:   sys,
			Side:     enum.PositionSideLong,
			Qty:      8,
			Currency: "USD",
			Risk:     eng,
		})
		require.NoError(t, err)
		return pos, sys, pos.OpenAtMarket()
	}

	first, firstSys, err := open()
	require.NoError(t, err)
	fill(firstSys, enum.OrderStatusFilled, 8, 0, 10000)
	require.Equal(t, enum.PositionStateOpen, first.State())
	assert.EqualValues(t, 8, eng.Exposure(symbol.Key()))

	// a second 8-lot open would put net exposure at 16 against the 10 cap
	_, _, err = open()
	assert.ErrorIs(t, err, risk.ErrPositionQty)
	assert.EqualValues(t, 8, eng.Exposure(symbol.Key()))

	require.NoError(t, first.CloseAtMarket())
	fill(firstSys, enum.OrderStatusFilled, 8, 0, 10100)
	assert.EqualValues(t, 0, eng.Exposure(symbol.Key()))

	_, _, err = open()
	assert.NoError(t, err)
}

func TestSubscribeSeesTransitions(t *testing.T) {
	pos, sys, _ := newTestPosition(t, enum.PositionSideLong, 10)

	var states []enum.PositionState
	pos.Subscribe(func(p *Position) {
		states = append(states, p.State())
	})

	require.NoError(t, pos.OpenAtMarket())
	fill(sys, enum.OrderStatusFilled, 10, 0, 10000)
	require.NoError(t, pos.CloseAtMarket())
	fill(sys, enum.OrderStatusFilled, 10, 0, 10500)

	assert.Equal(t, []enum.PositionState{
		enum.PositionStateOpening,
		enum.PositionStateOpen,
		enum.PositionStateClosing,
		enum.PositionStateClosed,
	}, states)
}

func TestCancelOrderDelegates(t *testing.T) {
	pos, sys, _ := newTestPosition(t, enum.PositionSideLong, 10)

	assert.ErrorIs(t, pos.CancelOrder(), ErrNoActiveOrder)

	require.NoError(t, pos.OpenAtMarket())
	require.NoError(t, pos.CancelOrder())
	assert.Equal(t, []trade.OrderID{1}, sys.cancelled)

	fill(sys, enum.OrderStatusCancelled, 0, 10, 0)
	assert.ErrorIs(t, pos.CancelOrder(), ErrNoActiveOrder)
}
