package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model/enum"
)

func TestKillSwitch(t *testing.T) {
	e := NewEngine(Limits{})
	in := Intent{SymbolKey: "BTC-USD", Side: enum.OrderSideBuy, Qty: 1}

	require.NoError(t, e.Check(in))
	e.Kill()
	assert.ErrorIs(t, e.Check(in), ErrKillSwitch)
	e.Resume()
	assert.NoError(t, e.Check(in))
}

func TestOrderLimits(t *testing.T) {
	e := NewEngine(Limits{MaxOrderQty: 10, MaxOrderNotional: 1000})

	assert.NoError(t, e.Check(Intent{SymbolKey: "a", Side: enum.OrderSideBuy, Qty: 10, Notional: 1000}))
	assert.ErrorIs(t, e.Check(Intent{SymbolKey: "a", Side: enum.OrderSideBuy, Qty: 11}), ErrOrderQty)
	assert.ErrorIs(t, e.Check(Intent{SymbolKey: "a", Side: enum.OrderSideBuy, Qty: 1, Notional: 1001}), ErrNotional)
}

func TestPositionLimitUsesNetExposure(t *testing.T) {
	e := NewEngine(Limits{MaxPositionQty: 10})

	require.NoError(t, e.Check(Intent{SymbolKey: "a", Side: enum.OrderSideBuy, Qty: 8}))
	e.OnFill("a", enum.OrderSideBuy, 8)

	assert.ErrorIs(t, e.Check(Intent{SymbolKey: "a", Side: enum.OrderSideBuy, Qty: 3}), ErrPositionQty)
	// reducing the exposure is always within the limit
	assert.NoError(t, e.Check(Intent{SymbolKey: "a", Side: enum.OrderSideSell, Qty: 3}))
	// other symbols are tracked independently
	assert.NoError(t, e.Check(Intent{SymbolKey: "b", Side: enum.OrderSideBuy, Qty: 10}))

	// shorts count against the same bound
	e.OnFill("a", enum.OrderSideSell, 16)
	assert.EqualValues(t, -8, e.Exposure("a"))
	assert.ErrorIs(t, e.Check(Intent{SymbolKey: "a", Side: enum.OrderSideSell, Qty: 3}), ErrPositionQty)
}

func TestOrderRateWindow(t *testing.T) {
	e := NewEngine(Limits{MaxOrdersPer: 2, Window: time.Minute})
	now := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	in := Intent{SymbolKey: "a", Side: enum.OrderSideBuy, Qty: 1}
	require.NoError(t, e.Check(in))
	require.NoError(t, e.Check(in))
	assert.ErrorIs(t, e.Check(in), ErrRateLimited)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, e.Check(in))
}
