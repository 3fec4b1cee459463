package fake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/engine"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/security"
	"main/internal/trade"
)

func zeroDelayGen(t *testing.T) *DelayGenerator {
	t.Helper()
	gen, err := NewDelayGenerator(DelayConfig{Seed: 1})
	require.NoError(t, err)
	return gen
}

func newTestVenue(t *testing.T, replay bool) (*engine.Context, *security.Security, *System) {
	t.Helper()
	ctx := engine.NewContext(engine.Settings{Replay: replay})
	symbol, err := model.NewCrypto("BTC-USD", "SIM", "USD")
	require.NoError(t, err)
	sec, err := security.New(symbol, model.ScaleSpec{PriceScale: 2, QuantityScale: 0}, "sim")
	require.NoError(t, err)
	require.NoError(t, ctx.RegisterSecurity(sec))

	venue := New(ctx, zeroDelayGen(t))
	require.NoError(t, venue.Connect(trade.ConnectConfig{Tag: "sim"}))
	t.Cleanup(venue.Close)
	return ctx, sec, venue
}

func seedBook(t *testing.T, sec *security.Security, bid, ask model.Price) {
	t.Helper()
	require.NoError(t, sec.UpdateBook(time.Now(),
		[]security.Level{{Price: bid, Qty: 100}},
		[]security.Level{{Price: ask, Qty: 100}},
	))
}

func TestDelayGeneratorValidation(t *testing.T) {
	_, err := NewDelayGenerator(DelayConfig{
		Execution: DelayRange{Min: 10 * time.Millisecond, Max: time.Millisecond},
	})
	assert.ErrorIs(t, err, ErrBadDelayRange)

	_, err = NewDelayGenerator(DelayConfig{Report: DelayRange{Min: -time.Millisecond}})
	assert.ErrorIs(t, err, ErrBadDelayRange)

	_, err = NewDelayGenerator(DelayConfig{FillChance: 1.5})
	assert.ErrorIs(t, err, ErrBadDelayRange)
}

func TestDelayGeneratorDeterministic(t *testing.T) {
	cfg := DelayConfig{
		Execution: DelayRange{Min: time.Millisecond, Max: 20 * time.Millisecond},
		Report:    DelayRange{Min: time.Millisecond, Max: 5 * time.Millisecond},
		Seed:      42,
	}
	a, err := NewDelayGenerator(cfg)
	require.NoError(t, err)
	b, err := NewDelayGenerator(cfg)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		assert.Equal(t, a.ExecDelay(), b.ExecDelay())
		assert.Equal(t, a.ReportDelay(), b.ReportDelay())
	}
}

func TestSynchronousContractChecks(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	cb := func(trade.Update) {}

	_, err := venue.SellAtMarket(sec, "USD", 0, trade.OrderParams{}, cb)
	assert.ErrorIs(t, err, trade.ErrBadOrder)

	_, err = venue.Buy(sec, "USD", 1, 0, trade.OrderParams{}, cb)
	assert.ErrorIs(t, err, trade.ErrBadOrder)

	_, err = venue.BuyAtMarket(sec, "USD", 1, trade.OrderParams{}, nil)
	assert.ErrorIs(t, err, trade.ErrBadOrder)

	_, err = venue.SellAtMarketWithStop(sec, "USD", 1, 100, trade.OrderParams{}, cb)
	assert.ErrorIs(t, err, trade.ErrNotSupported)
}

func TestNotConnected(t *testing.T) {
	ctx := engine.NewContext(engine.Settings{})
	symbol, err := model.NewCrypto("ETH-USD", "SIM", "USD")
	require.NoError(t, err)
	sec, err := security.New(symbol, model.ScaleSpec{PriceScale: 2, QuantityScale: 0}, "sim")
	require.NoError(t, err)

	venue := New(ctx, zeroDelayGen(t))
	_, err = venue.SellAtMarket(sec, "USD", 1, trade.OrderParams{}, func(trade.Update) {})
	assert.ErrorIs(t, err, trade.ErrNotConnected)
}

func TestOrderIDsUniqueAcrossGoroutines(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	seedBook(t, sec, 10000, 10001)

	const goroutines = 8
	const perGoroutine = 25

	var mu sync.Mutex
	seen := make(map[trade.OrderID]bool)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id, err := venue.BuyAtMarket(sec, "USD", 1, trade.OrderParams{}, func(trade.Update) {})
				if err != nil {
					t.Errorf("submit: %+v", err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("order id %d reused", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestOrderIDsStrictlyIncrease(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	seedBook(t, sec, 10000, 10001)

	var prev trade.OrderID
	for i := 0; i < 10; i++ {
		id, err := venue.SellAtMarket(sec, "USD", 1, trade.OrderParams{}, func(trade.Update) {})
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestLiveFillsAreFIFO(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	seedBook(t, sec, 10000, 10001)

	const n = 10
	var mu sync.Mutex
	var fills []trade.OrderID
	done := make(chan struct{})

	cb := func(u trade.Update) {
		if u.Status != enum.OrderStatusFilled {
			t.Errorf("unexpected status %s for id %d", u.Status, u.OrderID)
		}
		mu.Lock()
		fills = append(fills, u.OrderID)
		if len(fills) == n {
			close(done)
		}
		mu.Unlock()
	}

	var ids []trade.OrderID
	for i := 0; i < n; i++ {
		id, err := venue.SellAtMarket(sec, "USD", 1, trade.OrderParams{}, cb)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fills did not arrive")
	}
	assert.Equal(t, ids, fills)
}

func TestIOCUnmatchedCancels(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	seedBook(t, sec, 10000, 10001)

	done := make(chan trade.Update, 1)
	// sell far above the bid: no match, IOC must cancel instead of resting
	_, err := venue.SellIOC(sec, "USD", 5, 20000, trade.OrderParams{}, func(u trade.Update) {
		done <- u
	})
	require.NoError(t, err)

	select {
	case u := <-done:
		assert.Equal(t, enum.OrderStatusCancelled, u.Status)
		assert.Equal(t, model.Quantity(0), u.FilledQty)
		assert.Equal(t, model.Quantity(5), u.RemainingQty)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel report did not arrive")
	}
}

func TestGTCRetainedUntilMatch(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	seedBook(t, sec, 10000, 10001)

	done := make(chan trade.Update, 1)
	_, err := venue.Sell(sec, "USD", 5, 10100, trade.OrderParams{}, func(u trade.Update) {
		done <- u
	})
	require.NoError(t, err)

	select {
	case u := <-done:
		t.Fatalf("order should rest, got %s", u.Status)
	case <-time.After(50 * time.Millisecond):
	}

	// bid rises through the limit
	seedBook(t, sec, 10100, 10101)
	select {
	case u := <-done:
		assert.Equal(t, enum.OrderStatusFilled, u.Status)
		assert.Equal(t, model.Price(10100), u.TradePrice)
	case <-time.After(2 * time.Second):
		t.Fatal("fill did not arrive after the book moved")
	}
}

func TestCancelSemantics(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	seedBook(t, sec, 10000, 10001)

	updates := make(chan trade.Update, 4)
	id, err := venue.Sell(sec, "USD", 5, 20000, trade.OrderParams{}, func(u trade.Update) {
		updates <- u
	})
	require.NoError(t, err)

	require.NoError(t, venue.CancelOrder(id))
	select {
	case u := <-updates:
		require.Equal(t, enum.OrderStatusCancelled, u.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel report did not arrive")
	}

	// duplicate cancel of a cancelled order reports an error status, and the
	// report is delivered before CancelOrder returns
	require.NoError(t, venue.CancelOrder(id))
	select {
	case u := <-updates:
		assert.Equal(t, enum.OrderStatusError, u.Status)
		assert.Equal(t, id, u.OrderID)
	default:
		t.Fatal("error report was not delivered synchronously")
	}

	err = venue.CancelOrder(id + 1000)
	assert.ErrorIs(t, err, trade.ErrUnknownOrder)
}

func TestCompletedOrderRetentionBounded(t *testing.T) {
	_, sec, venue := newTestVenue(t, false)
	seedBook(t, sec, 10000, 10001)

	const extra = 8
	var wg sync.WaitGroup
	var firstID trade.OrderID
	for i := 0; i < doneLimit+extra; i++ {
		wg.Add(1)
		id, err := venue.SellAtMarket(sec, "USD", 1, trade.OrderParams{}, func(trade.Update) {
			wg.Done()
		})
		require.NoError(t, err)
		if i == 0 {
			firstID = id
		}
	}
	wg.Wait()

	venue.mu.Lock()
	kept := len(venue.done)
	venue.mu.Unlock()
	assert.Equal(t, doneLimit, kept)

	// the oldest completions have been forgotten
	assert.ErrorIs(t, venue.CancelOrder(firstID), trade.ErrUnknownOrder)
}

func TestReplayExecutionChainsDeterministically(t *testing.T) {
	ctx := engine.NewContext(engine.Settings{Replay: true})
	symbol, err := model.NewCrypto("BTC-USD", "SIM", "USD")
	require.NoError(t, err)
	sec, err := security.New(symbol, model.ScaleSpec{PriceScale: 2, QuantityScale: 0}, "sim")
	require.NoError(t, err)

	gen, err := NewDelayGenerator(DelayConfig{
		Execution: DelayRange{Min: 10 * time.Millisecond, Max: 10 * time.Millisecond},
		Seed:      7,
	})
	require.NoError(t, err)
	venue := New(ctx, gen)
	require.NoError(t, venue.Connect(trade.ConnectConfig{Tag: "sim"}))
	t.Cleanup(venue.Close)

	t0 := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, ctx.SetCurrentTime(t0, false))
	seedBook(t, sec, 10000, 10001)

	var mu sync.Mutex
	var fills []trade.OrderID
	var execTimes []time.Time
	cb := func(u trade.Update) {
		mu.Lock()
		fills = append(fills, u.OrderID)
		execTimes = append(execTimes, ctx.Now())
		mu.Unlock()
	}

	id1, err := venue.SellAtMarket(sec, "USD", 1, trade.OrderParams{}, cb)
	require.NoError(t, err)
	id2, err := venue.SellAtMarket(sec, "USD", 1, trade.OrderParams{}, cb)
	require.NoError(t, err)

	// nothing executes until the replay clock is advanced
	mu.Lock()
	assert.Empty(t, fills)
	mu.Unlock()

	require.NoError(t, ctx.SetCurrentTime(t0.Add(time.Second), true))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []trade.OrderID{id1, id2}, fills)
	require.Len(t, execTimes, 2)
	// execution instants chain strictly: the second order was submitted when
	// the first executed
	assert.True(t, execTimes[0].After(t0))
	assert.True(t, execTimes[1].After(execTimes[0]))
}
